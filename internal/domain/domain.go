package domain

// ActionType is the closed set of mutations an AI advisor may propose.
type ActionType string

const (
	ActionSendMessage         ActionType = "send_message"
	ActionUpdateLeadScore     ActionType = "update_lead_score"
	ActionBookAppointment     ActionType = "book_appointment"
	ActionRunWorkflow         ActionType = "run_workflow"
	ActionUpdateContactStatus ActionType = "update_contact_status"
	ActionAddTag              ActionType = "add_tag"
	ActionAddTask             ActionType = "add_task"
)

// ActionTypes lists every valid action type in a stable order.
var ActionTypes = []ActionType{
	ActionSendMessage,
	ActionUpdateLeadScore,
	ActionBookAppointment,
	ActionRunWorkflow,
	ActionUpdateContactStatus,
	ActionAddTag,
	ActionAddTask,
}

func (t ActionType) Valid() bool {
	for _, v := range ActionTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Tier is the autonomy policy for a (tenant, action type) pair.
type Tier string

const (
	TierAutoApprove            Tier = "auto_approve"
	TierRequireApproval        Tier = "require_approval"
	TierRequireApprovalPreview Tier = "require_approval_preview"
)

func (t Tier) Valid() bool {
	switch t {
	case TierAutoApprove, TierRequireApproval, TierRequireApprovalPreview:
		return true
	}
	return false
}

// Status of a proposal. pending -> approved|dismissed; auto_approved is
// terminal and only entered at creation time. Undo moves auto_approved
// to dismissed.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusDismissed    Status = "dismissed"
	StatusAutoApproved Status = "auto_approved"
)

// Source of a proposal.
type Source string

const (
	SourceManual    Source = "manual"
	SourceProactive Source = "proactive"
)

type Proposal struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenant_id"`
	Type        string  `json:"type" enum:"send_message,update_lead_score,book_appointment,run_workflow,update_contact_status,add_tag,add_task"`
	Status      string  `json:"status" enum:"pending,approved,dismissed,auto_approved"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Module      string  `json:"module,omitempty"`
	ContactID   *string `json:"contact_id,omitempty"`
	ContactName *string `json:"contact_name,omitempty"`
	PayloadJSON string  `json:"payload_json"`
	Source      string  `json:"source" enum:"manual,proactive"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ResolvedAt  *string `json:"resolved_at,omitempty" format:"date-time"`
	// Duplicate marks a Create call that returned an existing pending
	// proposal instead of inserting a new row. Never persisted.
	Duplicate bool `json:"duplicate,omitempty"`
}

type AutonomySetting struct {
	TenantID   string `json:"tenant_id"`
	ActionType string `json:"action_type"`
	Tier       string `json:"tier" enum:"auto_approve,require_approval,require_approval_preview"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type ProposalStat struct {
	TenantID          string `json:"tenant_id"`
	ActionType        string `json:"action_type"`
	ApprovedCount     int    `json:"approved_count"`
	DismissedCount    int    `json:"dismissed_count"`
	AutoApprovedCount int    `json:"auto_approved_count"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

// Outcome selects which ProposalStat counter a resolution increments.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeDismissed    Outcome = "dismissed"
	OutcomeAutoApproved Outcome = "auto_approved"
)

type Contact struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenant_id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone,omitempty"`
	Status    string   `json:"status"`
	LeadScore int      `json:"lead_score"`
	Tags      []string `json:"tags,omitempty"`
	Company   string   `json:"company,omitempty"`
	Website   string   `json:"website,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

// HasTag reports whether the contact carries the tag.
func (c Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type OutboundMessage struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	ContactID string `json:"contact_id"`
	Channel   string `json:"channel"`
	Body      string `json:"body"`
	QueuedAt  string `json:"queued_at" format:"date-time"`
}

type TaskRecord struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	ContactID string `json:"contact_id"`
	Title     string `json:"title"`
	DueDate   string `json:"due_date,omitempty" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Appointment struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	ContactID string `json:"contact_id"`
	Title     string `json:"title"`
	StartTime string `json:"start_time" format:"date-time"`
	EndTime   string `json:"end_time" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WorkflowRun struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	WorkflowID string `json:"workflow_id"`
	ContactID  string `json:"contact_id,omitempty"`
	InputJSON  string `json:"input_json,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// BatchJobStatus for the in-memory enrichment job runner.
type BatchJobStatus string

const (
	BatchProcessing BatchJobStatus = "processing"
	BatchCompleted  BatchJobStatus = "completed"
	BatchFailed     BatchJobStatus = "failed"
)

// BatchItemStatus is the per-item outcome inside a batch job.
type BatchItemStatus string

const (
	ItemSuccess BatchItemStatus = "success"
	ItemFailed  BatchItemStatus = "failed"
	ItemSkipped BatchItemStatus = "skipped"
)

type BatchItemResult struct {
	ItemID string          `json:"item_id"`
	Status BatchItemStatus `json:"status" enum:"success,failed,skipped"`
	Detail string          `json:"detail,omitempty"`
}

// BatchJob is ephemeral: it lives only in the runner's store and is
// swept after the retention window.
type BatchJob struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Status      BatchJobStatus    `json:"status" enum:"processing,completed,failed"`
	Total       int               `json:"total"`
	Processed   int               `json:"processed"`
	Results     []BatchItemResult `json:"results"`
	StartedAt   string            `json:"started_at" format:"date-time"`
	CompletedAt *string           `json:"completed_at,omitempty" format:"date-time"`
}

type SearchCacheEntry struct {
	TenantID    string `json:"tenant_id"`
	Kind        string `json:"kind"`
	Query       string `json:"query"`
	ResultText  string `json:"result_text"`
	EntriesJSON string `json:"entries_json"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	TenantID   string `json:"tenant_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
