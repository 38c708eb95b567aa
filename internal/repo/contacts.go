package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"leadpilot/internal/domain"
)

const contactColumns = `id,tenant_id,name,email,phone,status,lead_score,tags_json,company,website,notes,created_at,updated_at`

func scanContact(scan func(dest ...any) error) (domain.Contact, error) {
	var c domain.Contact
	var email, phone, tagsJSON, company, website, notes sql.NullString
	err := scan(&c.ID, &c.TenantID, &c.Name, &email, &phone, &c.Status, &c.LeadScore,
		&tagsJSON, &company, &website, &notes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if email.Valid {
		c.Email = email.String
	}
	if phone.Valid {
		c.Phone = phone.String
	}
	if company.Valid {
		c.Company = company.String
	}
	if website.Valid {
		c.Website = website.String
	}
	if notes.Valid {
		c.Notes = notes.String
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &c.Tags); err != nil {
			return c, fmt.Errorf("contact %s tags: %w", c.ID, err)
		}
	}
	return c, nil
}

func (r Repo) InsertContact(ctx context.Context, c domain.Contact) error {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return err
	}
	if c.Tags == nil {
		tags = []byte("[]")
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO contacts(`+contactColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.TenantID, c.Name, nullable(c.Email), nullable(c.Phone), c.Status, c.LeadScore,
		string(tags), nullable(c.Company), nullable(c.Website), nullable(c.Notes), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetContact(ctx context.Context, tenantID, id string) (domain.Contact, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanContact(row.Scan)
}

func (r Repo) ListContacts(ctx context.Context, tenantID string, limit int) ([]domain.Contact, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id=? ORDER BY created_at DESC, id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListContactsWithTag returns contacts whose tag set includes the tag,
// newest first. Matching is done in Go against the JSON tag column.
func (r Repo) ListContactsWithTag(ctx context.Context, tenantID, tag string, limit int) ([]domain.Contact, error) {
	contacts, err := r.ListContacts(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}
	var res []domain.Contact
	for _, c := range contacts {
		if c.HasTag(tag) {
			res = append(res, c)
			if limit > 0 && len(res) >= limit {
				break
			}
		}
	}
	return res, nil
}

func (r Repo) updateContactTags(ctx context.Context, tx *sql.Tx, tenantID, id string, tags []string, now string) error {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE contacts SET tags_json=?, updated_at=? WHERE tenant_id=? AND id=?`,
		string(data), now, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddContactTag appends the tag if absent. Adding a present tag is a no-op.
func (r Repo) AddContactTag(ctx context.Context, tx *sql.Tx, tenantID, id, tag, now string) error {
	c, err := r.getContactTx(ctx, tx, tenantID, id)
	if err != nil {
		return err
	}
	if c.HasTag(tag) {
		return nil
	}
	return r.updateContactTags(ctx, tx, tenantID, id, append(c.Tags, tag), now)
}

// RemoveContactTag removes the tag. Removing an absent tag is a no-op.
func (r Repo) RemoveContactTag(ctx context.Context, tx *sql.Tx, tenantID, id, tag, now string) error {
	c, err := r.getContactTx(ctx, tx, tenantID, id)
	if err != nil {
		return err
	}
	if !c.HasTag(tag) {
		return nil
	}
	tags := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		if t != tag {
			tags = append(tags, t)
		}
	}
	return r.updateContactTags(ctx, tx, tenantID, id, tags, now)
}

func (r Repo) getContactTx(ctx context.Context, tx *sql.Tx, tenantID, id string) (domain.Contact, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanContact(row.Scan)
}

func (r Repo) UpdateContactScore(ctx context.Context, tx *sql.Tx, tenantID, id string, score int, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contacts SET lead_score=?, updated_at=? WHERE tenant_id=? AND id=?`, score, now, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateContactStatus(ctx context.Context, tx *sql.Tx, tenantID, id, status, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE contacts SET status=?, updated_at=? WHERE tenant_id=? AND id=?`, status, now, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateContactEnrichment fills enrichment fields; empty inputs leave the
// stored value untouched.
func (r Repo) UpdateContactEnrichment(ctx context.Context, tenantID, id, company, website, notes, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE contacts SET
company=COALESCE(?, company), website=COALESCE(?, website), notes=COALESCE(?, notes), updated_at=?
WHERE tenant_id=? AND id=?`,
		nullable(company), nullable(website), nullable(notes), now, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) EnqueueMessage(ctx context.Context, tx *sql.Tx, m domain.OutboundMessage) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO outbound_messages(id,tenant_id,contact_id,channel,body,queued_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.TenantID, m.ContactID, m.Channel, m.Body, m.QueuedAt)
	return err
}

func (r Repo) ListMessages(ctx context.Context, tenantID, contactID string) ([]domain.OutboundMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,contact_id,channel,body,queued_at FROM outbound_messages
WHERE tenant_id=? AND contact_id=? ORDER BY queued_at DESC`, tenantID, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OutboundMessage
	for rows.Next() {
		var m domain.OutboundMessage
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ContactID, &m.Channel, &m.Body, &m.QueuedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.TaskRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,tenant_id,contact_id,title,due_date,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.TenantID, t.ContactID, t.Title, nullable(t.DueDate), t.CreatedAt)
	return err
}

func (r Repo) ListTasks(ctx context.Context, tenantID, contactID string) ([]domain.TaskRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,contact_id,title,due_date,created_at FROM tasks
WHERE tenant_id=? AND contact_id=? ORDER BY created_at DESC`, tenantID, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskRecord
	for rows.Next() {
		var t domain.TaskRecord
		var due sql.NullString
		if err := rows.Scan(&t.ID, &t.TenantID, &t.ContactID, &t.Title, &due, &t.CreatedAt); err != nil {
			return nil, err
		}
		if due.Valid {
			t.DueDate = due.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertAppointment(ctx context.Context, tx *sql.Tx, a domain.Appointment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO appointments(id,tenant_id,contact_id,title,start_time,end_time,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.TenantID, a.ContactID, a.Title, a.StartTime, a.EndTime, a.CreatedAt)
	return err
}

func (r Repo) InsertWorkflowRun(ctx context.Context, tx *sql.Tx, w domain.WorkflowRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflow_runs(id,tenant_id,workflow_id,contact_id,input_json,created_at) VALUES (?,?,?,?,?,?)`,
		w.ID, w.TenantID, w.WorkflowID, nullable(w.ContactID), nullable(w.InputJSON), w.CreatedAt)
	return err
}
