package domain

import (
	"encoding/json"
	"fmt"
)

// One payload struct per action type. Proposals persist the raw JSON;
// DecodePayload recovers the typed form so the dispatcher's switch stays
// exhaustive over ActionTypes.

type SendMessagePayload struct {
	Channel string `json:"channel"`
	Body    string `json:"body"`
}

type UpdateLeadScorePayload struct {
	Score         int  `json:"score"`
	PreviousScore *int `json:"previous_score,omitempty"`
}

type AddTagPayload struct {
	Tag string `json:"tag"`
}

type AddTaskPayload struct {
	Title   string `json:"title"`
	DueDate string `json:"due_date,omitempty"`
}

type UpdateContactStatusPayload struct {
	Status string `json:"status"`
}

type BookAppointmentPayload struct {
	Title     string `json:"title"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type RunWorkflowPayload struct {
	WorkflowID string         `json:"workflow_id"`
	Input      map[string]any `json:"input,omitempty"`
}

// DecodePayload parses raw into the payload struct for the action type.
func DecodePayload(t ActionType, raw string) (any, error) {
	if raw == "" {
		raw = "{}"
	}
	decode := func(dst any) (any, error) {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("payload for %s: %w", t, err)
		}
		return dst, nil
	}
	switch t {
	case ActionSendMessage:
		return decode(&SendMessagePayload{})
	case ActionUpdateLeadScore:
		return decode(&UpdateLeadScorePayload{})
	case ActionAddTag:
		return decode(&AddTagPayload{})
	case ActionAddTask:
		return decode(&AddTaskPayload{})
	case ActionUpdateContactStatus:
		return decode(&UpdateContactStatusPayload{})
	case ActionBookAppointment:
		return decode(&BookAppointmentPayload{})
	case ActionRunWorkflow:
		return decode(&RunWorkflowPayload{})
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
}

// EncodePayload marshals a typed payload back to its stored JSON form.
func EncodePayload(p any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}
