package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadpilot/internal/domain"
	"leadpilot/internal/repo"
)

// Error marks a dispatch failure: the downstream mutation for an action
// type did not land. Callers surface it but never retry.
type Error struct {
	ActionType domain.ActionType
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.ActionType, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dispatcher applies a proposal's payload to CRM state. Each action type
// mutates exactly one resource; preconditions that do not hold make the
// case a no-op rather than an error.
type Dispatcher struct {
	DB     *sql.DB
	Repo   repo.Repo
	Logger *zap.Logger
	Now    func() time.Time
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Dispatcher) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

func (d Dispatcher) fail(t domain.ActionType, err error) error {
	if err == nil {
		return nil
	}
	return &Error{ActionType: t, Err: err}
}

// Execute applies the proposal. At most one store write per case; no
// retries; failures surface to the caller.
func (d Dispatcher) Execute(ctx context.Context, p domain.Proposal) error {
	actionType := domain.ActionType(p.Type)
	payload, err := domain.DecodePayload(actionType, p.PayloadJSON)
	if err != nil {
		return d.fail(actionType, err)
	}
	contactID := ""
	if p.ContactID != nil {
		contactID = *p.ContactID
	}
	now := d.now().UTC().Format(time.RFC3339)

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return d.fail(actionType, err)
	}
	defer tx.Rollback()

	switch pl := payload.(type) {
	case *domain.SendMessagePayload:
		contact, err := d.Repo.GetContact(ctx, p.TenantID, contactID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return d.fail(actionType, err)
		}
		if err != nil || !hasChannelAddress(contact, pl.Channel) {
			d.logger().Debug("send_message skipped, no address for channel",
				zap.String("contact_id", contactID), zap.String("channel", pl.Channel))
			return nil
		}
		err = d.Repo.EnqueueMessage(ctx, tx, domain.OutboundMessage{
			ID:        uuid.New().String(),
			TenantID:  p.TenantID,
			ContactID: contactID,
			Channel:   pl.Channel,
			Body:      pl.Body,
			QueuedAt:  now,
		})
		if err != nil {
			return d.fail(actionType, err)
		}
	case *domain.UpdateLeadScorePayload:
		if err := d.Repo.UpdateContactScore(ctx, tx, p.TenantID, contactID, pl.Score, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return d.fail(actionType, err)
		}
	case *domain.AddTagPayload:
		if err := d.Repo.AddContactTag(ctx, tx, p.TenantID, contactID, pl.Tag, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return d.fail(actionType, err)
		}
	case *domain.AddTaskPayload:
		if contactID == "" {
			d.logger().Debug("add_task skipped, no contact reference", zap.String("proposal_id", p.ID))
			return nil
		}
		err := d.Repo.InsertTask(ctx, tx, domain.TaskRecord{
			ID:        uuid.New().String(),
			TenantID:  p.TenantID,
			ContactID: contactID,
			Title:     pl.Title,
			DueDate:   pl.DueDate,
			CreatedAt: now,
		})
		if err != nil {
			return d.fail(actionType, err)
		}
	case *domain.UpdateContactStatusPayload:
		if err := d.Repo.UpdateContactStatus(ctx, tx, p.TenantID, contactID, pl.Status, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return d.fail(actionType, err)
		}
	case *domain.BookAppointmentPayload:
		if pl.StartTime == "" || pl.EndTime == "" {
			d.logger().Debug("book_appointment skipped, missing times", zap.String("proposal_id", p.ID))
			return nil
		}
		err := d.Repo.InsertAppointment(ctx, tx, domain.Appointment{
			ID:        uuid.New().String(),
			TenantID:  p.TenantID,
			ContactID: contactID,
			Title:     pl.Title,
			StartTime: pl.StartTime,
			EndTime:   pl.EndTime,
			CreatedAt: now,
		})
		if err != nil {
			return d.fail(actionType, err)
		}
	case *domain.RunWorkflowPayload:
		inputJSON := ""
		if pl.Input != nil {
			b, err := json.Marshal(pl.Input)
			if err != nil {
				return d.fail(actionType, err)
			}
			inputJSON = string(b)
		}
		err := d.Repo.InsertWorkflowRun(ctx, tx, domain.WorkflowRun{
			ID:         uuid.New().String(),
			TenantID:   p.TenantID,
			WorkflowID: pl.WorkflowID,
			ContactID:  contactID,
			InputJSON:  inputJSON,
			CreatedAt:  now,
		})
		if err != nil {
			return d.fail(actionType, err)
		}
	default:
		return d.fail(actionType, fmt.Errorf("unhandled payload %T", payload))
	}
	if err := tx.Commit(); err != nil {
		return d.fail(actionType, err)
	}
	return nil
}

// Undo reverses the side effect of an auto-approved proposal where a
// compensation is defined: add_tag removes the tag, update_lead_score
// restores the previous score when the payload carried one. Every other
// type has no compensating effect.
func (d Dispatcher) Undo(ctx context.Context, p domain.Proposal) error {
	actionType := domain.ActionType(p.Type)
	payload, err := domain.DecodePayload(actionType, p.PayloadJSON)
	if err != nil {
		return d.fail(actionType, err)
	}
	contactID := ""
	if p.ContactID != nil {
		contactID = *p.ContactID
	}
	now := d.now().UTC().Format(time.RFC3339)

	switch pl := payload.(type) {
	case *domain.AddTagPayload:
		tx, err := d.DB.BeginTx(ctx, nil)
		if err != nil {
			return d.fail(actionType, err)
		}
		defer tx.Rollback()
		if err := d.Repo.RemoveContactTag(ctx, tx, p.TenantID, contactID, pl.Tag, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return d.fail(actionType, err)
		}
		if err := tx.Commit(); err != nil {
			return d.fail(actionType, err)
		}
	case *domain.UpdateLeadScorePayload:
		if pl.PreviousScore == nil {
			return nil
		}
		tx, err := d.DB.BeginTx(ctx, nil)
		if err != nil {
			return d.fail(actionType, err)
		}
		defer tx.Rollback()
		if err := d.Repo.UpdateContactScore(ctx, tx, p.TenantID, contactID, *pl.PreviousScore, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return d.fail(actionType, err)
		}
		if err := tx.Commit(); err != nil {
			return d.fail(actionType, err)
		}
	default:
		d.logger().Debug("undo has no compensation for type", zap.String("type", p.Type))
	}
	return nil
}

func hasChannelAddress(c domain.Contact, channel string) bool {
	switch channel {
	case "email":
		return c.Email != ""
	case "sms", "phone", "whatsapp":
		return c.Phone != ""
	default:
		return false
	}
}
