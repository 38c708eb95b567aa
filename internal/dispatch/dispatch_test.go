package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"leadpilot/internal/db"
	"leadpilot/internal/dispatch"
	"leadpilot/internal/domain"
	"leadpilot/internal/migrate"
	"leadpilot/internal/repo"
)

const testTenant = "tenant-1"

func newTestDispatcher(t *testing.T) dispatch.Dispatcher {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return dispatch.Dispatcher{
		DB:     conn,
		Repo:   repo.Repo{DB: conn},
		Logger: zap.NewNop(),
	}
}

func sendMessageProposal(contactID string) domain.Proposal {
	now := time.Now().UTC().Format(time.RFC3339)
	return domain.Proposal{
		ID:          "p1",
		TenantID:    testTenant,
		Type:        string(domain.ActionSendMessage),
		Status:      string(domain.StatusApproved),
		Title:       "follow up",
		ContactID:   &contactID,
		PayloadJSON: `{"channel":"email","body":"hi"}`,
		Source:      string(domain.SourceManual),
		CreatedAt:   now,
	}
}

func TestSendMessageMissingContactIsNoOp(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	if err := d.Execute(ctx, sendMessageProposal("ghost")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	msgs, err := d.Repo.ListMessages(ctx, testTenant, "ghost")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("unexpected outbox: %+v", msgs)
	}
}

func TestSendMessageSurfacesStoreFailure(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := d.DB.ExecContext(ctx, `DROP TABLE contacts`); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	err := d.Execute(ctx, sendMessageProposal("c1"))
	var dispErr *dispatch.Error
	if !errors.As(err, &dispErr) {
		t.Fatalf("execute = %v, want dispatch error", err)
	}
	if dispErr.ActionType != domain.ActionSendMessage {
		t.Fatalf("action type = %s, want send_message", dispErr.ActionType)
	}
}
