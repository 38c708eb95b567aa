package stats_test

import (
	"testing"

	"leadpilot/internal/config"
	"leadpilot/internal/domain"
	"leadpilot/internal/stats"
)

func TestSuppressed(t *testing.T) {
	cfg := config.Default("t1")
	cases := []struct {
		name      string
		approved  int
		dismissed int
		want      bool
	}{
		{"no history", 0, 0, false},
		{"below sample floor", 0, 4, false},
		{"all dismissed at floor", 0, 5, true},
		{"ratio exactly at threshold", 3, 7, false},
		{"ratio above threshold", 2, 8, true},
		{"mostly approved", 8, 2, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := domain.ProposalStat{
				ActionType:     "send_message",
				ApprovedCount:  tc.approved,
				DismissedCount: tc.dismissed,
			}
			if got := stats.Suppressed(s, cfg); got != tc.want {
				t.Fatalf("Suppressed(approved=%d dismissed=%d) = %v, want %v",
					tc.approved, tc.dismissed, got, tc.want)
			}
		})
	}
}

func TestSuppressedIgnoresAutoApprovals(t *testing.T) {
	// auto approvals carry no human signal and never count toward the gate
	s := domain.ProposalStat{
		ActionType:        "add_tag",
		AutoApprovedCount: 50,
		DismissedCount:    4,
	}
	if stats.Suppressed(s, config.Default("t1")) {
		t.Fatalf("auto approvals must not trip suppression")
	}
}
