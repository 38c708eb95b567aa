package oracle

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

func TestRetryAfterHint(t *testing.T) {
	cases := []struct {
		message string
		want    time.Duration
	}{
		{"Rate limit reached for gpt-4o-mini. Please try again in 1.2s.", 1200 * time.Millisecond},
		{"Rate limit reached. Please try again in 20s.", 20 * time.Second},
		{"Rate limit reached. Please try again in 350ms.", 350 * time.Millisecond},
		{"Rate limit reached. Please try again in 1m.", time.Minute},
		{"You exceeded your current quota.", defaultRetryAfter},
		{"", defaultRetryAfter},
	}
	for _, tc := range cases {
		if got := retryAfterHint(tc.message); got != tc.want {
			t.Fatalf("retryAfterHint(%q) = %v, want %v", tc.message, got, tc.want)
		}
	}
}

func TestMapAPIError(t *testing.T) {
	err := mapAPIError(&openai.APIError{
		HTTPStatusCode: http.StatusTooManyRequests,
		Message:        "Rate limit reached. Please try again in 3s.",
	})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("mapped error = %v, want rate limit", err)
	}
	if rl.RetryAfter != 3*time.Second {
		t.Fatalf("retry after = %v, want 3s", rl.RetryAfter)
	}

	plain := mapAPIError(errors.New("boom"))
	if errors.As(plain, &rl) {
		t.Fatalf("non-429 mapped to rate limit: %v", plain)
	}
}
