package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud-cost/internal/errors"
)

// TestStripMarkup tests chat markup removal
func TestStripMarkup(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{
			name:     "bold and emoji",
			in:       ":moneybag: Usage for *atlas* on 2026-08-10 :moneybag:",
			expected: " Usage for atlas on 2026-08-10",
		},
		{
			name:     "alarm shortcode",
			in:       ":awooga:insufficient:awooga:",
			expected: "insufficient",
		},
		{
			name:     "plain text untouched",
			in:       "2 x m5.large (1 stopped)",
			expected: "2 x m5.large (1 stopped)",
		},
		{
			name:     "trailing spaces trimmed per line",
			in:       "*Total:* 15 \nnext",
			expected: "Total: 15\nnext",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkup(tt.in); got != tt.expected {
				t.Errorf("StripMarkup = %q, want %q", got, tt.expected)
			}
		})
	}
}

// TestTextNotifier tests plain-text delivery
func TestTextNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewTextNotifier(&buf)

	if err := n.Notify(context.Background(), "#atlas", "*Total:* 15"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := buf.String(); got != "Total: 15\n" {
		t.Errorf("written = %q", got)
	}
}

// TestSlackNotifier tests posting and failure classification
func TestSlackNotifier(t *testing.T) {
	ctx := context.Background()

	t.Run("successful post", func(t *testing.T) {
		var got slackMessage
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := r.Header.Get("Authorization"); auth != "Bearer xoxb-token" {
				t.Errorf("authorization = %q", auth)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode request: %v", err)
			}
			w.Write([]byte(`{"ok":true}`))
		}))
		defer server.Close()

		n := NewSlackNotifier("xoxb-token", server.URL)
		if err := n.Notify(ctx, "#atlas", "report body"); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if got.Channel != "#atlas" || got.Text != "report body" {
			t.Errorf("posted %+v", got)
		}
	})

	t.Run("missing token is a config error", func(t *testing.T) {
		n := NewSlackNotifier("", "")
		err := n.Notify(ctx, "#atlas", "body")
		if !errors.IsType(err, errors.TypeConfig) {
			t.Errorf("error = %v, want config error", err)
		}
	})

	t.Run("rate limiting is retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		n := NewSlackNotifier("xoxb-token", server.URL)
		err := n.Notify(ctx, "#atlas", "body")
		if !errors.IsRetryable(err) {
			t.Errorf("error = %v, want retryable", err)
		}
	})

	t.Run("api rejection is fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
		}))
		defer server.Close()

		n := NewSlackNotifier("xoxb-token", server.URL)
		err := n.Notify(ctx, "#atlas", "body")
		if err == nil {
			t.Fatal("expected error")
		}
		if errors.IsRetryable(err) {
			t.Error("rejection must not be retryable")
		}
		if !strings.Contains(err.Error(), "channel_not_found") {
			t.Errorf("error = %v", err)
		}
	})
}

// TestFanout tests fan-out delivery
func TestFanout(t *testing.T) {
	var first, second bytes.Buffer
	f := Fanout{NewTextNotifier(&first), NewTextNotifier(&second)}

	if err := f.Notify(context.Background(), "#atlas", "body"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if first.String() != "body\n" || second.String() != "body\n" {
		t.Errorf("deliveries = %q, %q", first.String(), second.String())
	}
}
