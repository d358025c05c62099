package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		in     string
		limit  int
		chunks int
	}{
		{name: "short", in: "hello", limit: 10, chunks: 1},
		{name: "exact", in: strings.Repeat("a", 10), limit: 10, chunks: 1},
		{name: "hard cut", in: strings.Repeat("a", 25), limit: 10, chunks: 3},
		{name: "newline cut", in: strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6), limit: 10, chunks: 2},
		{name: "runes", in: strings.Repeat("🔔", 12), limit: 10, chunks: 2},
	}
	for _, tt := range tests {
		got := splitText(tt.in, tt.limit)
		if len(got) != tt.chunks {
			t.Fatalf("%s: got %d chunks (%q), want %d", tt.name, len(got), got, tt.chunks)
		}
		for _, c := range got {
			if n := len([]rune(c)); n > tt.limit {
				t.Fatalf("%s: chunk of %d runes exceeds limit", tt.name, n)
			}
		}
	}
}

func TestSplitTextPrefersNewline(t *testing.T) {
	t.Parallel()
	got := splitText("aaaaaa\nbbbbbb", 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifySendError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want kit.FailureReason
	}{
		{name: "blocked", err: tele.ErrBlockedByUser, want: kit.ReasonBlocked},
		{name: "deactivated", err: tele.ErrUserIsDeactivated, want: kit.ReasonBlocked},
		{name: "chat not found", err: tele.ErrChatNotFound, want: kit.ReasonNotFound},
		{name: "generic 403", err: &tele.Error{Code: 403, Description: "Forbidden: something new"}, want: kit.ReasonBlocked},
		{name: "429", err: &tele.Error{Code: 429, Description: "Too Many Requests"}, want: kit.ReasonRateLimited},
		{name: "canceled", err: fmt.Errorf("send: %w", context.Canceled), want: kit.ReasonCanceled},
		{name: "network", err: fmt.Errorf("telebot: %w", timeoutErr{}), want: kit.ReasonNetwork},
		{name: "other", err: errors.New("weird"), want: kit.ReasonUnknown},
	}
	for _, tt := range tests {
		if got := ClassifySendError(tt.err); got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestMenuHashChangesWithCommands(t *testing.T) {
	t.Parallel()
	a := []kit.BotCommand{{Command: "start", Description: "subscribe"}}
	b := []kit.BotCommand{{Command: "start", Description: "subscribe"}, {Command: "stop", Description: "unsubscribe"}}
	if menuHash(a) == menuHash(b) {
		t.Fatal("hash did not change")
	}
	if menuHash(a) != menuHash([]kit.BotCommand{{Command: "start", Description: "subscribe"}}) {
		t.Fatal("hash not stable")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: " "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
