// Package transport defines the messaging gateway the bot talks through.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// Key is the subscriber identifier stored for this chat.
func (t ChatTarget) Key() string { return strconv.FormatInt(t.ChatID, 10) }

// ParseChatTarget turns a stored subscriber identifier back into a target.
func ParseChatTarget(id string) (ChatTarget, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n == 0 {
		return ChatTarget{}, fmt.Errorf("invalid chat id %q", id)
	}
	return ChatTarget{ChatID: n}, nil
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Sender delivers one text message.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand is a single entry of the bot command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// FailureReason classifies a failed send.
type FailureReason string

const (
	ReasonBlocked     FailureReason = "blocked"      // recipient blocked the bot or was deactivated
	ReasonNotFound    FailureReason = "not_found"    // chat does not exist
	ReasonRateLimited FailureReason = "rate_limited" // gateway asked us to slow down
	ReasonNetwork     FailureReason = "network"
	ReasonCanceled    FailureReason = "canceled"
	ReasonInvalidID   FailureReason = "invalid_id"
	ReasonUnknown     FailureReason = "unknown"
)

// ErrorClassifier maps a send error to a FailureReason.
type ErrorClassifier func(err error) FailureReason
