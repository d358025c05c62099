package adapter

import (
	"context"
	"errors"
	"net"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
)

// ClassifySendError maps telebot send errors to delivery failure reasons.
func ClassifySendError(err error) kit.FailureReason {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return kit.ReasonCanceled
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrNotStartedByUser):
		return kit.ReasonBlocked
	case errors.Is(err, tele.ErrChatNotFound):
		return kit.ReasonNotFound
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.ReasonRateLimited
	}
	var terr *tele.Error
	if errors.As(err, &terr) {
		switch terr.Code {
		case 403:
			return kit.ReasonBlocked
		case 429:
			return kit.ReasonRateLimited
		case 400:
			if strings.Contains(strings.ToLower(terr.Description), "chat not found") {
				return kit.ReasonNotFound
			}
		}
		return kit.ReasonUnknown
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return kit.ReasonNetwork
	}
	return kit.ReasonUnknown
}
