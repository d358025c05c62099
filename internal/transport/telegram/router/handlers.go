package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"remindbot/internal/subscription"
	"remindbot/internal/task/scheduler"
	logx "remindbot/pkg/logx"
)

const (
	replySubscribed     = "✅ Вы подписаны на напоминания."
	replyUnsubscribed   = "❌ Вы отписались от напоминаний."
	replyReplaysUsage   = "❗ Использование: /replays <число от 1 до 10>"
	replyReplaysRange   = "❗ Введите число от 1 до 10."
	replyAlive          = "✅ Бот работает!"
	replyStorageFailure = "⚠️ Не удалось сохранить изменения. Попробуйте позже."
)

// Subscriptions is the part of the subscriber registry the commands use.
type Subscriptions interface {
	Subscribe(ctx context.Context, id string) error
	Unsubscribe(ctx context.Context, id string) error
	Contains(ctx context.Context, id string) (bool, error)
}

// RepeatPrefs is the part of the preference store the commands use.
type RepeatPrefs interface {
	SetRepeatCount(ctx context.Context, id string, n int) error
	GetRepeatCount(ctx context.Context, id string) int
}

// Schedule reports the upcoming broadcast times for /status.
type Schedule interface {
	Entries() []scheduler.EntryInfo
}

type Deps struct {
	Subscriptions Subscriptions
	Prefs         RepeatPrefs
	Schedule      Schedule // optional
}

// BotCommands returns the user-facing commands in menu order. /help is added
// by SetRegistry.
func BotCommands(d Deps) []Command {
	return []Command{
		{
			Name:        "start",
			Description: "Включить напоминания",
			Handle:      d.start,
		},
		{
			Name:        "stop",
			Description: "Отключить напоминания",
			Handle:      d.stop,
		},
		{
			Name:        "replays",
			Aliases:     []string{"repeats"},
			Description: "Установить количество повторов",
			Usage:       "/replays <число>",
			Handle:      d.replays,
		},
		{
			Name:        "test",
			Description: "Проверить работу бота",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, replyAlive)
			},
		},
		{
			Name:        "status",
			Description: "Статус подписки",
			Handle:      d.status,
		},
	}
}

func (d Deps) start(ctx context.Context, req *Request) error {
	if err := d.Subscriptions.Subscribe(ctx, req.Chat.Key()); err != nil {
		return storageFailure(ctx, req, err)
	}
	return req.Reply(ctx, replySubscribed)
}

func (d Deps) stop(ctx context.Context, req *Request) error {
	if err := d.Subscriptions.Unsubscribe(ctx, req.Chat.Key()); err != nil {
		return storageFailure(ctx, req, err)
	}
	return req.Reply(ctx, replyUnsubscribed)
}

func (d Deps) replays(ctx context.Context, req *Request) error {
	id := req.Chat.Key()
	if len(req.Args) == 0 {
		cur := d.Prefs.GetRepeatCount(ctx, id)
		return req.Reply(ctx, fmt.Sprintf("%s\nСейчас: %d", replyReplaysUsage, cur))
	}

	n, err := subscription.ParseRepeatCount(req.Args[0])
	var verr *subscription.ValidationError
	switch {
	case errors.Is(err, subscription.ErrRepeatSyntax):
		return req.Reply(ctx, replyReplaysUsage)
	case errors.As(err, &verr):
		return req.Reply(ctx, replyReplaysRange)
	case err != nil:
		return err
	}

	if err := d.Prefs.SetRepeatCount(ctx, id, n); err != nil {
		if errors.As(err, &verr) {
			return req.Reply(ctx, replyReplaysRange)
		}
		return storageFailure(ctx, req, err)
	}
	return req.Reply(ctx, fmt.Sprintf("🔁 Повторов установлено: %d", n))
}

func (d Deps) status(ctx context.Context, req *Request) error {
	id := req.Chat.Key()
	subscribed, err := d.Subscriptions.Contains(ctx, id)
	if err != nil {
		return storageFailure(ctx, req, err)
	}

	var b strings.Builder
	if subscribed {
		b.WriteString("✅ Подписка активна")
	} else {
		b.WriteString("❌ Подписка не активна (/start)")
	}
	fmt.Fprintf(&b, "\n🔁 Повторов: %d", d.Prefs.GetRepeatCount(ctx, id))

	if d.Schedule != nil {
		var next []time.Time
		for _, e := range d.Schedule.Entries() {
			if !e.Next.IsZero() {
				next = append(next, e.Next)
			}
		}
		sort.Slice(next, func(i, j int) bool { return next[i].Before(next[j]) })
		times := make([]string, 0, len(next))
		for _, t := range next {
			times = append(times, t.Format("02.01 15:04"))
		}
		if len(times) > 0 {
			b.WriteString("\n⏰ Ближайшие рассылки: " + strings.Join(times, ", "))
		}
	}
	return req.Reply(ctx, b.String())
}

// storageFailure answers with a generic message; the details go to the log
// only.
func storageFailure(ctx context.Context, req *Request, err error) error {
	req.Logger.Error("command failed: storage error", logx.Err(err))
	_ = req.Reply(ctx, replyStorageFailure)
	return err
}
