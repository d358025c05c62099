package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/storage"
	"remindbot/internal/subscription"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type reply struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	replies []reply
	menu    []kit.BotCommand
}

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, reply{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(a.replies)}, nil
}

func (a *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	return nil
}

func (a *fakeAdapter) last(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return a.replies[len(a.replies)-1].text
}

func (a *fakeAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.replies)
}

type fixedSchedule []scheduler.EntryInfo

func (s fixedSchedule) Entries() []scheduler.EntryInfo { return s }

type brokenSet struct{ storage.SetStore }

var errDisk = errors.New("disk full")

func (brokenSet) Add(context.Context, string) error         { return errDisk }
func (brokenSet) Remove(context.Context, string) error      { return errDisk }
func (brokenSet) Members(context.Context) ([]string, error) { return nil, errDisk }

type harness struct {
	m     *CommandManager
	a     *fakeAdapter
	reg   *subscription.Registry
	prefs *subscription.Preferences
}

func newHarness(t *testing.T, sched Schedule) *harness {
	t.Helper()
	stores := storage.NewMemory()
	h := &harness{
		a:     &fakeAdapter{},
		reg:   subscription.NewRegistry(stores.Subscribers, logx.Nop()),
		prefs: subscription.NewPreferences(stores.Repeats, logx.Nop()),
	}
	h.m = NewCommandManager(logx.Nop(), h.a, 4)
	h.m.SetRegistry(BotCommands(Deps{Subscriptions: h.reg, Prefs: h.prefs, Schedule: sched}))
	return h
}

func msg(chat int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: chat, Text: text}}
}

func (h *harness) send(t *testing.T, chat int64, text string) string {
	t.Helper()
	if err := h.m.Handle(context.Background(), msg(chat, text)); err != nil {
		t.Fatalf("%s: %v", text, err)
	}
	return h.a.last(t)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if got := h.send(t, 42, "/start"); got != replySubscribed {
		t.Fatalf("reply = %q", got)
	}
	if ok, _ := h.reg.Contains(ctx, "42"); !ok {
		t.Fatal("42 not subscribed")
	}
	h.send(t, 42, "/start")
	if ids, _ := h.reg.List(ctx); len(ids) != 1 {
		t.Fatalf("ids = %v", ids)
	}

	if got := h.send(t, 42, "/stop"); got != replyUnsubscribed {
		t.Fatalf("reply = %q", got)
	}
	if ok, _ := h.reg.Contains(ctx, "42"); ok {
		t.Fatal("42 still subscribed")
	}
	// idempotent
	if got := h.send(t, 42, "/stop"); got != replyUnsubscribed {
		t.Fatalf("reply = %q", got)
	}
}

func TestReplays(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"/replays", replyReplaysUsage + "\nСейчас: 1"},
		{"/replays abc", replyReplaysUsage},
		{"/replays -3", replyReplaysUsage},
		{"/replays 2.5", replyReplaysUsage},
		{"/replays 0", replyReplaysRange},
		{"/replays 11", replyReplaysRange},
		{"/replays 99999999999999999999999", replyReplaysRange},
		{"/replays 3", "🔁 Повторов установлено: 3"},
		{"/replays", replyReplaysUsage + "\nСейчас: 3"},
		{"/repeats 10", "🔁 Повторов установлено: 10"},
	}
	for _, tt := range tests {
		if got := h.send(t, 7, tt.text); got != tt.want {
			t.Fatalf("%s: reply = %q, want %q", tt.text, got, tt.want)
		}
	}
	if n := h.prefs.GetRepeatCount(ctx, "7"); n != 10 {
		t.Fatalf("repeat count = %d, want 10", n)
	}
}

func TestInvalidReplaysLeavesStoredValue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.send(t, 7, "/replays 4")
	h.send(t, 7, "/replays 12")
	h.send(t, 7, "/replays x")
	if n := h.prefs.GetRepeatCount(context.Background(), "7"); n != 4 {
		t.Fatalf("repeat count = %d, want 4", n)
	}
}

func TestHelpAndTest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	want := strings.Join([]string{
		"📋 Команды:",
		"/start — включить напоминания",
		"/stop — отключить напоминания",
		"/replays <число> — установить количество повторов",
		"/test — проверить работу бота",
		"/status — статус подписки",
		"/help — справка",
	}, "\n")
	if got := h.send(t, 1, "/help"); got != want {
		t.Fatalf("help =\n%s\nwant\n%s", got, want)
	}
	if got := h.send(t, 1, "/test@remind_bot"); got != replyAlive {
		t.Fatalf("test reply = %q", got)
	}
	if got := h.send(t, 1, "/TEST"); got != replyAlive {
		t.Fatalf("test reply = %q", got)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	sched := fixedSchedule{
		{Name: "21:01", Next: time.Date(2026, 3, 1, 21, 1, 0, 0, loc)},
		{Name: "09:01", Next: time.Date(2026, 3, 2, 9, 1, 0, 0, loc)},
		{Name: "19:01", Next: time.Date(2026, 3, 1, 19, 1, 0, 0, loc)},
	}
	h := newHarness(t, sched)

	got := h.send(t, 5, "/status")
	if !strings.HasPrefix(got, "❌ Подписка не активна") {
		t.Fatalf("status = %q", got)
	}

	h.send(t, 5, "/start")
	h.send(t, 5, "/replays 2")
	got = h.send(t, 5, "/status")
	for _, part := range []string{"✅ Подписка активна", "🔁 Повторов: 2", "01.03 19:01, 01.03 21:01, 02.03 09:01"} {
		if !strings.Contains(got, part) {
			t.Fatalf("status %q lacks %q", got, part)
		}
	}
}

func TestStorageFailureReply(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	stores := storage.NewMemory()
	m := NewCommandManager(logx.Nop(), a, 1)
	m.SetRegistry(BotCommands(Deps{
		Subscriptions: subscription.NewRegistry(brokenSet{}, logx.Nop()),
		Prefs:         subscription.NewPreferences(stores.Repeats, logx.Nop()),
	}))

	err := m.Handle(context.Background(), msg(3, "/start"))
	var perr *subscription.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
	if got := a.last(t); got != replyStorageFailure {
		t.Fatalf("reply = %q", got)
	}
	if strings.Contains(a.last(t), "disk full") {
		t.Fatal("storage details leaked to the user")
	}
}

func TestUnknownAndPlainText(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	if err := h.m.Handle(context.Background(), msg(1, "hello there")); err != nil {
		t.Fatal(err)
	}
	if h.a.count() != 0 {
		t.Fatal("plain text should be ignored")
	}
	if got := h.send(t, 1, "/nope"); !strings.Contains(got, "/help") {
		t.Fatalf("unknown reply = %q", got)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	a := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), a, 1)
	m.SetRegistry([]Command{{
		Name:   "boom",
		Handle: func(context.Context, *Request) error { panic("kaboom") },
	}})
	err := m.Handle(context.Background(), msg(1, "/boom"))
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v", err)
	}
}

func TestPublishMenu(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	if err := h.m.PublishMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, c := range h.a.menu {
		names = append(names, c.Command)
	}
	if got := strings.Join(names, ","); got != "start,stop,replays,test,status,help" {
		t.Fatalf("menu = %s", got)
	}
	if h.a.menu[2].Description != "Установить количество повторов" {
		t.Fatalf("replays description = %q", h.a.menu[2].Description)
	}
}

func TestDispatchLoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	updates := make(chan kit.Update, 4)
	updates <- msg(10, "/start")
	updates <- msg(11, "/start")
	updates <- msg(12, "just text")
	close(updates)

	if err := h.m.DispatchLoop(context.Background(), updates); err != nil {
		t.Fatal(err)
	}
	ids, err := h.reg.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}
	if h.a.count() != 2 {
		t.Fatalf("replies = %d, want 2", h.a.count())
	}
	if h.m.Supervisor() != nil {
		t.Fatal("supervisor should be cleared after the loop returns")
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"start", "start"},
		{" Replays ", "replays"},
		{"set-repeats", "set_repeats"},
		{"a__b", "a_b"},
		{"_x_", "x"},
		{"команда", ""},
		{strings.Repeat("a", 40), strings.Repeat("a", 32)},
	}
	for _, tt := range tests {
		if got := sanitizeTelegramCommand(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
