package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	DefaultWorkers        = 16
	DefaultCommandTimeout = 15 * time.Second
)

type Command struct {
	Name        string   // without the leading slash
	Aliases     []string // extra names, not shown in the menu
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// CommandManager routes slash commands from the gateway to handlers.
type CommandManager struct {
	mu    sync.RWMutex
	cmds  []Command
	index map[string]*Command

	log     logx.Logger
	adapter kit.Sender
	sem     chan struct{}

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

func NewCommandManager(log logx.Logger, adapter kit.Sender, workers int) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &CommandManager{
		index:   map[string]*Command{},
		log:     log,
		adapter: adapter,
		sem:     make(chan struct{}, workers),
	}
}

// SetRegistry replaces the command set. /help is always added.
func (m *CommandManager) SetRegistry(cmds []Command) {
	all := make([]Command, 0, len(cmds)+1)
	for _, c := range cmds {
		c.Name = normalizeName(c.Name)
		if c.Name == "" || c.Handle == nil || c.Name == "help" {
			continue
		}
		all = append(all, c)
	}
	all = append(all, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "Справка",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText())
		},
	})

	index := make(map[string]*Command, len(all)*2)
	for i := range all {
		c := &all[i]
		index[c.Name] = c
		for _, a := range c.Aliases {
			if a = normalizeName(a); a != "" {
				if _, taken := index[a]; !taken {
					index[a] = c
				}
			}
		}
	}

	m.mu.Lock()
	m.cmds = all
	m.index = index
	m.mu.Unlock()
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.cmds...)
}

// PublishMenu pushes the command list to the gateway's command menu when the
// adapter supports it.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, buildMenuCommands(m.Commands()))
}

// Supervisor returns the dispatcher's supervisor while DispatchLoop runs.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor) {
	m.runMu.Lock()
	m.sup = sup
	m.runMu.Unlock()
}

// DispatchLoop handles updates until ctx is done or updates is closed. Each
// command runs in its own goroutine; at most cap(sem) run at once and the
// rest are answered with a busy reply.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup)
	m.log.Info("command dispatcher started", logx.Int("workers", cap(m.sem)))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		m.setSupervisor(nil)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(sup, up)
		}
	}
}

func (m *CommandManager) routeUpdate(sup *rtsup.Supervisor, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	req, h, ok := m.match(up)
	if !ok {
		return
	}
	select {
	case m.sem <- struct{}{}:
	default:
		_ = req.Reply(sup.Context(), "⏳ Бот занят, попробуйте позже.")
		return
	}
	sup.Go0("command.handle", func(ctx context.Context) {
		defer func() { <-m.sem }()
		_ = h(ctx, req)
	})
}

// Handle runs a single update synchronously. DispatchLoop uses the same
// routing; tests call this directly.
func (m *CommandManager) Handle(ctx context.Context, up kit.Update) error {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return nil
	}
	req, h, ok := m.match(up)
	if !ok {
		return nil
	}
	return h(ctx, req)
}

func (m *CommandManager) match(up kit.Update) (*Request, HandlerFunc, bool) {
	msg := up.Message
	name, args, ok := parseCommandLine(msg.Text)
	if !ok {
		return nil, nil, false
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	m.mu.RLock()
	c, found := m.index[name]
	m.mu.RUnlock()
	if !found {
		return m.newRequest(up, chat, name, args), func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "❓ Неизвестная команда. Наберите /help")
		}, true
	}

	cmd := *c
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	h := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	return m.newRequest(up, chat, cmd.Name, args), h, true
}

func (m *CommandManager) newRequest(up kit.Update, chat kit.ChatTarget, name string, args []string) *Request {
	rid := uuid.NewString()[:8]
	reqLog := m.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", chat.ChatID),
		logx.String("cmd", name),
	)
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  up.Message.FromID,
		Command: name,
		Args:    args,
		ReqID:   rid,
		Sender:  m.adapter,
		Logger:  reqLog,
	}
}

// parseCommandLine splits "/cmd@bot a b" into ("cmd", ["a", "b"]).
func parseCommandLine(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = normalizeName(word)
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}
