package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/broadcast"
	"remindbot/internal/config"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

func TestMapBroadcastConfigDefaults(t *testing.T) {
	t.Parallel()
	bc, err := mapBroadcastConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if bc.Payload != config.DefaultPayload {
		t.Fatalf("payload = %q", bc.Payload)
	}
	if bc.RepeatDelay != 10*time.Second {
		t.Fatalf("repeat delay = %v", bc.RepeatDelay)
	}
	if bc.RatePerSec != defaultRatePerSec || bc.SendTimeout != defaultSendTimeout {
		t.Fatalf("bc = %+v", bc)
	}
}

func TestMapBroadcastConfigRejectsNegativeDelay(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Broadcast: config.BroadcastConfig{RepeatDelay: "-5s"}}
	if _, err := mapBroadcastConfig(cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestMapTriggers(t *testing.T) {
	t.Parallel()
	ts, err := mapTriggers(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, tr := range ts {
		got = append(got, tr.String())
	}
	if strings.Join(got, ",") != "21:01,09:01,19:01" {
		t.Fatalf("default triggers = %v", got)
	}

	cfg := &config.Config{Broadcast: config.BroadcastConfig{Triggers: []string{"25:00"}}}
	if _, err := mapTriggers(cfg); err == nil {
		t.Fatal("expected error for 25:00")
	}
	if err := validateForApp(cfg); err == nil {
		t.Fatal("validateForApp should reject bad triggers")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	sc, err := mapStorageConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if sc.UsersFile != config.DefaultUsersFile || sc.RepeatsFile != config.DefaultRepeatsFile {
		t.Fatalf("sc = %+v", sc)
	}
	if !usesFlatFiles(sc) {
		t.Fatal("empty driver should use flat files")
	}

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: " SQLite ", Path: "bot.db"}})
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || usesFlatFiles(sc) {
		t.Fatalf("sc = %+v", sc)
	}
	if sc.BusyTimeout != defaultBusyTimeout {
		t.Fatalf("busy timeout = %v", sc.BusyTimeout)
	}
}

func TestMapOpsConfig(t *testing.T) {
	t.Parallel()
	oc := mapOpsConfig(&config.Config{Metrics: config.MetricsConfig{Enabled: true, Token: " s3cret "}})
	if oc.Addr != config.DefaultMetricsAddr || oc.Token != "s3cret" {
		t.Fatalf("oc = %+v", oc)
	}
}

type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return kit.MessageRef{}, nil
}

type oneRecipient struct{}

func (oneRecipient) List(context.Context) ([]string, error) { return []string{"1"}, nil }

type oneRepeat struct{}

func (oneRepeat) GetRepeatCount(context.Context, string) int { return 1 }

func TestApplyConfigUpdatesDispatcher(t *testing.T) {
	t.Parallel()
	logs, _ := logx.New(logx.Config{Level: "error"})
	snd := &recordingSender{}
	oldCfg := &config.Config{Telegram: config.TelegramConfig{Token: "t"}}
	bc, err := mapBroadcastConfig(oldCfg)
	if err != nil {
		t.Fatal(err)
	}
	a := &App{
		log:        logx.Nop(),
		logs:       logs,
		dispatcher: broadcast.New(bc, snd, oneRecipient{}, oneRepeat{}, logx.Nop()),
	}

	newCfg := &config.Config{
		Telegram:  config.TelegramConfig{Token: "t"},
		Broadcast: config.BroadcastConfig{Payload: "new text", Triggers: []string{"08:00"}},
	}
	a.applyConfig(oldCfg, newCfg)
	a.dispatcher.Run(context.Background(), "manual")

	if len(snd.texts) != 1 || snd.texts[0] != "new text" {
		t.Fatalf("sent = %v", snd.texts)
	}
}

func TestStepHonorsDeadline(t *testing.T) {
	t.Parallel()
	a := &App{log: logx.Nop()}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	a.step(ctx, "stuck", time.Minute, func(c context.Context) error {
		<-c.Done()
		time.Sleep(10 * time.Millisecond)
		return c.Err()
	})
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("step took %v", took)
	}
}
