package broadcast

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/storage"
	"remindbot/internal/subscription"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var errBlocked = errors.New("forbidden: bot was blocked by the user")

type sent struct {
	chat int64
	text string
}

type fakeSender struct {
	mu     sync.Mutex
	sends  []sent
	fail   func(chat int64, n int) error // n is the 1-based send count for chat
	perID  map[int64]int
	onSend func(chat int64)
}

func (s *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	if s.onSend != nil {
		s.onSend(to.ChatID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.perID == nil {
		s.perID = map[int64]int{}
	}
	s.perID[to.ChatID]++
	if s.fail != nil {
		if err := s.fail(to.ChatID, s.perID[to.ChatID]); err != nil {
			return kit.MessageRef{}, err
		}
	}
	s.sends = append(s.sends, sent{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(s.sends)}, nil
}

func (s *fakeSender) count(chat int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.sends {
		if m.chat == chat {
			n++
		}
	}
	return n
}

func (s *fakeSender) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

type staticRecipients struct {
	ids []string
	err error
}

func (r staticRecipients) List(context.Context) ([]string, error) {
	return append([]string(nil), r.ids...), r.err
}

type repeatMap map[string]int

func (m repeatMap) GetRepeatCount(_ context.Context, id string) int {
	if n, ok := m[id]; ok {
		return n
	}
	return 1
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return ctx.Err()
}

func testConfig() Config {
	return Config{Payload: "ping", RepeatDelay: 10 * time.Second, Workers: 4}
}

func TestRunIsolatesFailingRecipient(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{fail: func(chat int64, _ int) error {
		if chat == 2 {
			return errBlocked
		}
		return nil
	}}
	classify := func(error) kit.FailureReason { return kit.ReasonBlocked }
	d := New(testConfig(), snd, staticRecipients{ids: []string{"1", "2", "3"}}, repeatMap{}, logx.Nop(),
		WithClassifier(classify), WithSleeper((&sleepRecorder{}).sleep))

	rep := d.Run(context.Background(), "09:01")
	require.Equal(t, 3, rep.Recipients)
	require.Equal(t, 2, rep.Delivered)
	require.Equal(t, 2, rep.Completed)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 1, snd.count(1))
	require.Equal(t, 1, snd.count(3))
	require.Equal(t, 0, snd.count(2))

	require.Len(t, rep.Failures, 1)
	f := rep.Failures[0]
	require.Equal(t, "2", f.ChatID)
	require.Equal(t, 1, f.Repeat)
	require.Equal(t, kit.ReasonBlocked, f.Reason)
	require.ErrorIs(t, f, errBlocked)
}

func TestRunRepeatsWithDelayBetweenSends(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	sl := &sleepRecorder{}
	d := New(testConfig(), snd, staticRecipients{ids: []string{"5"}}, repeatMap{"5": 3}, logx.Nop(), WithSleeper(sl.sleep))

	rep := d.Run(context.Background(), "21:01")
	require.Equal(t, 3, rep.Delivered)
	require.Equal(t, 3, snd.count(5))
	require.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, sl.waits)
	for _, m := range snd.sends {
		require.Equal(t, "ping", m.text)
	}
}

func TestRunStopsRecipientAfterFailedRepeat(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{fail: func(chat int64, n int) error {
		if chat == 5 && n == 2 {
			return errBlocked
		}
		return nil
	}}
	sl := &sleepRecorder{}
	d := New(testConfig(), snd, staticRecipients{ids: []string{"5", "6"}}, repeatMap{"5": 4, "6": 2}, logx.Nop(), WithSleeper(sl.sleep))

	rep := d.Run(context.Background(), "19:01")
	require.Equal(t, 1, snd.count(5))
	require.Equal(t, 2, snd.count(6))
	require.Equal(t, 3, rep.Delivered)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 2, rep.Failures[0].Repeat)
	require.Equal(t, kit.ReasonUnknown, rep.Failures[0].Reason)
	// one wait after 5's first send, one for 6; none after the failure
	require.Len(t, sl.waits, 2)
}

func TestRunWithNoSubscribers(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	d := New(testConfig(), snd, staticRecipients{}, repeatMap{}, logx.Nop())

	rep := d.Run(context.Background(), "09:01")
	require.Zero(t, rep.Recipients)
	require.Zero(t, rep.Delivered)
	require.Zero(t, snd.total())
	require.NoError(t, rep.SnapshotErr)
}

func TestRunUsesSnapshotTakenAtStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	stores := storage.NewMemory()
	reg := subscription.NewRegistry(stores.Subscribers, logx.Nop())
	require.NoError(t, reg.Subscribe(ctx, "1"))
	require.NoError(t, reg.Subscribe(ctx, "2"))

	var once sync.Once
	snd := &fakeSender{}
	snd.onSend = func(int64) {
		once.Do(func() {
			_ = reg.Subscribe(ctx, "3")
			_ = reg.Unsubscribe(ctx, "2")
		})
	}
	cfg := testConfig()
	cfg.Workers = 1
	prefs := subscription.NewPreferences(stores.Repeats, logx.Nop())
	d := New(cfg, snd, reg, prefs, logx.Nop())

	rep := d.Run(ctx, "09:01")
	require.Equal(t, 2, rep.Recipients)
	require.Equal(t, 1, snd.count(1))
	require.Equal(t, 1, snd.count(2))
	require.Zero(t, snd.count(3))

	ids, err := reg.List(ctx)
	require.NoError(t, err)
	sort.Strings(ids)
	require.Equal(t, []string{"1", "3"}, ids)
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	snd := &fakeSender{onSend: func(int64) {
		once.Do(func() { close(entered) })
		<-release
	}}
	m := &countingMetrics{}
	d := New(testConfig(), snd, staticRecipients{ids: []string{"1"}}, repeatMap{}, logx.Nop(), WithMetrics(m))

	done := make(chan Report, 1)
	go func() {
		rep, ok := d.Trigger(context.Background(), "first")
		if ok {
			done <- rep
		}
		close(done)
	}()
	<-entered
	require.True(t, d.Running())

	_, ok := d.Trigger(context.Background(), "second")
	require.False(t, ok)
	require.Equal(t, 1, m.skipped())

	close(release)
	rep, got := <-done
	require.True(t, got)
	require.Equal(t, "first", rep.Trigger)
	require.Equal(t, 1, rep.Delivered)
	require.False(t, d.Running())

	_, ok = d.Trigger(context.Background(), "third")
	require.True(t, ok)
}

func TestRunCanceledBeforeStart(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snd := &fakeSender{}
	d := New(testConfig(), snd, staticRecipients{ids: []string{"1", "2"}}, repeatMap{}, logx.Nop())

	rep := d.Run(ctx, "09:01")
	require.True(t, rep.Canceled)
	require.Zero(t, snd.total())
	require.Equal(t, 2, rep.Failed)
	for _, f := range rep.Failures {
		require.Equal(t, kit.ReasonCanceled, f.Reason)
	}
}

func TestRunCanceledDuringDelay(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	sl := &sleepRecorder{err: context.Canceled}
	d := New(testConfig(), snd, staticRecipients{ids: []string{"1"}}, repeatMap{"1": 3}, logx.Nop(), WithSleeper(sl.sleep))

	rep := d.Run(context.Background(), "09:01")
	require.Equal(t, 1, snd.count(1))
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 2, rep.Failures[0].Repeat)
	require.Equal(t, kit.ReasonCanceled, rep.Failures[0].Reason)
}

func TestRunInvalidRecipientID(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	d := New(testConfig(), snd, staticRecipients{ids: []string{"abc", "9"}}, repeatMap{}, logx.Nop())

	rep := d.Run(context.Background(), "09:01")
	require.Equal(t, 1, snd.count(9))
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, "abc", rep.Failures[0].ChatID)
	require.Equal(t, kit.ReasonInvalidID, rep.Failures[0].Reason)
}

func TestRunSnapshotError(t *testing.T) {
	t.Parallel()
	errRead := errors.New("read users: permission denied")
	snd := &fakeSender{}
	d := New(testConfig(), snd, staticRecipients{err: errRead}, repeatMap{}, logx.Nop())

	rep := d.Run(context.Background(), "09:01")
	require.ErrorIs(t, rep.SnapshotErr, errRead)
	require.Zero(t, snd.total())
}

func TestLastReportAndApply(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	d := New(testConfig(), snd, staticRecipients{ids: []string{"1"}}, repeatMap{}, logx.Nop())

	_, ok := d.LastReport()
	require.False(t, ok)

	d.Run(context.Background(), "09:01")
	d.Apply(Config{Payload: "pong", RatePerSec: 100})
	d.Run(context.Background(), "21:01")

	last, ok := d.LastReport()
	require.True(t, ok)
	require.Equal(t, "21:01", last.Trigger)
	require.NotEmpty(t, last.RunID)
	require.Equal(t, "pong", snd.sends[1].text)
}

type countingMetrics struct {
	skip atomic.Int32
}

func (m *countingMetrics) DeliveryOK()                     {}
func (m *countingMetrics) DeliveryFailed(string)           {}
func (m *countingMetrics) RunCompleted(time.Duration, int) {}
func (m *countingMetrics) RunSkipped()                     { m.skip.Add(1) }
func (m *countingMetrics) InflightAdd(int)                 {}

func (m *countingMetrics) skipped() int { return int(m.skip.Load()) }
