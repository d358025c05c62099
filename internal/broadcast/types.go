package broadcast

import (
	"context"
	"time"
)

const (
	DefaultWorkers     = 8
	DefaultRepeatDelay = 10 * time.Second

	// maxReportedFailures bounds Report.Failures; Report.Failed keeps the
	// full count.
	maxReportedFailures = 200
)

// Config controls delivery. It can be replaced at runtime with Apply.
type Config struct {
	Payload     string
	RepeatDelay time.Duration // pause between successful repeats; <0 means none
	Workers     int           // concurrent recipients; <=0 means DefaultWorkers
	RatePerSec  int           // global send rate; <=0 means unlimited
	SendTimeout time.Duration // per send; <=0 means none
}

// Recipients yields the subscriber snapshot for a run.
type Recipients interface {
	List(ctx context.Context) ([]string, error)
}

// RepeatCounts resolves how many times a recipient is messaged. It must not
// fail; implementations fall back to a default.
type RepeatCounts interface {
	GetRepeatCount(ctx context.Context, id string) int
}

// Metrics receives run observations. *metrics.Metrics implements it.
type Metrics interface {
	DeliveryOK()
	DeliveryFailed(reason string)
	RunCompleted(d time.Duration, recipients int)
	RunSkipped()
	InflightAdd(delta int)
}

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Report summarizes one run.
type Report struct {
	RunID      string
	Trigger    string
	Started    time.Time
	Duration   time.Duration
	Recipients int
	Delivered  int // messages sent
	Completed  int // recipients that got every repeat
	Failed     int // recipients abandoned
	Failures   []*DeliveryError
	Canceled   bool
	// SnapshotErr is set when the subscriber list could not be read; nothing
	// was sent.
	SnapshotErr error
}

type nopMetrics struct{}

func (nopMetrics) DeliveryOK()                     {}
func (nopMetrics) DeliveryFailed(string)           {}
func (nopMetrics) RunCompleted(time.Duration, int) {}
func (nopMetrics) RunSkipped()                     {}
func (nopMetrics) InflightAdd(int)                 {}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
