package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// Trigger is a daily wall-clock time.
type Trigger struct {
	Hour   int
	Minute int
}

// ParseTrigger parses "HH:MM" (24h). A single-digit hour is accepted.
func ParseTrigger(s string) (Trigger, error) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || hs == "" || len(ms) != 2 {
		return Trigger{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 || len(hs) > 2 {
		return Trigger{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return Trigger{}, fmt.Errorf("invalid minute in %q", s)
	}
	return Trigger{Hour: h, Minute: m}, nil
}

// ParseTriggers parses every entry; duplicates are kept.
func ParseTriggers(list []string) ([]Trigger, error) {
	out := make([]Trigger, 0, len(list))
	for _, s := range list {
		t, err := ParseTrigger(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Spec is the 5-field cron spec firing daily at t.
func (t Trigger) Spec() string { return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour) }

func (t Trigger) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }
