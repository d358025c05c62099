package app

import (
	"context"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
)

type healthBody struct {
	Status    string              `json:"status"`
	Uptime    string              `json:"uptime"`
	NextRun   *time.Time          `json:"next_run,omitempty"`
	LastRun   *lastRunBody        `json:"last_run,omitempty"`
	Running   bool                `json:"broadcast_running"`
	Error     string              `json:"error,omitempty"`
	Tasks     []rtsup.TaskStats   `json:"tasks"`
	Subsystem map[string][]string `json:"subsystems,omitempty"`
}

type lastRunBody struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	Started    time.Time `json:"started"`
	Duration   string    `json:"duration"`
	Recipients int       `json:"recipients"`
	Delivered  int       `json:"delivered"`
	Failed     int       `json:"failed"`
	Canceled   bool      `json:"canceled,omitempty"`
}

// health backs GET /healthz. It reports unhealthy once the app supervisor
// recorded a fatal error.
func (a *App) health(_ context.Context) (any, bool) {
	body := healthBody{
		Status:  "ok",
		Uptime:  time.Since(a.started).Round(time.Second).String(),
		Running: a.dispatcher.Running(),
	}
	if next := a.sched.NextFire(); !next.IsZero() {
		body.NextRun = &next
	}
	if r, ok := a.dispatcher.LastReport(); ok {
		body.LastRun = &lastRunBody{
			RunID:      r.RunID,
			Trigger:    r.Trigger,
			Started:    r.Started,
			Duration:   r.Duration.Round(time.Millisecond).String(),
			Recipients: r.Recipients,
			Delivered:  r.Delivered,
			Failed:     r.Failed,
			Canceled:   r.Canceled,
		}
	}
	if a.sup != nil {
		body.Tasks = a.sup.Snapshot()
	}
	body.Subsystem = map[string][]string{}
	if sup := a.adapter.Supervisor(); sup != nil {
		body.Subsystem["telegram.adapter"] = activeTasks(sup)
	}
	if sup := a.cmdm.Supervisor(); sup != nil {
		body.Subsystem["telegram.router"] = activeTasks(sup)
	}
	if err := a.Err(); err != nil {
		body.Status = "failing"
		body.Error = err.Error()
		return body, false
	}
	return body, true
}

func activeTasks(sup *rtsup.Supervisor) []string {
	var out []string
	for _, t := range sup.Snapshot() {
		if t.Active > 0 {
			out = append(out, t.Name)
		}
	}
	return out
}
