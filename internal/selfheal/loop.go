package selfheal

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/logging"
)

// Loop runs the Healer on an arbitrary cron schedule via
// github.com/robfig/cron/v3.
type Loop struct {
	healer *Healer
	cron   *cron.Cron
	log    *logging.Logger

	mu      sync.Mutex
	lastRun []Result
}

// NewLoop builds a Loop that runs h.DiagnoseAndHeal on the given cron
// spec (default "@every 1m" when spec is empty).
func NewLoop(h *Healer, spec string) (*Loop, error) {
	if spec == "" {
		spec = "@every 1m"
	}
	l := &Loop{healer: h, log: logging.NewFromEnv("selfheal")}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { l.runOnce(context.Background()) }); err != nil {
		return nil, err
	}
	l.cron = c
	return l, nil
}

func (l *Loop) runOnce(ctx context.Context) {
	results := l.healer.DiagnoseAndHeal(ctx)
	if len(results) > 0 {
		l.log.WithFields(map[string]interface{}{"issue_count": len(results)}).Info("self-healing pass completed")
	}
	l.mu.Lock()
	l.lastRun = results
	l.mu.Unlock()
}

// Start begins the cron schedule.
func (l *Loop) Start() { l.cron.Start() }

// Stop halts the cron schedule, waiting for any in-flight run.
func (l *Loop) Stop() { <-l.cron.Stop().Done() }

// LastRun returns the results of the most recently completed pass.
func (l *Loop) LastRun() []Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Result, len(l.lastRun))
	copy(out, l.lastRun)
	return out
}
