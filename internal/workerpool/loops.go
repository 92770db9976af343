package workerpool

import (
	"context"
	"time"

	"github.com/fuchsst/auteur-movie-director-sub000/internal/ledger"
)

func (p *Pool) scalingLoop(ctx context.Context) {
	defer p.wg.Done()
	if p.cfg.ScalingInterval <= 0 {
		p.cfg.ScalingInterval = 10 * time.Second
	}
	ticker := time.NewTicker(p.cfg.ScalingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.scaleOnce(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) scaleOnce(ctx context.Context) {
	if p.queue == nil {
		return
	}
	depth, err := p.queue.Depth(ctx)
	if err != nil {
		p.log.WithError(err).Warn("scaling: failed to read queue depth")
		return
	}

	active := len(p.byStatus(StatusActive)) + len(p.byStatus(StatusBusy))
	idle := p.byStatus(StatusIdle)

	p.mu.Lock()
	total := len(p.workers)
	p.mu.Unlock()

	if depth > p.cfg.ScaleUpThreshold*active && total < p.cfg.MaxWorkers {
		workerType := ledger.WorkerGeneral
		if ht, err := p.queue.HeadWorkerType(ctx); err == nil && ht != "" {
			workerType = ht
		}
		if _, err := p.Spawn(ctx, workerType); err != nil {
			p.log.WithError(err).Warn("scaling: spawn failed")
		}
		return
	}

	if len(idle) > 0 && depth <= p.cfg.ScaleDownThreshold {
		p.terminateOldestIdle(ctx, idle)
	}
}

func (p *Pool) terminateOldestIdle(ctx context.Context, idle []*Worker) {
	var oldest *Worker
	for _, w := range idle {
		if w.IdleSince == nil {
			continue
		}
		if oldest == nil || w.IdleSince.Before(*oldest.IdleSince) {
			oldest = w
		}
	}
	if oldest == nil {
		return
	}

	p.mu.Lock()
	total := len(p.workers)
	p.mu.Unlock()

	if time.Since(*oldest.IdleSince) >= p.cfg.IdleTimeout && total > p.cfg.MinWorkers {
		_ = p.Terminate(ctx, oldest.ID, true)
	}
}

func (p *Pool) healthLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.healthCheckOnce(ctx, interval)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) healthCheckOnce(ctx context.Context, interval time.Duration) {
	staleAfter := 2 * interval
	for _, w := range p.Snapshot() {
		failed := false

		if !w.LastHeartbeat.IsZero() && time.Since(w.LastHeartbeat) >= staleAfter {
			failed = true
		}
		total := w.TasksCompleted + w.TasksFailed
		if !failed && total >= 10 {
			rate := float64(w.TasksFailed) / float64(total)
			if rate > 0.5 {
				failed = true
			}
		}

		if failed {
			p.markFailed(w.ID)
			_ = p.Terminate(ctx, w.ID, false)

			p.mu.Lock()
			remaining := len(p.workers)
			p.mu.Unlock()
			if remaining < p.cfg.MinWorkers {
				if _, err := p.Spawn(ctx, ledger.WorkerGeneral); err != nil {
					p.log.WithError(err).Warn("health: replacement spawn failed")
				}
			}
		}
	}
}

func (p *Pool) markFailed(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[workerID]; ok {
		w.Status = StatusFailed
	}
}
