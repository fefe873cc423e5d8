package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	sweepPurgedCounter = metrics.GetOrCreateCounter(`orphan_sweep_total{result="purged"}`)
	sweepErrorCounter  = metrics.GetOrCreateCounter(`orphan_sweep_total{result="error"}`)
)

// OrphanSweeper drops parked notifications that no initiation claimed within
// the retention window.
type OrphanSweeper struct {
	orphans   OrphanStore
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewOrphanSweeper(orphans OrphanStore, interval, retention time.Duration, logger *slog.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		orphans:   orphans,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

// Start runs a sweep every interval until ctx is done. A non-positive interval
// or retention disables sweeping.
func (s *OrphanSweeper) Start(ctx context.Context) {
	if s.interval <= 0 || s.retention <= 0 {
		s.logger.InfoContext(ctx, "Orphan sweeping disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				s.logger.InfoContext(ctx, "Context done, stopping orphan sweeper")
				return
			}
		}
	}()
}

// Sweep purges notifications parked longer than the retention window.
func (s *OrphanSweeper) Sweep(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.retention)
	purged, err := s.orphans.Purge(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error purging parked callbacks", "error", err)
		sweepErrorCounter.Inc()
		return 0
	}

	if purged > 0 {
		s.logger.WarnContext(ctx, "Purged parked callbacks that matched no payment", "count", purged, "cutoff", cutoff)
		sweepPurgedCounter.Add(int(purged))
	}
	return purged
}
