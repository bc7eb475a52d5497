package booking

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/NexusGPU/reserva/internal/stats"
	"github.com/NexusGPU/reserva/internal/store"
)

// Janitor runs the scheduled maintenance: nightly audit-log retention and
// hourly utilization snapshots.
type Janitor struct {
	cron *cron.Cron
	log  *zap.Logger
}

// NewJanitor schedules retention against audit and, when exporter is not nil,
// hourly snapshots. Start it with Start and stop it on shutdown.
func NewJanitor(audit store.AuditStore, exporter *stats.Exporter, retention time.Duration, log *zap.Logger) *Janitor {
	j := &Janitor{
		cron: cron.New(),
		log:  log.Named("janitor"),
	}

	_, _ = j.cron.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cutoff := time.Now().Add(-retention)
		removed, err := audit.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			j.log.Warn("audit retention trim failed", zap.Error(err))
			return
		}
		if removed > 0 {
			j.log.Info("trimmed audit log", zap.Int64("removed", removed), zap.Time("cutoff", cutoff))
		}
	})

	if exporter != nil {
		_, _ = j.cron.AddFunc("@hourly", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := exporter.Snapshot(ctx); err != nil {
				j.log.Warn("utilization snapshot failed", zap.Error(err))
			}
		})
	}
	return j
}

// Start begins running the scheduled jobs in their own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop cancels future runs and waits for a running job to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
