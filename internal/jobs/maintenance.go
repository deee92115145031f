// Package jobs runs periodic license and session maintenance inside the API process.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// LicenseMaintainer is the slice of service.LicenseService the sweeps need.
type LicenseMaintainer interface {
	ResetMonthlyUsage(ctx context.Context) (int64, error)
	ExpireOverdueLicenses(ctx context.Context) (int64, error)
}

// SessionPurger is the slice of service.UserService the sweeps need.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

type task struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

type Maintenance struct {
	tasks []task
	every time.Duration
}

func NewMaintenance(licenses LicenseMaintainer, sessions SessionPurger, every time.Duration) *Maintenance {
	return &Maintenance{
		every: every,
		tasks: []task{
			{name: "reset_monthly_usage", run: licenses.ResetMonthlyUsage},
			{name: "expire_licenses", run: licenses.ExpireOverdueLicenses},
			{name: "purge_sessions", run: sessions.PurgeExpiredSessions},
		},
	}
}

// RunOnce executes every task; a failing task does not stop the others.
func (m *Maintenance) RunOnce(ctx context.Context) {
	for _, t := range m.tasks {
		n, err := t.run(ctx)
		if err != nil {
			log.Error().Err(err).Str("task", t.name).Msg("maintenance task failed")
			continue
		}
		if n > 0 {
			log.Info().Str("task", t.name).Int64("affected", n).Msg("maintenance task completed")
		}
	}
}

// Start runs the tasks immediately and then on every tick until ctx is done.
// The returned channel closes once the loop has exited.
func (m *Maintenance) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(m.every)
		defer ticker.Stop()

		m.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				m.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}
