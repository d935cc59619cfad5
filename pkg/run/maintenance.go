package run

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Maintenance tunables. Stale leases are shorter than the archive window
// by orders of magnitude; both are housekeeping, not correctness.
const (
	staleLeaseAfter  = 5 * time.Minute
	archiveAfter     = 30 * 24 * time.Hour
	observerIdleTTL  = 15 * time.Minute
	maintenanceOpTTL = 30 * time.Second
)

// Maintenance runs the background housekeeping schedules: reclaiming
// leases from crashed workers, archiving old terminal jobs, and sweeping
// idle progress observers.
type Maintenance struct {
	cron   *cron.Cron
	orch   *Orchestrator
	logger *zap.Logger
}

// NewMaintenance builds the schedule set over an orchestrator.
func NewMaintenance(o *Orchestrator) *Maintenance {
	return &Maintenance{
		cron:   cron.New(),
		orch:   o,
		logger: o.logger.With(zap.String("component", "maintenance")),
	}
}

// Start registers the schedules and runs them until Stop.
func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc("@every 1m", m.releaseStaleLeases); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("@every 5m", m.sweepObservers); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc("@daily", m.archiveTerminal); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("maintenance schedules started")
	return nil
}

// Stop halts the schedules and waits for running entries to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("maintenance schedules stopped")
}

func (m *Maintenance) releaseStaleLeases() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceOpTTL)
	defer cancel()

	n, err := m.orch.jobs.ReleaseStaleLeases(ctx, staleLeaseAfter)
	if err != nil {
		m.logger.Warn("stale lease release failed", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("released stale leases", zap.Int64("count", n))
	}
}

func (m *Maintenance) archiveTerminal() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceOpTTL)
	defer cancel()

	n, err := m.orch.jobs.ArchiveTerminal(ctx, archiveAfter)
	if err != nil {
		m.logger.Warn("archive sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		m.logger.Info("archived terminal jobs", zap.Int64("count", n))
	}
}

func (m *Maintenance) sweepObservers() {
	if n := m.orch.hub.SweepIdle(observerIdleTTL); n > 0 {
		m.logger.Info("swept idle progress observers", zap.Int("count", n))
	}
}
