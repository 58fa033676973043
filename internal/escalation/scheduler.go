// Package escalation promotes alerts whose primary coordinator never
// answered. A periodic scan finds no_answer alerts past the SLA, dials
// the backup coordinator, and flips the alert in a single conditional
// store write, so a racing scheduler instance can never record a second
// escalation.
package escalation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/go-care-alerts/internal/models"
	"github.com/carebridge/go-care-alerts/internal/repository"
	"github.com/carebridge/go-care-alerts/internal/stream"
	"github.com/carebridge/go-care-alerts/internal/telephony"
)

type Config struct {
	Interval time.Duration
	SLA      time.Duration

	// Reference picks the timestamp the SLA is measured from. Initiated
	// is the conservative default.
	Reference repository.Reference

	// CallbackURL receives status webhooks for the backup call leg.
	CallbackURL string
}

type Scheduler struct {
	cfg          Config
	alerts       repository.AlertRepository
	coordinators repository.CoordinatorRepository
	dialer       telephony.CallPlacer
	broadcaster  *stream.Broadcaster
	wg           sync.WaitGroup
}

func NewScheduler(cfg Config, alerts repository.AlertRepository, coordinators repository.CoordinatorRepository, dialer telephony.CallPlacer, broadcaster *stream.Broadcaster) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		alerts:       alerts,
		coordinators: coordinators,
		dialer:       dialer,
		broadcaster:  broadcaster,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	slog.Info("starting escalation scheduler", "interval", s.cfg.Interval, "sla", s.cfg.SLA)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Initial scan catches alerts that breached the SLA while the
	// process was down.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("escalation scheduler shutting down")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	overdue, err := s.alerts.FindOverdue(ctx, repository.OverdueQuery{
		Statuses:  []models.AlertStatus{models.StatusNoAnswer},
		OlderThan: time.Now().Add(-s.cfg.SLA),
		Reference: s.cfg.Reference,
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("overdue scan failed", "error", err)
		}
		return
	}

	// Each alert is handled to completion before the next; a failure only
	// skips that alert until the following tick.
	for _, a := range overdue {
		s.escalate(ctx, a)
	}

	if len(overdue) > 0 {
		slog.Debug("escalation tick complete", "candidates", len(overdue))
	}
}

func (s *Scheduler) escalate(ctx context.Context, a models.Alert) {
	primary, backup, err := s.coordinators.FindCoordinatorAndBackup(ctx, a.ID)
	if err != nil {
		slog.Error("error resolving backup coordinator", "alert_id", a.ID, "error", err)
		return
	}
	if backup == nil || !backup.Active {
		// Not an error: the alert stays in no_answer and remains eligible
		// for manual cancellation.
		slog.Warn("no active backup coordinator, escalation skipped",
			"alert_id", a.ID, "coordinator_id", primary.ID)
		return
	}

	// Same alert_id logging hint the initial leg carries; correlation
	// stays by call sid.
	callback := s.cfg.CallbackURL + "?alert_id=" + a.ID
	sid, err := s.dialer.PlaceCall(ctx, backup.Phone, callback)
	if err != nil {
		slog.Error("backup call placement failed, will retry next tick",
			"alert_id", a.ID, "backup_id", backup.ID, "error", err)
		return
	}

	now := time.Now()
	ok, err := s.alerts.Escalate(ctx, a.ID, sid, now)
	if err != nil {
		slog.Error("error recording escalation", "alert_id", a.ID, "call_sid", sid, "error", err)
		return
	}
	if !ok {
		// Another instance escalated (or the alert was cancelled) between
		// the scan and our write.
		slog.Warn("escalation lost conditional update, alert already moved on",
			"alert_id", a.ID, "call_sid", sid)
		return
	}

	slog.Info("alert escalated to backup coordinator",
		"alert_id", a.ID, "backup_id", backup.ID, "call_sid", sid)

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(stream.Event{
			AlertID: a.ID,
			Status:  models.StatusEscalated,
			CallSID: sid,
			At:      now,
		})
	}
}

// Stop blocks until the scheduler goroutine has exited. Cancel the
// context passed to Start first.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	slog.Info("escalation scheduler stopped")
}
