package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"thermoline/internal/domain"
	"thermoline/internal/events"
	"thermoline/internal/repo"
)

// ResolveMonitorStatuses advances monitor lifecycle states against the
// current time: one-off monitors move PENDING → ACTIVE → FINISHED along
// their active window, scheduled monitors toggle ACTIVE/INACTIVE against
// their weekly periods. Each monitor is resolved independently.
func (e Engine) ResolveMonitorStatuses(ctx context.Context) error {
	if err := e.resolveOneOff(ctx); err != nil {
		return err
	}
	return e.resolveScheduled(ctx)
}

func (e Engine) resolveOneOff(ctx context.Context) error {
	now := e.nowString()
	pending, err := e.Repo.ListMonitors(ctx, repo.MonitorFilter{
		Type:             domain.MonitorOneOff,
		Status:           domain.MonitorPending,
		ActiveFromBefore: now,
	})
	if err != nil {
		return err
	}
	for _, m := range pending {
		e.setStatus(ctx, m.ID, domain.MonitorActive, "monitor.activate")
	}
	active, err := e.Repo.ListMonitors(ctx, repo.MonitorFilter{
		Type:           domain.MonitorOneOff,
		Status:         domain.MonitorActive,
		ActiveToBefore: now,
	})
	if err != nil {
		return err
	}
	for _, m := range active {
		e.setStatus(ctx, m.ID, domain.MonitorFinished, "monitor.finish")
	}
	return nil
}

func (e Engine) resolveScheduled(ctx context.Context) error {
	nowMinutes := timeOfWeekMinutes(e.now())
	inactive, err := e.Repo.ListMonitors(ctx, repo.MonitorFilter{
		Type:   domain.MonitorScheduled,
		Status: domain.MonitorInactive,
	})
	if err != nil {
		return err
	}
	for _, m := range inactive {
		covered, err := e.scheduleCovers(ctx, m.ID, nowMinutes)
		if err != nil {
			e.Log.Error("schedule sweep: monitor failed", zap.String("monitor_id", m.ID), zap.Error(err))
			continue
		}
		if covered {
			e.setStatus(ctx, m.ID, domain.MonitorActive, "monitor.activate")
		}
	}
	active, err := e.Repo.ListMonitors(ctx, repo.MonitorFilter{
		Type:   domain.MonitorScheduled,
		Status: domain.MonitorActive,
	})
	if err != nil {
		return err
	}
	for _, m := range active {
		covered, err := e.scheduleCovers(ctx, m.ID, nowMinutes)
		if err != nil {
			e.Log.Error("schedule sweep: monitor failed", zap.String("monitor_id", m.ID), zap.Error(err))
			continue
		}
		if !covered {
			e.setStatus(ctx, m.ID, domain.MonitorInactive, "monitor.deactivate")
		}
	}
	return nil
}

func (e Engine) scheduleCovers(ctx context.Context, monitorID string, nowMinutes int) (bool, error) {
	periods, err := e.Repo.ListSchedulePeriods(ctx, monitorID)
	if err != nil {
		return false, err
	}
	for _, p := range periods {
		if p.Start.Minutes() <= nowMinutes && nowMinutes <= p.End.Minutes() {
			return true, nil
		}
	}
	return false, nil
}

func (e Engine) setStatus(ctx context.Context, monitorID string, status domain.MonitorStatus, evtType string) {
	err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.SetMonitorStatus(ctx, monitorID, status); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, evtType, "monitor", monitorID, "system", events.EventPayload{
			"status": string(status),
		})
	})
	if err != nil {
		e.Log.Error("monitor status change failed",
			zap.String("monitor_id", monitorID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// timeOfWeekMinutes maps t to minutes since Monday 00:00 in t's location,
// matching ScheduleTime.Minutes (weekday 0 = Monday).
func timeOfWeekMinutes(t time.Time) int {
	weekday := (int(t.Weekday()) + 6) % 7
	return weekday*24*60 + t.Hour()*60 + t.Minute()
}

// ValidateSchedulePeriod checks field ranges and that the period does not
// end before it starts. A period may span midnight and weekday
// boundaries but not wrap past Sunday.
func ValidateSchedulePeriod(p domain.SchedulePeriod) error {
	for _, st := range []domain.ScheduleTime{p.Start, p.End} {
		if st.Weekday < 0 || st.Weekday > 6 {
			return validationf("weekday must be 0..6 (Monday..Sunday), got %d", st.Weekday)
		}
		if st.Hour < 0 || st.Hour > 23 {
			return validationf("hour must be 0..23, got %d", st.Hour)
		}
		if st.Minute < 0 || st.Minute > 59 {
			return validationf("minute must be 0..59, got %d", st.Minute)
		}
	}
	if p.Start.Minutes() >= p.End.Minutes() {
		return validationf("schedule period must start before it ends")
	}
	return nil
}
