package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"thermoline/internal/domain"
	"thermoline/internal/events"
	"thermoline/internal/repo"
)

// MonitorInput carries the caller-supplied monitor fields for create and
// update.
type MonitorInput struct {
	Name          string
	Status        domain.MonitorStatus
	Type          domain.MonitorType
	ThresholdLow  *float64
	ThresholdHigh *float64
	ActiveFrom    *string
	ActiveTo      *string
	Thermometers  []string
	Schedule      []domain.SchedulePeriod
}

func (e Engine) CreateMonitor(ctx context.Context, in MonitorInput, actorID string) (domain.ThermalMonitor, error) {
	if in.Status == "" {
		in.Status = defaultStatus(in.Type)
	}
	if err := validateMonitor(&in); err != nil {
		return domain.ThermalMonitor{}, err
	}
	monitor := domain.ThermalMonitor{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Status:        in.Status,
		Type:          in.Type,
		ThresholdLow:  in.ThresholdLow,
		ThresholdHigh: in.ThresholdHigh,
		ActiveFrom:    in.ActiveFrom,
		ActiveTo:      in.ActiveTo,
		CreatedBy:     actorID,
		ModifiedBy:    actorID,
		CreatedAt:     e.nowString(),
	}
	err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.InsertMonitor(ctx, monitor); err != nil {
			return err
		}
		for _, id := range dedupe(in.Thermometers) {
			link := domain.MonitorThermometer{
				ID:            uuid.NewString(),
				MonitorID:     monitor.ID,
				ThermometerID: id,
				CreatedAt:     monitor.CreatedAt,
			}
			if err := r.InsertThermometer(ctx, link, actorID); err != nil {
				return err
			}
			monitor.Thermometers = append(monitor.Thermometers, id)
		}
		for _, p := range in.Schedule {
			p.ID = uuid.NewString()
			p.MonitorID = monitor.ID
			if err := r.InsertSchedulePeriod(ctx, p); err != nil {
				return err
			}
			monitor.Schedule = append(monitor.Schedule, p)
		}
		return e.Events.Append(ctx, tx, "monitor.create", "monitor", monitor.ID, actorID, events.EventPayload{
			"name": monitor.Name, "type": string(monitor.Type), "status": string(monitor.Status),
		})
	})
	if err != nil {
		return domain.ThermalMonitor{}, err
	}
	return monitor, nil
}

func (e Engine) GetMonitor(ctx context.Context, id string) (domain.ThermalMonitor, error) {
	monitor, err := e.Repo.GetMonitor(ctx, id)
	if err != nil {
		return domain.ThermalMonitor{}, err
	}
	return e.assembleMonitor(ctx, e.Repo, monitor)
}

func (e Engine) ListMonitors(ctx context.Context, filter repo.MonitorFilter) ([]domain.ThermalMonitor, error) {
	monitors, err := e.Repo.ListMonitors(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i, m := range monitors {
		monitors[i], err = e.assembleMonitor(ctx, e.Repo, m)
		if err != nil {
			return nil, err
		}
	}
	return monitors, nil
}

// UpdateMonitor replaces the monitor's fields, schedule and thermometer
// set. Thermometers no longer listed are archived, keeping their incident
// history; in the TEST environment they are removed outright together
// with their incidents.
func (e Engine) UpdateMonitor(ctx context.Context, id string, in MonitorInput, actorID string) (domain.ThermalMonitor, error) {
	if err := validateMonitor(&in); err != nil {
		return domain.ThermalMonitor{}, err
	}
	var out domain.ThermalMonitor
	err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		current, err := r.GetMonitor(ctx, id)
		if err != nil {
			return err
		}
		if in.Type != current.Type {
			return validationf("monitor type cannot change (is %s)", current.Type)
		}
		monitor := current
		monitor.Name = in.Name
		monitor.Status = in.Status
		monitor.ThresholdLow = in.ThresholdLow
		monitor.ThresholdHigh = in.ThresholdHigh
		monitor.ActiveFrom = in.ActiveFrom
		monitor.ActiveTo = in.ActiveTo
		monitor.ModifiedBy = actorID
		if err := r.UpdateMonitor(ctx, monitor); err != nil {
			return err
		}
		if err := e.reconcileThermometers(ctx, r, monitor.ID, dedupe(in.Thermometers), actorID); err != nil {
			return err
		}
		if err := r.DeleteSchedulePeriods(ctx, monitor.ID); err != nil {
			return err
		}
		for _, p := range in.Schedule {
			p.ID = uuid.NewString()
			p.MonitorID = monitor.ID
			if err := r.InsertSchedulePeriod(ctx, p); err != nil {
				return err
			}
		}
		if err := e.Events.Append(ctx, tx, "monitor.update", "monitor", monitor.ID, actorID, events.EventPayload{
			"name": monitor.Name, "status": string(monitor.Status),
		}); err != nil {
			return err
		}
		out, err = e.assembleMonitor(ctx, r, monitor)
		return err
	})
	if err != nil {
		return domain.ThermalMonitor{}, err
	}
	return out, nil
}

// DeleteMonitor removes a monitor and everything hanging off it. Allowed
// only in the TEST environment; production monitors are retired through
// their status instead.
func (e Engine) DeleteMonitor(ctx context.Context, id, actorID string) error {
	if !e.Config.TestEnv() {
		return statef("monitor deletion is only allowed in the TEST environment")
	}
	return e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetMonitor(ctx, id); err != nil {
			return err
		}
		links, err := r.ListThermometers(ctx, repo.ThermometerFilter{MonitorID: id, IncludeArchived: true})
		if err != nil {
			return err
		}
		for _, link := range links {
			if err := deleteLinkIncidents(ctx, r, link.ID); err != nil {
				return err
			}
			if err := r.DeleteThermometer(ctx, link.ID); err != nil {
				return err
			}
		}
		policies, err := r.ListPoliciesByMonitor(ctx, id)
		if err != nil {
			return err
		}
		for _, p := range policies {
			if err := r.DeletePagedByPolicy(ctx, p.ID); err != nil {
				return err
			}
			if err := r.DeletePolicy(ctx, p.ID); err != nil {
				return err
			}
		}
		if err := r.DeleteSchedulePeriods(ctx, id); err != nil {
			return err
		}
		if err := r.DeleteMonitor(ctx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "monitor.delete", "monitor", id, actorID, nil)
	})
}

// reconcileThermometers aligns the monitor's links with the wanted set of
// thermometer ids. Missing links are created, removed ones archived (or
// hard-deleted with their incidents in TEST). An archived link whose id
// reappears gets a fresh link row.
func (e Engine) reconcileThermometers(ctx context.Context, r repo.Repo, monitorID string, wanted []string, actorID string) error {
	existing, err := r.ListThermometers(ctx, repo.ThermometerFilter{MonitorID: monitorID})
	if err != nil {
		return err
	}
	current := make(map[string]domain.MonitorThermometer, len(existing))
	for _, link := range existing {
		current[link.ThermometerID] = link
	}
	wantedSet := make(map[string]bool, len(wanted))
	for _, id := range wanted {
		wantedSet[id] = true
		if _, ok := current[id]; ok {
			continue
		}
		link := domain.MonitorThermometer{
			ID:            uuid.NewString(),
			MonitorID:     monitorID,
			ThermometerID: id,
			CreatedAt:     e.nowString(),
		}
		if err := r.InsertThermometer(ctx, link, actorID); err != nil {
			return err
		}
	}
	for _, link := range existing {
		if wantedSet[link.ThermometerID] {
			continue
		}
		if e.Config.TestEnv() {
			if err := deleteLinkIncidents(ctx, r, link.ID); err != nil {
				return err
			}
			if err := r.DeleteThermometer(ctx, link.ID); err != nil {
				return err
			}
			continue
		}
		if err := r.ArchiveThermometer(ctx, link.ID, actorID); err != nil {
			return err
		}
	}
	return nil
}

func deleteLinkIncidents(ctx context.Context, r repo.Repo, linkID string) error {
	incidents, err := r.ListIncidents(ctx, repo.IncidentFilter{LinkID: linkID})
	if err != nil {
		return err
	}
	for _, in := range incidents {
		if err := r.DeletePagedByIncident(ctx, in.ID); err != nil {
			return err
		}
		if err := r.DeleteIncident(ctx, in.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) assembleMonitor(ctx context.Context, r repo.Repo, monitor domain.ThermalMonitor) (domain.ThermalMonitor, error) {
	links, err := r.ListThermometers(ctx, repo.ThermometerFilter{MonitorID: monitor.ID})
	if err != nil {
		return domain.ThermalMonitor{}, err
	}
	monitor.Thermometers = nil
	for _, link := range links {
		monitor.Thermometers = append(monitor.Thermometers, link.ThermometerID)
	}
	monitor.Schedule, err = r.ListSchedulePeriods(ctx, monitor.ID)
	if err != nil {
		return domain.ThermalMonitor{}, err
	}
	return monitor, nil
}

func defaultStatus(t domain.MonitorType) domain.MonitorStatus {
	if t == domain.MonitorScheduled {
		return domain.MonitorInactive
	}
	return domain.MonitorPending
}

// canonicalInstant parses an RFC3339 value and re-renders it in UTC, so
// offset-bearing inputs compare correctly against stored UTC strings.
func canonicalInstant(value string) (string, error) {
	t, err := parseTime(value)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}

func validateMonitor(in *MonitorInput) error {
	if in.Name == "" {
		return validationf("monitor name is required")
	}
	switch in.Type {
	case domain.MonitorOneOff:
		if len(in.Schedule) > 0 {
			return validationf("a ONE_OFF monitor cannot have a schedule")
		}
		if in.Status == domain.MonitorInactive {
			return validationf("a ONE_OFF monitor cannot be INACTIVE")
		}
		// Window instants are canonicalized to UTC so the stored
		// strings order the same way the instants do.
		if in.ActiveFrom != nil {
			from, err := canonicalInstant(*in.ActiveFrom)
			if err != nil {
				return validationf("invalid active_from: %v", err)
			}
			in.ActiveFrom = &from
		}
		if in.ActiveTo != nil {
			to, err := canonicalInstant(*in.ActiveTo)
			if err != nil {
				return validationf("invalid active_to: %v", err)
			}
			in.ActiveTo = &to
		}
		if in.ActiveFrom != nil && in.ActiveTo != nil && *in.ActiveFrom >= *in.ActiveTo {
			return validationf("active_from must be before active_to")
		}
	case domain.MonitorScheduled:
		if len(in.Schedule) == 0 {
			return validationf("a SCHEDULED monitor needs at least one schedule period")
		}
		if in.Status == domain.MonitorPending || in.Status == domain.MonitorFinished {
			return validationf("a SCHEDULED monitor cannot be %s", in.Status)
		}
		if in.ActiveFrom != nil || in.ActiveTo != nil {
			return validationf("a SCHEDULED monitor cannot have an active window")
		}
	default:
		return validationf("unknown monitor type %q", in.Type)
	}
	switch in.Status {
	case domain.MonitorPending, domain.MonitorActive, domain.MonitorInactive, domain.MonitorFinished:
	default:
		return validationf("unknown monitor status %q", in.Status)
	}
	if in.ThresholdLow != nil && in.ThresholdHigh != nil && *in.ThresholdLow >= *in.ThresholdHigh {
		return validationf("threshold_low must be below threshold_high")
	}
	for i, p := range in.Schedule {
		if err := ValidateSchedulePeriod(p); err != nil {
			return fmt.Errorf("schedule period %d: %w", i, err)
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
