package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thermoline/internal/domain"
	"thermoline/internal/events"
	"thermoline/internal/lookup"
	"thermoline/internal/repo"
)

// TriggerPolicies walks every TRIGGERED incident and fires the next step
// of its monitor's escalation chain when its delay has elapsed. Each
// incident is handled independently; a failure is logged and the sweep
// moves on. Returns the number of notifications dispatched.
//
// The chain position is derived from the firing records: with n records
// the next candidate is the n-th policy in (priority, delay) order, and
// its delay counts from the incident's trigger time for the first step or
// from the latest firing record for later steps. Acknowledging an
// incident halts the chain because only TRIGGERED incidents are swept.
func (e Engine) TriggerPolicies(ctx context.Context) (int, error) {
	incidents, err := e.Repo.ListIncidents(ctx, repo.IncidentFilter{Status: domain.IncidentTriggered})
	if err != nil {
		return 0, err
	}
	fired := 0
	for _, incident := range incidents {
		ok, err := e.triggerNextPolicy(ctx, incident)
		if err != nil {
			e.Log.Error("escalation sweep: incident failed",
				zap.String("incident_id", incident.ID),
				zap.Error(err))
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (e Engine) triggerNextPolicy(ctx context.Context, incident domain.Incident) (bool, error) {
	policies, err := e.Repo.ListPoliciesByMonitor(ctx, incident.MonitorID)
	if err != nil {
		return false, err
	}
	paged, err := e.Repo.ListPagedByIncident(ctx, incident.ID)
	if err != nil {
		return false, err
	}
	if len(paged) >= len(policies) {
		return false, nil
	}
	next := policies[len(paged)]

	reference := incident.TriggeredAt
	if len(paged) > 0 {
		reference = paged[0].CreatedAt
	}
	ref, err := parseTime(reference)
	if err != nil {
		return false, err
	}
	due := ref.Add(time.Duration(next.EscalationDelaySeconds) * time.Second)
	if e.now().Before(due) {
		return false, nil
	}

	contact, err := e.Repo.GetContact(ctx, next.ContactID)
	if err != nil {
		return false, fmt.Errorf("policy %s contact: %w", next.ID, err)
	}
	monitor, err := e.Repo.GetMonitor(ctx, incident.MonitorID)
	if err != nil {
		return false, err
	}
	subject, body := e.buildNotification(ctx, incident, monitor)

	// Dispatch first, record after: a crash in between re-sends at most
	// once on the next sweep, whereas recording first could lose the
	// notification entirely.
	switch contact.Type {
	case domain.ContactEmail:
		if err := e.Mailer.Send(ctx, contact.Contact, subject, body); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("policy %s: unsupported contact type %q", next.ID, contact.Type)
	}

	err = e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		record := domain.PagedPolicy{
			ID:         uuid.NewString(),
			IncidentID: incident.ID,
			PolicyID:   next.ID,
			CreatedAt:  e.nowString(),
		}
		if err := r.InsertPagedPolicy(ctx, record); err != nil {
			if repo.IsUniqueViolation(err) {
				e.Log.Warn("policy already recorded for incident",
					zap.String("incident_id", incident.ID),
					zap.String("policy_id", next.ID))
				return nil
			}
			return err
		}
		return e.Events.Append(ctx, tx, "policy.page", "incident", incident.ID, "system", events.EventPayload{
			"policy_id":  next.ID,
			"contact_id": contact.ID,
			"priority":   next.Priority,
		})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// buildNotification composes the alert subject and body. Asset lookup is
// best effort: a miss or a lookup outage yields placeholder names, never
// a skipped notification.
func (e Engine) buildNotification(ctx context.Context, incident domain.Incident, monitor domain.ThermalMonitor) (string, string) {
	asset, err := e.Lookup.Resolve(ctx, incident.ThermometerID)
	if err != nil {
		if !errors.Is(err, lookup.ErrNotFound) {
			e.Log.Warn("asset lookup failed",
				zap.String("thermometer_id", incident.ThermometerID),
				zap.Error(err))
		}
		asset = lookup.Asset{}
	}

	ownerKind := ""
	ownerName := asset.OwnerName
	switch asset.OwnerKind {
	case lookup.OwnerSite:
		ownerKind = "terminal"
	case lookup.OwnerTruck:
		ownerKind = "truck"
	case lookup.OwnerTowable:
		ownerKind = "trailer"
	}
	if ownerName == "" {
		ownerName = "[ALERT TARGET NOT FOUND]"
	}
	sensorName := asset.ThermometerName
	if sensorName == "" {
		sensorName = "[ALERT SENSOR NOT FOUND]"
	}

	subject := fmt.Sprintf("TEMPERATURE ALERT: %s", ownerName)
	if ownerKind != "" {
		subject = fmt.Sprintf("TEMPERATURE ALERT on %s %s", ownerKind, ownerName)
	}

	target := ownerName
	if ownerKind != "" {
		target = ownerKind + " " + ownerName
	}
	body := fmt.Sprintf(
		"ALERT DETAILS\n\nTARGET: %s\nMONITOR: %s\nSENSOR: %s\nCAUSE: %s\nTIME: %s\n",
		target, monitor.Name, sensorName, e.incidentCause(incident), incident.TriggeredAt)
	return subject, body
}

func (e Engine) incidentCause(incident domain.Incident) string {
	if incident.Temperature == nil {
		return fmt.Sprintf("The sensor stopped reporting. No reading was received for %d minutes.",
			e.Config.Incidents.SensorLostTimeoutMinutes)
	}
	t := *incident.Temperature
	if incident.ThresholdHigh != nil && t > *incident.ThresholdHigh {
		return fmt.Sprintf("Temperature %.1f °C is above the configured upper limit %.1f °C.",
			t, *incident.ThresholdHigh)
	}
	if incident.ThresholdLow != nil && t < *incident.ThresholdLow {
		return fmt.Sprintf("Temperature %.1f °C is below the configured lower limit %.1f °C.",
			t, *incident.ThresholdLow)
	}
	return fmt.Sprintf("Temperature %.1f °C breached the configured limits.", t)
}
