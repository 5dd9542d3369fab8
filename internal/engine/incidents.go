package engine

import (
	"context"
	"database/sql"

	"thermoline/internal/domain"
	"thermoline/internal/events"
	"thermoline/internal/repo"
)

func (e Engine) GetIncident(ctx context.Context, id string) (domain.Incident, error) {
	return e.Repo.GetIncident(ctx, id)
}

func (e Engine) ListIncidents(ctx context.Context, filter repo.IncidentFilter) ([]domain.Incident, error) {
	// Time bounds are canonicalized to UTC like the stored triggered_at
	// strings, so offset-bearing inputs filter correctly.
	if filter.After != "" {
		after, err := canonicalInstant(filter.After)
		if err != nil {
			return nil, validationf("invalid triggered_after: %v", err)
		}
		filter.After = after
	}
	if filter.Before != "" {
		before, err := canonicalInstant(filter.Before)
		if err != nil {
			return nil, validationf("invalid triggered_before: %v", err)
		}
		filter.Before = before
	}
	return e.Repo.ListIncidents(ctx, filter)
}

// UpdateIncidentStatus moves an incident along TRIGGERED → ACKNOWLEDGED →
// RESOLVED. RESOLVED is terminal and absorbs nothing further; a resolved
// incident cannot be reopened and TRIGGERED cannot be re-entered.
// Acknowledging an already-acknowledged incident is a no-op, and RESOLVED
// may be reached straight from TRIGGERED.
func (e Engine) UpdateIncidentStatus(ctx context.Context, id string, status domain.IncidentStatus, actorID string) (domain.Incident, error) {
	var out domain.Incident
	err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		incident, err := r.GetIncident(ctx, id)
		if err != nil {
			return err
		}
		if incident.Status == domain.IncidentResolved {
			return statef("incident %s is resolved and cannot be modified", id)
		}
		switch status {
		case domain.IncidentTriggered:
			return statef("incident %s cannot return to TRIGGERED", id)
		case domain.IncidentAcknowledged:
			if incident.Status == domain.IncidentAcknowledged {
				out = incident
				return nil
			}
			at := e.nowString()
			if err := r.AcknowledgeIncident(ctx, id, at, actorID); err != nil {
				return err
			}
			incident.Status = domain.IncidentAcknowledged
			incident.AcknowledgedAt = &at
			incident.AcknowledgedBy = &actorID
			if err := e.Events.Append(ctx, tx, "incident.acknowledge", "incident", id, actorID, events.EventPayload{
				"monitor_id": incident.MonitorID,
			}); err != nil {
				return err
			}
		case domain.IncidentResolved:
			at := e.nowString()
			if err := r.ResolveIncident(ctx, id, at, actorID); err != nil {
				return err
			}
			incident.Status = domain.IncidentResolved
			incident.ResolvedAt = &at
			incident.ResolvedBy = &actorID
			if err := e.Events.Append(ctx, tx, "incident.resolve", "incident", id, actorID, events.EventPayload{
				"monitor_id": incident.MonitorID,
			}); err != nil {
				return err
			}
		default:
			return validationf("unknown incident status %q", status)
		}
		out = incident
		return nil
	})
	if err != nil {
		return domain.Incident{}, err
	}
	return out, nil
}

func (e Engine) AcknowledgeIncident(ctx context.Context, id, actorID string) (domain.Incident, error) {
	return e.UpdateIncidentStatus(ctx, id, domain.IncidentAcknowledged, actorID)
}

func (e Engine) ResolveIncident(ctx context.Context, id, actorID string) (domain.Incident, error) {
	return e.UpdateIncidentStatus(ctx, id, domain.IncidentResolved, actorID)
}

// DeleteIncident removes an incident and its paging records. TEST
// environment only.
func (e Engine) DeleteIncident(ctx context.Context, id, actorID string) error {
	if !e.Config.TestEnv() {
		return statef("incident deletion is only allowed in the TEST environment")
	}
	return e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetIncident(ctx, id); err != nil {
			return err
		}
		if err := r.DeletePagedByIncident(ctx, id); err != nil {
			return err
		}
		if err := r.DeleteIncident(ctx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, "incident.delete", "incident", id, actorID, events.EventPayload{})
	})
}
