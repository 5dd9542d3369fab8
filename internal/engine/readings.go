package engine

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thermoline/internal/domain"
	"thermoline/internal/events"
	"thermoline/internal/repo"
)

// Reading is one temperature sample from a thermometer. Timestamp is
// epoch milliseconds as reported by the device.
type Reading struct {
	ThermometerID string  `json:"thermometerId"`
	Temperature   float64 `json:"temperature"`
	Timestamp     int64   `json:"timestamp"`
}

// HandleReading updates last-seen bookkeeping for every active link of
// the thermometer and opens an incident when the reading breaches the
// monitor's thresholds. A link with an open incident is skipped; the
// breach is already being escalated.
func (e Engine) HandleReading(ctx context.Context, reading Reading) error {
	if reading.ThermometerID == "" {
		return validationf("reading thermometer id is required")
	}
	return e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		links, err := r.ListThermometers(ctx, repo.ThermometerFilter{
			ThermometerID: reading.ThermometerID,
			OnlyActive:    true,
		})
		if err != nil {
			return err
		}
		for _, link := range links {
			if err := r.UpdateThermometerLastMeasured(ctx, link.ID, reading.Timestamp); err != nil {
				return err
			}
			open, err := r.HasOpenIncident(ctx, link.ID)
			if err != nil {
				return err
			}
			if open {
				continue
			}
			monitor, err := r.GetMonitor(ctx, link.MonitorID)
			if err != nil {
				return err
			}
			if !breaches(monitor, reading.Temperature) {
				continue
			}
			temp := reading.Temperature
			if err := e.openIncident(ctx, tx, r, monitor, link, &temp); err != nil {
				return err
			}
		}
		return nil
	})
}

func breaches(monitor domain.ThermalMonitor, temperature float64) bool {
	if monitor.ThresholdHigh != nil && temperature > *monitor.ThresholdHigh {
		return true
	}
	if monitor.ThresholdLow != nil && temperature < *monitor.ThresholdLow {
		return true
	}
	return false
}

// openIncident inserts a TRIGGERED incident, snapshotting the monitor's
// thresholds for threshold breaches (temperature set) and leaving them
// absent for lost-sensor incidents (temperature nil). A unique violation
// means another writer opened one first; that is the desired end state,
// not an error.
func (e Engine) openIncident(ctx context.Context, tx *sql.Tx, r repo.Repo, monitor domain.ThermalMonitor, link domain.MonitorThermometer, temperature *float64) error {
	incident := domain.Incident{
		ID:                uuid.NewString(),
		MonitorID:         monitor.ID,
		ThermometerLinkID: link.ID,
		Status:            domain.IncidentTriggered,
		TriggeredAt:       e.nowString(),
		Temperature:       temperature,
	}
	if temperature != nil {
		incident.ThresholdLow = monitor.ThresholdLow
		incident.ThresholdHigh = monitor.ThresholdHigh
	}
	if err := r.InsertIncident(ctx, incident); err != nil {
		if repo.IsUniqueViolation(err) {
			e.Log.Debug("incident already open",
				zap.String("monitor_id", monitor.ID),
				zap.String("thermometer_id", link.ThermometerID))
			return nil
		}
		return err
	}
	kind := "threshold"
	if temperature == nil {
		kind = "sensor_lost"
	}
	return e.Events.Append(ctx, tx, "incident.trigger", "incident", incident.ID, "system", events.EventPayload{
		"monitor_id":     monitor.ID,
		"thermometer_id": link.ThermometerID,
		"kind":           kind,
	})
}
