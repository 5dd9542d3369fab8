package engine

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"thermoline/internal/repo"
)

// CreateLostSensorIncidents opens incidents for thermometers on ACTIVE
// monitors that have not reported within the configured timeout. Each
// candidate is handled in its own transaction so one bad link never
// blocks the rest of the sweep. Returns the number of incidents opened.
func (e Engine) CreateLostSensorIncidents(ctx context.Context) (int, error) {
	timeout := time.Duration(e.Config.Incidents.SensorLostTimeoutMinutes) * time.Minute
	cutoff := e.now().Add(-timeout)
	links, err := e.Repo.ListLostThermometers(ctx, cutoff.UnixMilli(), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	opened := 0
	for _, link := range links {
		created := false
		err := e.withTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
			open, err := r.HasOpenIncident(ctx, link.ID)
			if err != nil {
				return err
			}
			if open {
				return nil
			}
			monitor, err := r.GetMonitor(ctx, link.MonitorID)
			if err != nil {
				return err
			}
			if err := e.openIncident(ctx, tx, r, monitor, link, nil); err != nil {
				return err
			}
			created = true
			return nil
		})
		if err == nil && created {
			opened++
		}
		if err != nil {
			e.Log.Error("lost-sensor sweep: link failed",
				zap.String("link_id", link.ID),
				zap.String("thermometer_id", link.ThermometerID),
				zap.Error(err))
		}
	}
	return opened, nil
}
