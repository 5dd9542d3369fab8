package repo

import (
	"context"
	"database/sql"
	"strings"

	"thermoline/internal/domain"
)

const incidentColumns = `i.id,i.monitor_id,i.thermometer_link_id,mt.thermometer_id,i.status,i.triggered_at,i.acknowledged_at,i.acknowledged_by,i.resolved_at,i.resolved_by,i.temperature,i.threshold_low,i.threshold_high`

func scanIncident(scan func(dest ...any) error) (domain.Incident, error) {
	var in domain.Incident
	var ackAt, ackBy, resAt, resBy sql.NullString
	var temp, low, high sql.NullFloat64
	err := scan(&in.ID, &in.MonitorID, &in.ThermometerLinkID, &in.ThermometerID, &in.Status, &in.TriggeredAt,
		&ackAt, &ackBy, &resAt, &resBy, &temp, &low, &high)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	if ackAt.Valid {
		in.AcknowledgedAt = &ackAt.String
	}
	if ackBy.Valid {
		in.AcknowledgedBy = &ackBy.String
	}
	if resAt.Valid {
		in.ResolvedAt = &resAt.String
	}
	if resBy.Valid {
		in.ResolvedBy = &resBy.String
	}
	if temp.Valid {
		in.Temperature = &temp.Float64
	}
	if low.Valid {
		in.ThresholdLow = &low.Float64
	}
	if high.Valid {
		in.ThresholdHigh = &high.Float64
	}
	return in, nil
}

// InsertIncident adds a TRIGGERED incident. The partial unique index on
// open incidents makes this fail with a unique violation when the pair
// already has one; callers treat that as "already open".
func (r Repo) InsertIncident(ctx context.Context, in domain.Incident) error {
	_, err := r.q().ExecContext(ctx,
		`INSERT INTO incidents(id,monitor_id,thermometer_link_id,status,triggered_at,temperature,threshold_low,threshold_high) VALUES (?,?,?,?,?,?,?,?)`,
		in.ID, in.MonitorID, in.ThermometerLinkID, in.Status, in.TriggeredAt,
		nullableFloatPtr(in.Temperature), nullableFloatPtr(in.ThresholdLow), nullableFloatPtr(in.ThresholdHigh))
	return err
}

func (r Repo) GetIncident(ctx context.Context, id string) (domain.Incident, error) {
	row := r.q().QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents i JOIN monitor_thermometers mt ON mt.id = i.thermometer_link_id WHERE i.id=?`, id)
	return scanIncident(row.Scan)
}

// HasOpenIncident reports whether the thermometer link has an incident in
// TRIGGERED or ACKNOWLEDGED state.
func (r Repo) HasOpenIncident(ctx context.Context, linkID string) (bool, error) {
	var n int
	err := r.q().QueryRowContext(ctx,
		`SELECT COUNT(1) FROM incidents WHERE thermometer_link_id=? AND status IN ('TRIGGERED','ACKNOWLEDGED')`, linkID).Scan(&n)
	return n > 0, err
}

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	MonitorID     string
	LinkID        string
	ThermometerID string
	Status        domain.IncidentStatus
	After         string
	Before        string
	First         int
	Max           int
}

func (r Repo) ListIncidents(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error) {
	var clauses []string
	var args []any
	if filter.MonitorID != "" {
		clauses = append(clauses, "i.monitor_id=?")
		args = append(args, filter.MonitorID)
	}
	if filter.LinkID != "" {
		clauses = append(clauses, "i.thermometer_link_id=?")
		args = append(args, filter.LinkID)
	}
	if filter.ThermometerID != "" {
		clauses = append(clauses, "mt.thermometer_id=?")
		args = append(args, filter.ThermometerID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "i.status=?")
		args = append(args, filter.Status)
	}
	if filter.After != "" {
		clauses = append(clauses, "i.triggered_at > ?")
		args = append(args, filter.After)
	}
	if filter.Before != "" {
		clauses = append(clauses, "i.triggered_at < ?")
		args = append(args, filter.Before)
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents i JOIN monitor_thermometers mt ON mt.id = i.thermometer_link_id`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY i.triggered_at DESC, i.id DESC`
	query, args = applyFirstMax(query, args, filter.First, filter.Max)
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Incident
	for rows.Next() {
		in, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (r Repo) AcknowledgeIncident(ctx context.Context, id, at, by string) error {
	res, err := r.q().ExecContext(ctx,
		`UPDATE incidents SET status='ACKNOWLEDGED', acknowledged_at=?, acknowledged_by=? WHERE id=?`, at, by, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ResolveIncident(ctx context.Context, id, at, by string) error {
	res, err := r.q().ExecContext(ctx,
		`UPDATE incidents SET status='RESOLVED', resolved_at=?, resolved_by=? WHERE id=?`, at, by, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteIncident(ctx context.Context, id string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM incidents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
