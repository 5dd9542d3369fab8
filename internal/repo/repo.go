package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"thermoline/internal/domain"
)

// Repo provides SQL persistence for monitors, incidents and policies.
// WithTx returns a copy bound to a transaction so read-decide-write
// sequences run atomically.
type Repo struct {
	DB *sql.DB
	tx *sql.Tx
}

var ErrNotFound = errors.New("not found")

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) WithTx(tx *sql.Tx) Repo {
	r.tx = tx
	return r
}

func (r Repo) q() dbtx {
	if r.tx != nil {
		return r.tx
	}
	return r.DB
}

// IsUniqueViolation reports whether err is a SQLite unique-constraint
// failure (the open-incident partial index relies on this).
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Monitors

const monitorColumns = `id,name,status,monitor_type,threshold_low,threshold_high,active_from,active_to,created_by,modified_by,created_at`

func scanMonitor(scan func(dest ...any) error) (domain.ThermalMonitor, error) {
	var m domain.ThermalMonitor
	var low, high sql.NullFloat64
	var from, to sql.NullString
	err := scan(&m.ID, &m.Name, &m.Status, &m.Type, &low, &high, &from, &to, &m.CreatedBy, &m.ModifiedBy, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if low.Valid {
		m.ThresholdLow = &low.Float64
	}
	if high.Valid {
		m.ThresholdHigh = &high.Float64
	}
	if from.Valid {
		m.ActiveFrom = &from.String
	}
	if to.Valid {
		m.ActiveTo = &to.String
	}
	return m, nil
}

func (r Repo) InsertMonitor(ctx context.Context, m domain.ThermalMonitor) error {
	_, err := r.q().ExecContext(ctx,
		`INSERT INTO monitors(`+monitorColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Name, m.Status, m.Type, nullableFloatPtr(m.ThresholdLow), nullableFloatPtr(m.ThresholdHigh),
		nullableStringPtr(m.ActiveFrom), nullableStringPtr(m.ActiveTo), m.CreatedBy, m.ModifiedBy, m.CreatedAt)
	return err
}

func (r Repo) GetMonitor(ctx context.Context, id string) (domain.ThermalMonitor, error) {
	row := r.q().QueryRowContext(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id=?`, id)
	return scanMonitor(row.Scan)
}

// MonitorFilter narrows ListMonitors. Zero values mean "no filter".
type MonitorFilter struct {
	Status domain.MonitorStatus
	Type   domain.MonitorType
	// ActiveFromBefore matches monitors whose active_from is before the
	// instant or absent (used by the one-off activation sweep).
	ActiveFromBefore string
	// ActiveToBefore matches monitors whose active_to is before the
	// instant (used by the one-off finish sweep).
	ActiveToBefore string
	First          int
	Max            int
}

func (r Repo) ListMonitors(ctx context.Context, filter MonitorFilter) ([]domain.ThermalMonitor, error) {
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		clauses = append(clauses, "monitor_type=?")
		args = append(args, filter.Type)
	}
	if filter.ActiveFromBefore != "" {
		clauses = append(clauses, "(active_from IS NULL OR active_from <= ?)")
		args = append(args, filter.ActiveFromBefore)
	}
	if filter.ActiveToBefore != "" {
		clauses = append(clauses, "(active_to IS NOT NULL AND active_to <= ?)")
		args = append(args, filter.ActiveToBefore)
	}
	query := `SELECT ` + monitorColumns + ` FROM monitors`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	query, args = applyFirstMax(query, args, filter.First, filter.Max)
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ThermalMonitor
	for rows.Next() {
		m, err := scanMonitor(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpdateMonitor(ctx context.Context, m domain.ThermalMonitor) error {
	res, err := r.q().ExecContext(ctx,
		`UPDATE monitors SET name=?, status=?, threshold_low=?, threshold_high=?, active_from=?, active_to=?, modified_by=? WHERE id=?`,
		m.Name, m.Status, nullableFloatPtr(m.ThresholdLow), nullableFloatPtr(m.ThresholdHigh),
		nullableStringPtr(m.ActiveFrom), nullableStringPtr(m.ActiveTo), m.ModifiedBy, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetMonitorStatus(ctx context.Context, id string, status domain.MonitorStatus) error {
	res, err := r.q().ExecContext(ctx, `UPDATE monitors SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteMonitor(ctx context.Context, id string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM monitors WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Schedule periods

func (r Repo) InsertSchedulePeriod(ctx context.Context, p domain.SchedulePeriod) error {
	_, err := r.q().ExecContext(ctx,
		`INSERT INTO schedule_periods(id,monitor_id,start_weekday,start_hour,start_minute,end_weekday,end_hour,end_minute) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.MonitorID, p.Start.Weekday, p.Start.Hour, p.Start.Minute, p.End.Weekday, p.End.Hour, p.End.Minute)
	return err
}

func (r Repo) ListSchedulePeriods(ctx context.Context, monitorID string) ([]domain.SchedulePeriod, error) {
	rows, err := r.q().QueryContext(ctx,
		`SELECT id,monitor_id,start_weekday,start_hour,start_minute,end_weekday,end_hour,end_minute FROM schedule_periods WHERE monitor_id=? ORDER BY start_weekday, start_hour, start_minute`,
		monitorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SchedulePeriod
	for rows.Next() {
		var p domain.SchedulePeriod
		if err := rows.Scan(&p.ID, &p.MonitorID, &p.Start.Weekday, &p.Start.Hour, &p.Start.Minute, &p.End.Weekday, &p.End.Hour, &p.End.Minute); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeleteSchedulePeriods(ctx context.Context, monitorID string) error {
	_, err := r.q().ExecContext(ctx, `DELETE FROM schedule_periods WHERE monitor_id=?`, monitorID)
	return err
}

// Thermometer links

const thermometerColumns = `id,monitor_id,thermometer_id,archived,last_measured_at,created_at`

func scanThermometer(scan func(dest ...any) error) (domain.MonitorThermometer, error) {
	var t domain.MonitorThermometer
	var archived int
	var last sql.NullInt64
	err := scan(&t.ID, &t.MonitorID, &t.ThermometerID, &archived, &last, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Archived = archived != 0
	if last.Valid {
		t.LastMeasuredAt = &last.Int64
	}
	return t, nil
}

func (r Repo) InsertThermometer(ctx context.Context, t domain.MonitorThermometer, actorID string) error {
	_, err := r.q().ExecContext(ctx,
		`INSERT INTO monitor_thermometers(id,monitor_id,thermometer_id,archived,last_measured_at,created_by,modified_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.MonitorID, t.ThermometerID, boolToInt(t.Archived), nullableInt64Ptr(t.LastMeasuredAt), actorID, actorID, t.CreatedAt)
	return err
}

func (r Repo) GetThermometer(ctx context.Context, id string) (domain.MonitorThermometer, error) {
	row := r.q().QueryRowContext(ctx, `SELECT `+thermometerColumns+` FROM monitor_thermometers WHERE id=?`, id)
	return scanThermometer(row.Scan)
}

// ThermometerFilter narrows ListThermometers.
type ThermometerFilter struct {
	MonitorID     string
	ThermometerID string
	// OnlyActive restricts to non-archived links on ACTIVE monitors.
	OnlyActive      bool
	IncludeArchived bool
}

func (r Repo) ListThermometers(ctx context.Context, filter ThermometerFilter) ([]domain.MonitorThermometer, error) {
	var clauses []string
	var args []any
	query := `SELECT mt.id,mt.monitor_id,mt.thermometer_id,mt.archived,mt.last_measured_at,mt.created_at FROM monitor_thermometers mt`
	if filter.OnlyActive {
		query += ` JOIN monitors m ON m.id = mt.monitor_id`
		clauses = append(clauses, "m.status='ACTIVE'", "mt.archived=0")
	} else if !filter.IncludeArchived {
		clauses = append(clauses, "mt.archived=0")
	}
	if filter.MonitorID != "" {
		clauses = append(clauses, "mt.monitor_id=?")
		args = append(args, filter.MonitorID)
	}
	if filter.ThermometerID != "" {
		clauses = append(clauses, "mt.thermometer_id=?")
		args = append(args, filter.ThermometerID)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY mt.created_at, mt.id`
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MonitorThermometer
	for rows.Next() {
		t, err := scanThermometer(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListLostThermometers returns non-archived links on ACTIVE monitors that
// have been silent past the cutoff. A link that never measured counts
// once its monitor is older than the cutoff.
func (r Repo) ListLostThermometers(ctx context.Context, cutoffMillis int64, cutoff string) ([]domain.MonitorThermometer, error) {
	rows, err := r.q().QueryContext(ctx,
		`SELECT mt.id,mt.monitor_id,mt.thermometer_id,mt.archived,mt.last_measured_at,mt.created_at
		 FROM monitor_thermometers mt
		 JOIN monitors m ON m.id = mt.monitor_id
		 WHERE m.status='ACTIVE' AND mt.archived=0
		   AND (mt.last_measured_at < ? OR (mt.last_measured_at IS NULL AND m.created_at < ?))
		 ORDER BY mt.created_at, mt.id`,
		cutoffMillis, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MonitorThermometer
	for rows.Next() {
		t, err := scanThermometer(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateThermometerLastMeasured(ctx context.Context, id string, measuredAt int64) error {
	res, err := r.q().ExecContext(ctx, `UPDATE monitor_thermometers SET last_measured_at=? WHERE id=?`, measuredAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ArchiveThermometer(ctx context.Context, id, actorID string) error {
	res, err := r.q().ExecContext(ctx, `UPDATE monitor_thermometers SET archived=1, modified_by=? WHERE id=?`, actorID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteThermometer(ctx context.Context, id string) error {
	_, err := r.q().ExecContext(ctx, `DELETE FROM monitor_thermometers WHERE id=?`, id)
	return err
}

// Events

func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64) ([]domain.Event, error) {
	query := `SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id > ? ORDER BY id`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// helpers

func applyFirstMax(query string, args []any, first, max int) (string, []any) {
	if max > 0 {
		query += ` LIMIT ?`
		args = append(args, max)
		if first > 0 {
			query += ` OFFSET ?`
			args = append(args, first)
		}
	} else if first > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, first)
	}
	return query, args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
