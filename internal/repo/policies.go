package repo

import (
	"context"
	"database/sql"

	"thermoline/internal/domain"
)

// Contacts

const contactColumns = `id,name,contact_type,contact,created_by,modified_by,created_at`

func scanContact(scan func(dest ...any) error) (domain.PagingPolicyContact, error) {
	var c domain.PagingPolicyContact
	err := scan(&c.ID, &c.Name, &c.Type, &c.Contact, &c.CreatedBy, &c.ModifiedBy, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertContact(ctx context.Context, c domain.PagingPolicyContact) error {
	_, err := r.q().ExecContext(ctx,
		`INSERT INTO contacts(`+contactColumns+`) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Type, c.Contact, c.CreatedBy, c.ModifiedBy, c.CreatedAt)
	return err
}

func (r Repo) GetContact(ctx context.Context, id string) (domain.PagingPolicyContact, error) {
	row := r.q().QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id=?`, id)
	return scanContact(row.Scan)
}

func (r Repo) ListContacts(ctx context.Context) ([]domain.PagingPolicyContact, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PagingPolicyContact
	for rows.Next() {
		c, err := scanContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateContact(ctx context.Context, c domain.PagingPolicyContact) error {
	res, err := r.q().ExecContext(ctx,
		`UPDATE contacts SET name=?, contact_type=?, contact=?, modified_by=? WHERE id=?`,
		c.Name, c.Type, c.Contact, c.ModifiedBy, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteContact(ctx context.Context, id string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM contacts WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Paging policies

const policyColumns = `id,monitor_id,contact_id,priority,escalation_delay_seconds,created_by,modified_by,created_at`

func scanPolicy(scan func(dest ...any) error) (domain.PagingPolicy, error) {
	var p domain.PagingPolicy
	err := scan(&p.ID, &p.MonitorID, &p.ContactID, &p.Priority, &p.EscalationDelaySeconds, &p.CreatedBy, &p.ModifiedBy, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertPolicy(ctx context.Context, p domain.PagingPolicy) error {
	_, err := r.q().ExecContext(ctx,
		`INSERT INTO paging_policies(`+policyColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.MonitorID, p.ContactID, p.Priority, p.EscalationDelaySeconds, p.CreatedBy, p.ModifiedBy, p.CreatedAt)
	return err
}

func (r Repo) GetPolicy(ctx context.Context, id string) (domain.PagingPolicy, error) {
	row := r.q().QueryRowContext(ctx, `SELECT `+policyColumns+` FROM paging_policies WHERE id=?`, id)
	return scanPolicy(row.Scan)
}

// ListPoliciesByMonitor returns the escalation chain in canonical firing
// order: priority ascending, delay ascending, creation as final tie-break.
func (r Repo) ListPoliciesByMonitor(ctx context.Context, monitorID string) ([]domain.PagingPolicy, error) {
	rows, err := r.q().QueryContext(ctx,
		`SELECT `+policyColumns+` FROM paging_policies WHERE monitor_id=? ORDER BY priority, escalation_delay_seconds, created_at, id`,
		monitorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPolicies(rows)
}

func (r Repo) ListPoliciesByContact(ctx context.Context, contactID string) ([]domain.PagingPolicy, error) {
	rows, err := r.q().QueryContext(ctx,
		`SELECT `+policyColumns+` FROM paging_policies WHERE contact_id=? ORDER BY created_at, id`, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPolicies(rows)
}

func collectPolicies(rows *sql.Rows) ([]domain.PagingPolicy, error) {
	var res []domain.PagingPolicy
	for rows.Next() {
		p, err := scanPolicy(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdatePolicy(ctx context.Context, p domain.PagingPolicy) error {
	res, err := r.q().ExecContext(ctx,
		`UPDATE paging_policies SET priority=?, escalation_delay_seconds=?, contact_id=?, modified_by=? WHERE id=?`,
		p.Priority, p.EscalationDelaySeconds, p.ContactID, p.ModifiedBy, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeletePolicy(ctx context.Context, id string) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM paging_policies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Paged policies (append-only firing records)

func (r Repo) InsertPagedPolicy(ctx context.Context, p domain.PagedPolicy) error {
	_, err := r.q().ExecContext(ctx,
		`INSERT INTO paged_policies(id,incident_id,policy_id,created_at) VALUES (?,?,?,?)`,
		p.ID, p.IncidentID, p.PolicyID, p.CreatedAt)
	return err
}

// ListPagedByIncident returns firing records most recent first.
func (r Repo) ListPagedByIncident(ctx context.Context, incidentID string) ([]domain.PagedPolicy, error) {
	rows, err := r.q().QueryContext(ctx,
		`SELECT id,incident_id,policy_id,created_at FROM paged_policies WHERE incident_id=? ORDER BY created_at DESC, id DESC`,
		incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPaged(rows)
}

func (r Repo) ListPagedByPolicy(ctx context.Context, policyID string) ([]domain.PagedPolicy, error) {
	rows, err := r.q().QueryContext(ctx,
		`SELECT id,incident_id,policy_id,created_at FROM paged_policies WHERE policy_id=? ORDER BY created_at DESC, id DESC`,
		policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPaged(rows)
}

func collectPaged(rows *sql.Rows) ([]domain.PagedPolicy, error) {
	var res []domain.PagedPolicy
	for rows.Next() {
		var p domain.PagedPolicy
		if err := rows.Scan(&p.ID, &p.IncidentID, &p.PolicyID, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeletePagedByIncident(ctx context.Context, incidentID string) error {
	_, err := r.q().ExecContext(ctx, `DELETE FROM paged_policies WHERE incident_id=?`, incidentID)
	return err
}

func (r Repo) DeletePagedByPolicy(ctx context.Context, policyID string) error {
	_, err := r.q().ExecContext(ctx, `DELETE FROM paged_policies WHERE policy_id=?`, policyID)
	return err
}
