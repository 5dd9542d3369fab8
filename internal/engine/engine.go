// Package engine implements the incident and escalation core: threshold
// evaluation on incoming readings, the incident state machine, the
// priority/delay paging scheduler, the sensor-lost detector and the
// monitor activation resolver. Every unit of work runs in one
// transaction so read-decide-write sequences are not interleaved.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"thermoline/internal/config"
	"thermoline/internal/events"
	"thermoline/internal/lookup"
	"thermoline/internal/notify"
	"thermoline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Mailer notify.Mailer
	Lookup lookup.Resolver
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	log := zap.NewNop()
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Mailer: notify.LogMailer{Log: log},
		Lookup: lookup.Static{},
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// withTx runs fn inside a transaction, handing it a transaction-bound
// repo copy.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx, r repo.Repo) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx, e.Repo.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidationError rejects a request whose payload violates an invariant
// (bad schedule times, wrong status for a monitor type, missing fields).
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateError rejects a forbidden state transition (mutating a RESOLVED
// incident, re-entering TRIGGERED).
type StateError struct {
	Msg string
}

func (e StateError) Error() string { return e.Msg }

func statef(format string, args ...any) error {
	return StateError{Msg: fmt.Sprintf(format, args...)}
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}
