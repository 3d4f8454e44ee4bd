package calllog

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"call-relay/pkg/utils"

	"github.com/jmoiron/sqlx"
)

const selectEntries = `
SELECT id, caller, receiver, start_time, end_time, duration_seconds, status
FROM call_logs`

// PostgresRepo stores entries in the call_logs table.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO call_logs (id, caller, receiver, start_time, end_time, duration_seconds, status)
VALUES (:id, :caller, :receiver, :start_time, :end_time, :duration_seconds, :status)
`
	_, err := r.db.NamedExecContext(ctx, q, e)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	if err := r.db.GetContext(ctx, &e, selectEntries+` WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func (r *PostgresRepo) FinishLatest(ctx context.Context, identity string, status Status, at time.Time) (Entry, error) {
	// Lock the candidate row so concurrent closes of the same call serialize.
	const q = selectEntries + `
WHERE status = 'ongoing' AND (caller = $1 OR receiver = $1)
ORDER BY start_time DESC
LIMIT 1
FOR UPDATE`
	return retryNotFoundOnce(func() (Entry, error) {
		return r.finish(ctx, q, identity, status, at)
	})
}

// retryNotFoundOnce runs fn a second time when it reports ErrNotFound. Under
// READ COMMITTED a row closed by another transaction while we waited for its
// lock is dropped from a LIMIT 1 result without the next row taking its place,
// so an older ongoing entry only shows up on a fresh query.
func retryNotFoundOnce(fn func() (Entry, error)) (Entry, error) {
	e, err := fn()
	if errors.Is(err, ErrNotFound) {
		return fn()
	}
	return e, err
}

func (r *PostgresRepo) FinishByID(ctx context.Context, id string, status Status, at time.Time) (Entry, error) {
	const q = selectEntries + `
WHERE id = $1
FOR UPDATE`
	return r.finish(ctx, q, id, status, at)
}

func (r *PostgresRepo) finish(ctx context.Context, lockQuery, arg string, status Status, at time.Time) (Entry, error) {
	var out Entry
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sqlx.Tx) error {
		var e Entry
		if err := tx.GetContext(ctx, &e, lockQuery, arg); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if err := e.Finish(status, at); err != nil {
			return err
		}
		const upd = `
UPDATE call_logs
SET end_time = $2, duration_seconds = $3, status = $4
WHERE id = $1 AND status = 'ongoing'
`
		if _, err := tx.ExecContext(ctx, upd, e.ID, e.EndTime, e.DurationSeconds, e.Status); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	var rows []struct {
		Status Status `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, count(*) AS count FROM call_logs GROUP BY status`); err != nil {
		return nil, err
	}
	out := make(map[Status]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *PostgresRepo) CountStarted(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM call_logs WHERE start_time >= $1 AND start_time < $2`, from, to)
	return n, err
}

func (r *PostgresRepo) CountByDay(ctx context.Context, from, to time.Time) ([]DayCount, error) {
	const q = `
SELECT date_trunc('day', start_time AT TIME ZONE 'UTC') AS day, count(*) AS count
FROM call_logs
WHERE start_time >= $1 AND start_time < $2
GROUP BY day
ORDER BY day
`
	var out []DayCount
	if err := r.db.SelectContext(ctx, &out, q, from, to); err != nil {
		return nil, err
	}
	return out, nil
}
