package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor, peer, handle, call_kind, reason, created_at)
VALUES (:id, :type, :actor, :peer, :handle, :call_kind, :reason, :created_at)
`
	_, err := r.db.NamedExecContext(ctx, q, e)
	return err
}
