package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS admission_events (
		id          TEXT PRIMARY KEY,
		policy      TEXT NOT NULL,
		mode        TEXT NOT NULL,
		key         TEXT NOT NULL,
		allowed     BOOLEAN NOT NULL,
		reason      TEXT,
		degraded    BOOLEAN NOT NULL DEFAULT FALSE,
		request_id  TEXT,
		client_ip   TEXT,
		decided_at  TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS admission_events_policy_decided_at
		ON admission_events (policy, decided_at DESC);
`

// PostgresStore is a PostgreSQL implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the events table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)

	return err
}

// SaveAdmission inserts event. Redelivered events are ignored.
func (p *PostgresStore) SaveAdmission(ctx context.Context, event *AdmissionEvent) error {
	query := `
		INSERT INTO admission_events
			(id, policy, mode, key, allowed, reason, degraded, request_id, client_ip, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := p.pool.Exec(ctx, query,
		event.ID,
		event.Policy,
		event.Mode,
		event.Key,
		event.Allowed,
		nullableString(event.Reason),
		event.Degraded,
		nullableString(event.RequestID),
		nullableString(event.ClientIP),
		event.At,
	)

	return err
}

// Recent returns the latest events of policy decided after since, newest first.
func (p *PostgresStore) Recent(ctx context.Context, policy string, since time.Time, limit int) ([]AdmissionEvent, error) {
	query := `
		SELECT id, policy, mode, key, allowed, COALESCE(reason, ''), degraded,
		       COALESCE(request_id, ''), COALESCE(client_ip, ''), decided_at
		FROM admission_events
		WHERE policy = $1 AND decided_at > $2
		ORDER BY decided_at DESC
		LIMIT $3
	`

	rows, err := p.pool.Query(ctx, query, policy, since, limit)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AdmissionEvent, error) {
		var e AdmissionEvent

		err := row.Scan(
			&e.ID, &e.Policy, &e.Mode, &e.Key, &e.Allowed, &e.Reason, &e.Degraded,
			&e.RequestID, &e.ClientIP, &e.At,
		)

		return e, err
	})
}

// Ping checks database connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

var _ Store = (*PostgresStore)(nil)
