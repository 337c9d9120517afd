package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/realpolitik/push-relay/pkg/rules"
)

const schema = `
CREATE TABLE IF NOT EXISTS push_subscriptions (
	id           TEXT        NOT NULL,
	endpoint     TEXT        PRIMARY KEY,
	user_id      TEXT        NOT NULL,
	p256dh       TEXT        NOT NULL,
	auth         TEXT        NOT NULL,
	device_label TEXT        NOT NULL DEFAULT '',
	preferences  JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	last_seen_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS push_subscriptions_user_idx ON push_subscriptions (user_id);
`

// PostgresRegistry stores subscriptions one row per endpoint.
type PostgresRegistry struct {
	db *sqlx.DB
}

type subscriptionRow struct {
	ID          string    `db:"id"`
	Endpoint    string    `db:"endpoint"`
	UserID      string    `db:"user_id"`
	P256dh      string    `db:"p256dh"`
	Auth        string    `db:"auth"`
	DeviceLabel string    `db:"device_label"`
	Preferences []byte    `db:"preferences"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
}

// NewPostgresRegistry connects to Postgres and ensures the schema exists.
func NewPostgresRegistry(ctx context.Context, databaseURL string) (*PostgresRegistry, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresRegistry{db: db}, nil
}

func (r *PostgresRegistry) Upsert(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = newSubscriptionID()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	prefs, err := json.Marshal(sub.Preferences)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	// Existing rows keep their id and created_at; everything else is
	// replaced (last writer wins).
	const q = `
INSERT INTO push_subscriptions
	(id, endpoint, user_id, p256dh, auth, device_label, preferences, created_at, updated_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (endpoint) DO UPDATE SET
	user_id      = EXCLUDED.user_id,
	p256dh       = EXCLUDED.p256dh,
	auth         = EXCLUDED.auth,
	device_label = EXCLUDED.device_label,
	preferences  = EXCLUDED.preferences,
	updated_at   = EXCLUDED.updated_at,
	last_seen_at = EXCLUDED.last_seen_at
RETURNING id, created_at`

	row := r.db.QueryRowxContext(ctx, q,
		sub.ID, sub.Endpoint, sub.UserID, sub.Keys.P256dh, sub.Keys.Auth,
		sub.DeviceLabel, prefs, sub.CreatedAt, sub.UpdatedAt, sub.LastSeenAt)
	if err := row.Scan(&sub.ID, &sub.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) Get(ctx context.Context, endpoint string) (*Subscription, error) {
	var row subscriptionRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return row.toSubscription()
}

func (r *PostgresRegistry) List(ctx context.Context) ([]*Subscription, error) {
	var rows []subscriptionRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM push_subscriptions`); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return rowsToSubscriptions(rows)
}

func (r *PostgresRegistry) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	var rows []subscriptionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return rowsToSubscriptions(rows)
}

func (r *PostgresRegistry) Delete(ctx context.Context, endpoint string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRegistry) Close() error {
	return r.db.Close()
}

func (row *subscriptionRow) toSubscription() (*Subscription, error) {
	var prefs rules.Preferences
	if err := json.Unmarshal(row.Preferences, &prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preferences for %s: %w", row.Endpoint, err)
	}
	return &Subscription{
		ID:          row.ID,
		UserID:      row.UserID,
		Endpoint:    row.Endpoint,
		Keys:        Keys{P256dh: row.P256dh, Auth: row.Auth},
		DeviceLabel: row.DeviceLabel,
		Preferences: prefs,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		LastSeenAt:  row.LastSeenAt,
	}, nil
}

func rowsToSubscriptions(rows []subscriptionRow) ([]*Subscription, error) {
	out := make([]*Subscription, 0, len(rows))
	for i := range rows {
		sub, err := rows[i].toSubscription()
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}
