// Package audit persists authorization decisions for later review.
package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/0gfoundation/agent-paygate/internal/authorize"
)

// Execer is the slice of a pgx pool the sink uses; *pgxpool.Pool and
// pgxmock pools satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schema = `CREATE TABLE IF NOT EXISTS authorization_decisions (
	id          UUID PRIMARY KEY,
	merchant_id TEXT NOT NULL,
	agent       TEXT NOT NULL,
	amount      NUMERIC(78, 0),
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	scope       TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	decided_at  TIMESTAMPTZ NOT NULL
)`

const insertDecision = `INSERT INTO authorization_decisions
		(id, merchant_id, agent, amount, outcome, reason, scope, detail, decided_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`

// PostgresSink appends one row per decision.
type PostgresSink struct {
	db Execer
}

func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the decisions table if it is missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create authorization_decisions: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, d authorize.Decision) error {
	var amount any
	if a := d.AmountString(); a != "" {
		amount = a
	}
	_, err := s.db.Exec(ctx, insertDecision,
		d.ID,
		d.MerchantID,
		d.Agent.Hex(),
		amount,
		string(d.Outcome),
		string(d.Reason),
		d.Scope,
		d.Detail,
		d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

// NopSink discards decisions. Used when no database is configured.
type NopSink struct{}

func (NopSink) Write(context.Context, authorize.Decision) error { return nil }

// Connect opens and pings a pool for databaseURL.
func Connect(ctx context.Context, databaseURL string, log *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	log.Info("audit database connected",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
	)
	return pool, nil
}
