// Package postgres provides the Postgres-backed outcome ledger.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// DefaultTable receives outcome rows when no table is configured.
const DefaultTable = "harvest_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// OutcomeStoreConfig controls the Postgres connection pool used for outcome rows.
type OutcomeStoreConfig struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// OutcomeStore writes one row per download outcome. It implements
// harvest.Recorder.
type OutcomeStore struct {
	pool  execCloser
	table string
	runID string
	now   func() time.Time
}

// NewOutcomeStore creates a Postgres-backed OutcomeStore using the provided config.
func NewOutcomeStore(ctx context.Context, cfg OutcomeStoreConfig) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &OutcomeStore{pool: pool, table: table, runID: cfg.RunID, now: utcNow}, nil
}

// NewOutcomeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewOutcomeStoreWithPool(pool execCloser, table, runID string) (*OutcomeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: pool, table: table, runID: runID, now: utcNow}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the outcome table when it does not exist.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        TEXT        NOT NULL,
	term          TEXT        NOT NULL,
	artifact_id   TEXT        NOT NULL,
	source_url    TEXT        NOT NULL,
	outcome       TEXT        NOT NULL,
	bytes         BIGINT      NOT NULL DEFAULT 0,
	location      TEXT,
	reason        TEXT,
	error_kind    TEXT,
	status_code   INTEGER,
	error_message TEXT,
	duration_ms   BIGINT      NOT NULL DEFAULT 0,
	recorded_at   TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create outcome table: %w", err)
	}
	return nil
}

// Record inserts an outcome row into Postgres.
func (s *OutcomeStore) Record(ctx context.Context, o harvest.Outcome) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	term,
	artifact_id,
	source_url,
	outcome,
	bytes,
	location,
	reason,
	error_kind,
	status_code,
	error_message,
	duration_ms,
	recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`, s.table)

	var (
		errKind    *string
		statusCode *int
		errMsg     *string
	)
	if o.Err != nil {
		kind := string(o.Err.Kind)
		msg := o.Err.Error()
		errKind, errMsg = &kind, &msg
		if o.Err.StatusCode != 0 {
			code := o.Err.StatusCode
			statusCode = &code
		}
	}
	args := []any{
		s.runID,
		o.Term,
		o.ID,
		o.URL,
		string(o.Kind),
		int64(o.Bytes),
		nullable(o.Location),
		nullable(o.Reason),
		errKind,
		statusCode,
		errMsg,
		o.Duration.Milliseconds(),
		s.now(),
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
