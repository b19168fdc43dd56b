package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresKV stores records as JSONB rows keyed by record key.
type PostgresKV struct {
	db    *sql.DB
	table string
}

func NewPostgresKV(db *sql.DB, table string) *PostgresKV {
	if table == "" {
		table = "workflow_records"
	}
	return &PostgresKV{db: db, table: pq.QuoteIdentifier(table)}
}

// Migrate creates the records table if it does not exist.
func (p *PostgresKV) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		version BIGINT NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`, p.table))
	if err != nil {
		return fmt.Errorf("migrate %s: %w", p.table, err)
	}
	return nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) (*Record, error) {
	rec := Record{Key: key}
	err := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT version, data, updated_at FROM %s WHERE key = $1`, p.table),
		key,
	).Scan(&rec.Version, &rec.Data, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return &rec, nil
}

func (p *PostgresKV) Put(ctx context.Context, key string, data []byte) (int64, error) {
	var version int64
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(
		`INSERT INTO %[1]s (key, version, data, updated_at) VALUES ($1, 1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET version = %[1]s.version + 1, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
		RETURNING version`, p.table),
		key, string(data), time.Now().UTC(),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", key, err)
	}
	return version, nil
}

func (p *PostgresKV) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, data []byte) (int64, error) {
	var (
		res sql.Result
		err error
	)
	now := time.Now().UTC()

	if expectedVersion == 0 {
		res, err = p.db.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO %s (key, version, data, updated_at) VALUES ($1, 1, $2, $3) ON CONFLICT (key) DO NOTHING`, p.table),
			key, string(data), now,
		)
	} else {
		res, err = p.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET version = version + 1, data = $2, updated_at = $3 WHERE key = $1 AND version = $4`, p.table),
			key, string(data), now, expectedVersion,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("compare-and-swap %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("compare-and-swap %s: %w", key, err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (p *PostgresKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE $1 ORDER BY key`, p.table),
		likeEscaper.Replace(prefix)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}
