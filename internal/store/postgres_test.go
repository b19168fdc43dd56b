package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresKV(t *testing.T) (*PostgresKV, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresKV(db, "workflow_records"), mock
}

func TestPostgresKV_Get(t *testing.T) {
	kv, mock := newMockPostgresKV(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT version, data, updated_at FROM "workflow_records" WHERE key = \$1`).
		WithArgs("verification/session/s-1").
		WillReturnRows(sqlmock.NewRows([]string{"version", "data", "updated_at"}).
			AddRow(int64(4), []byte(`{"sessionId":"s-1"}`), now))

	rec, err := kv.Get(context.Background(), "verification/session/s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.Version)
	assert.JSONEq(t, `{"sessionId":"s-1"}`, string(rec.Data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_GetNotFound(t *testing.T) {
	kv, mock := newMockPostgresKV(t)

	mock.ExpectQuery(`SELECT version, data, updated_at FROM "workflow_records"`).
		WithArgs("trust/sme-9").
		WillReturnError(sql.ErrNoRows)

	_, err := kv.Get(context.Background(), "trust/sme-9")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_CompareAndSwap(t *testing.T) {
	tests := []struct {
		name         string
		expected     int64
		setup        func(mock sqlmock.Sqlmock)
		wantVersion  int64
		wantConflict bool
		wantErr      bool
	}{
		{
			name:     "create when absent",
			expected: 0,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO "workflow_records" .* ON CONFLICT \(key\) DO NOTHING`).
					WithArgs("k", `{"a":1}`, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantVersion: 1,
		},
		{
			name:     "create when present",
			expected: 0,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO "workflow_records"`).
					WithArgs("k", `{"a":1}`, sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantConflict: true,
		},
		{
			name:     "update matching version",
			expected: 3,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "workflow_records" SET version = version \+ 1, data = \$2, updated_at = \$3 WHERE key = \$1 AND version = \$4`).
					WithArgs("k", `{"a":1}`, sqlmock.AnyArg(), int64(3)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			wantVersion: 4,
		},
		{
			name:     "update stale version",
			expected: 3,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "workflow_records"`).
					WithArgs("k", `{"a":1}`, sqlmock.AnyArg(), int64(3)).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantConflict: true,
		},
		{
			name:     "driver failure",
			expected: 3,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`UPDATE "workflow_records"`).
					WillReturnError(errors.New("connection reset"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv, mock := newMockPostgresKV(t)
			tt.setup(mock)

			version, err := kv.CompareAndSwap(context.Background(), "k", tt.expected, []byte(`{"a":1}`))
			switch {
			case tt.wantConflict:
				assert.ErrorIs(t, err, ErrVersionConflict)
			case tt.wantErr:
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrVersionConflict)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantVersion, version)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresKV_PutAndMigrate(t *testing.T) {
	kv, mock := newMockPostgresKV(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "workflow_records"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO "workflow_records" .* ON CONFLICT \(key\) DO UPDATE .* RETURNING version`).
		WithArgs("negotiation/log/fr-1", `[]`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(7)))

	require.NoError(t, kv.Migrate(context.Background()))
	version, err := kv.Put(context.Background(), "negotiation/log/fr-1", []byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, int64(7), version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_Keys(t *testing.T) {
	kv, mock := newMockPostgresKV(t)

	mock.ExpectQuery(`SELECT key FROM "workflow_records" WHERE key LIKE \$1 ORDER BY key`).
		WithArgs(`verification/session/%`).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).
			AddRow("verification/session/s-1").
			AddRow("verification/session/s-2"))

	keys, err := kv.Keys(context.Background(), "verification/session/")
	require.NoError(t, err)
	assert.Equal(t, []string{"verification/session/s-1", "verification/session/s-2"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_KeysEscapesWildcards(t *testing.T) {
	kv, mock := newMockPostgresKV(t)

	mock.ExpectQuery(`SELECT key FROM "workflow_records"`).
		WithArgs(`a\_b\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"key"}))

	keys, err := kv.Keys(context.Background(), "a_b%")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
