package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Connect(Config{Driver: "sqlite", DSN: fmt.Sprintf("file:dbtest_%p?mode=memory&cache=shared", t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, ExecAll(ctx, db,
		`CREATE TABLE parents (`+IDColumn("sqlite")+`, name TEXT NOT NULL UNIQUE)`,
		`CREATE TABLE children (`+IDColumn("sqlite")+`, parent_id BIGINT NOT NULL REFERENCES parents(id))`,
	))
	return db
}

func count(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func TestIDColumn(t *testing.T) {
	assert.Equal(t, "id INTEGER PRIMARY KEY AUTOINCREMENT", IDColumn("sqlite"))
	assert.Equal(t, "id BIGSERIAL PRIMARY KEY", IDColumn("postgres"))
	assert.Equal(t, "id BIGSERIAL PRIMARY KEY", IDColumn("pgx"))
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'UTC'", quoteLiteral("UTC"))
	assert.Equal(t, "'O''Brien'", quoteLiteral("O'Brien"))
}

func TestExecAll_ReportsFailingStatement(t *testing.T) {
	db := setupTestDB(t)
	err := ExecAll(context.Background(), db, "CREATE TABLE broken (\n nope nope nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREATE TABLE broken (")
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on nil", func(t *testing.T) {
		db := setupTestDB(t)
		err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO parents (name) VALUES ('a')`)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count(t, db, "parents"))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db := setupTestDB(t)
		boom := errors.New("boom")
		err := WithTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `INSERT INTO parents (name) VALUES ('a')`); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, count(t, db, "parents"))
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		db := setupTestDB(t)
		assert.Panics(t, func() {
			_ = WithTx(ctx, db, func(tx *sqlx.Tx) error {
				_, _ = tx.ExecContext(ctx, `INSERT INTO parents (name) VALUES ('a')`)
				panic("oops")
			})
		})
		// the single sqlite connection is usable again, so the tx was released
		assert.Equal(t, 0, count(t, db, "parents"))
	})
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Exec(`INSERT INTO parents (name) VALUES ('dup')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO parents (name) VALUES ('dup')`)
	require.Error(t, err)

	assert.True(t, IsUniqueViolation(err))
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsForeignKeyViolation(err))
}

func TestIsForeignKeyViolation_SQLite(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.Exec(`INSERT INTO children (parent_id) VALUES (42)`)
	require.Error(t, err)

	assert.True(t, IsForeignKeyViolation(err))
	assert.False(t, IsUniqueViolation(err))
}

func TestConstraintCodes_Postgres(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, IsForeignKeyViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))

	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}))

	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("UNIQUE constraint failed")))
}
