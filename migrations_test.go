package chatrelay_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/chatrelay"
)

func TestMigrationNames(t *testing.T) {
	for _, driver := range []string{"mysql", "postgres", "sqlite3"} {
		names, err := chatrelay.MigrationNames(driver)
		require.NoError(t, err, driver)
		assert.Equal(t, []string{"migrations/" + driver + "/0001_create_message.sql"}, names)
	}

	_, err := chatrelay.MigrationNames("oracle")
	assert.True(t, chatrelay.HasCode(err, chatrelay.ErrCodeConfiguration))
}

func TestApplyMigrations_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, chatrelay.ApplyMigrations(ctx, db, "sqlite3"))
	require.NoError(t, chatrelay.ApplyMigrations(ctx, db, "sqlite3"), "migrations must be idempotent")

	_, err = db.ExecContext(ctx,
		"INSERT INTO chatrelay_message (sender_id, receiver_id, body, created_at) VALUES (1, 2, 'hi', CURRENT_TIMESTAMP)")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chatrelay_message").Scan(&count))
	assert.Equal(t, 1, count)
}
