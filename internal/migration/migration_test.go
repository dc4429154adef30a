package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRunAutoMigratesNonPostgres(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn))
	for _, table := range []string{
		"tenant_billing_states",
		"billing_overrides",
		"audit_logs",
		"invoices",
		"invoice_line_items",
		"invoice_payments",
		"invoice_sequences",
		"invoice_change_orders",
		"payment_events",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestEmbeddedMigrationsCoverEveryModel(t *testing.T) {
	files, err := fs.Glob(embeddedMigrations, "migrations/*.up.sql")
	require.NoError(t, err)
	var sql string
	for _, name := range files {
		raw, err := fs.ReadFile(embeddedMigrations, name)
		require.NoError(t, err)
		sql += string(raw)
	}

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	for _, model := range Models() {
		stmt := &gorm.Statement{DB: conn}
		require.NoError(t, stmt.Parse(model))
		assert.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+stmt.Schema.Table+" ("), stmt.Schema.Table)
	}
}
