package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/possync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestRunMigratesEmbeddedDatabase(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migration_test?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	cfg := config.Config{DBType: "sqlite"}
	require.NoError(t, Run(conn, cfg))
	require.NoError(t, Run(conn, cfg), "migrating twice is a no-op")

	for _, table := range []string{"contingencies", "sync_events", "quotes", "sales", "payments", "clients"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestEmbeddedMigrationsCoverEveryTable(t *testing.T) {
	up, err := fs.ReadFile(embeddedMigrations, "sql/000001_init.up.sql")
	require.NoError(t, err)
	down, err := fs.ReadFile(embeddedMigrations, "sql/000001_init.down.sql")
	require.NoError(t, err)

	conn, err := gorm.Open(sqlite.Open("file:migration_names?mode=memory"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	for _, model := range Models() {
		stmt := &gorm.Statement{DB: conn}
		require.NoError(t, stmt.Parse(model))
		table := stmt.Schema.Table
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
		assert.Contains(t, string(down), "DROP TABLE IF EXISTS "+table+";", table)

		for _, field := range stmt.Schema.Fields {
			if field.DBName == "" {
				continue
			}
			assert.True(t, strings.Contains(string(up), "    "+field.DBName+" "), "%s.%s", table, field.DBName)
		}
	}
}

func TestRunRequiresConnection(t *testing.T) {
	assert.Error(t, Run(nil, config.Config{}))
}
