package database

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/resort-booking/internal/config"
)

func TestMigrationFilesOrdered(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_catalog.sql", "0002_bookings.sql"}, files)

	body, err := migrations.ReadFile("migrations/0001_catalog.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "booked_count <= capacity")
}

func TestTimestampsKeepMicroseconds(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	bare := regexp.MustCompile(`DATETIME\s`)
	for _, name := range files {
		body, err := migrations.ReadFile("migrations/" + name)
		require.NoError(t, err)
		assert.False(t, bare.Match(body), "%s declares a DATETIME without fractional seconds", name)
		assert.Contains(t, string(body), "DATETIME(6)")
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN(config.DBConfig{User: "app", Pass: "s3cret", Host: "db", Port: "3306", Name: "resort"})
	assert.Contains(t, dsn, "app:s3cret@tcp(db:3306)/resort?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "multiStatements=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}
