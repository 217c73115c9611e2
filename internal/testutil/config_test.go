package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultTestDBConfig(t *testing.T) {
	t.Run("defaults to the local test database", func(t *testing.T) {
		for _, key := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME"} {
			t.Setenv(key, "")
		}

		assert.Equal(t, TestDBConfig{
			Host:     "localhost",
			Port:     "55432",
			User:     "analysis",
			Password: "analysis",
			DBName:   "analysis",
		}, DefaultTestDBConfig())
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		t.Setenv("TEST_DB_NAME", "analysis_ci")

		cfg := DefaultTestDBConfig()
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, "5432", cfg.Port)
		assert.Equal(t, "analysis_ci", cfg.DBName)
	})
}

func TestEnvBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "y"} {
		t.Setenv("TEST_DB_EPHEMERAL", v)
		assert.True(t, envBool("TEST_DB_EPHEMERAL"), v)
	}
	t.Setenv("TEST_DB_EPHEMERAL", "off")
	assert.False(t, envBool("TEST_DB_EPHEMERAL"))
}

func TestTestDBConfigDSN(t *testing.T) {
	t.Setenv("DB_SSL_MODE", "")
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", DBName: "analysis"}

	assert.Equal(t, "postgres://u:p%40ss@db:5432/analysis?sslmode=disable", cfg.DSN(""))
	assert.Equal(t, "postgres://u:p%40ss@db:5432/analysis?search_path=t_1%2Cpublic&sslmode=disable", cfg.DSN("t_1,public"))
}
