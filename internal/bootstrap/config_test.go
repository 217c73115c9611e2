package bootstrap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmarket/analysis-pipeline/config"
)

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: ""}))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: "http,scheduler"}))

	cfg := &config.AppConfig{Services: "worker"}
	cfg.Identity.Mode = config.IdentityModeDev
	err := ValidateServiceConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEV=true")

	cfg.IsDev = true
	require.NoError(t, ValidateServiceConfig(cfg))
}

func TestGetEnabledServices(t *testing.T) {
	assert.Empty(t, GetEnabledServices(nil))
	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Equal(t, []string{"http", "worker", "sweeper"},
		GetEnabledServices(&config.AppConfig{Services: "sweeper, HTTP,worker"}))
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug").Debug("visible")
	assert.Contains(t, buf.String(), "visible")

	buf.Reset()
	newLogger(&buf, "nonsense").Debug("hidden")
	assert.Empty(t, buf.String())
}
