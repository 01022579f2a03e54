package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("KIYEOVO_TEST_VAR", "resolved")

	assert.Equal(t, "resolved", SubstituteEnvVars("${KIYEOVO_TEST_VAR}"))
	assert.Equal(t, "fallback", SubstituteEnvVars("${KIYEOVO_MISSING_VAR:fallback}"))
	assert.Equal(t, "", SubstituteEnvVars("${KIYEOVO_MISSING_VAR}"))
	assert.Equal(t, "plain", SubstituteEnvVars("plain"))
}

func TestSubstituteEnvVarsInConfig(t *testing.T) {
	t.Setenv("KIYEOVO_TEST_DSN", "postgres://localhost/kiyeovo")

	cfg := &Config{}
	cfg.Storage.DSN = "${KIYEOVO_TEST_DSN}"
	SubstituteEnvVarsInConfig(cfg)

	assert.Equal(t, "postgres://localhost/kiyeovo", cfg.Storage.DSN)
}

func TestGetEnvironment(t *testing.T) {
	os.Unsetenv("KIYEOVO_ENV")
	os.Unsetenv("ENVIRONMENT")
	assert.Equal(t, "development", GetEnvironment())

	t.Setenv("ENVIRONMENT", "Production")
	assert.Equal(t, "production", GetEnvironment())
	assert.True(t, IsProduction())

	t.Setenv("KIYEOVO_ENV", "Local")
	assert.Equal(t, "local", GetEnvironment())
	assert.True(t, IsDevelopment())
}
