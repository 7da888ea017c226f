package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("DATASTORE_URL", "postgres://crawler@db.test:5432/crawld")
	t.Setenv("DATASTORE_SERVICE_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://crawler@db.test:5432/crawld", cfg.DatastoreURL)
	assert.Equal(t, "secret", cfg.ServiceKey)
}

func TestLoadMissingVariables(t *testing.T) {
	t.Setenv("DATASTORE_URL", "")
	t.Setenv("DATASTORE_SERVICE_KEY", "secret")
	_, err := Load()
	assert.ErrorContains(t, err, "DATASTORE_URL")

	t.Setenv("DATASTORE_URL", "postgres://db.test/crawld")
	t.Setenv("DATASTORE_SERVICE_KEY", "")
	_, err = Load()
	assert.ErrorContains(t, err, "DATASTORE_SERVICE_KEY")
}

func TestGetEnv(t *testing.T) {
	t.Setenv("SOME_STRING", "value")
	assert.Equal(t, "value", GetEnv("SOME_STRING", "fallback"))
	assert.Equal(t, "fallback", GetEnv("SOME_MISSING_STRING", "fallback"))
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("SOME_INT", "42")
	assert.Equal(t, 42, GetEnvAsInt("SOME_INT", 7))
	t.Setenv("SOME_BAD_INT", "not-a-number")
	assert.Equal(t, 7, GetEnvAsInt("SOME_BAD_INT", 7))
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("SOME_FLOAT", "0.25")
	assert.Equal(t, 0.25, GetEnvAsFloat("SOME_FLOAT", 1.5))
	assert.Equal(t, 1.5, GetEnvAsFloat("SOME_MISSING_FLOAT", 1.5))
}
