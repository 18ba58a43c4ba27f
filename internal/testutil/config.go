package testutil

import (
	"testing"

	"github.com/lepinkainen/librarian/internal/cache"
	"github.com/lepinkainen/librarian/internal/config"
	"github.com/spf13/viper"
)

// ConfigState holds the state of the config package variables.
type ConfigState struct {
	GoogleBooksAPIKey string
	VisionAPIKey      string
	ISBNdbAPIKey      string
}

// SaveConfigState captures the current state of config package variables.
func SaveConfigState() ConfigState {
	return ConfigState{
		GoogleBooksAPIKey: config.GoogleBooksAPIKey,
		VisionAPIKey:      config.VisionAPIKey,
		ISBNdbAPIKey:      config.ISBNdbAPIKey,
	}
}

// RestoreConfigState restores the config package variables to a saved state.
func RestoreConfigState(state ConfigState) {
	config.GoogleBooksAPIKey = state.GoogleBooksAPIKey
	config.VisionAPIKey = state.VisionAPIKey
	config.ISBNdbAPIKey = state.ISBNdbAPIKey
}

// ResetConfig resets viper to the application defaults with every API key
// cleared, restoring the previous state when the test completes.
func ResetConfig(t *testing.T) {
	t.Helper()

	state := SaveConfigState()
	viper.Reset()
	config.SetDefaults()
	RestoreConfigState(ConfigState{})

	t.Cleanup(func() {
		RestoreConfigState(state)
		viper.Reset()
	})
}

// SetViperValue sets a viper configuration value and schedules cleanup.
func SetViperValue(t *testing.T, key string, value any) {
	t.Helper()

	oldValue := viper.Get(key)
	hadValue := viper.IsSet(key)

	viper.Set(key, value)

	t.Cleanup(func() {
		if hadValue {
			viper.Set(key, oldValue)
		}
		// viper has no Unset, so a key that was unset stays set
	})
}

// SetupTestCache points the lookup cache at a database inside env and
// resets the shared cache handle around the test.
func SetupTestCache(t *testing.T, env *TestEnv) string {
	t.Helper()

	dbPath := env.Path("cache", "test-cache.db")
	env.MkdirAll("cache")

	SetViperValue(t, "cache.dbfile", dbPath)
	SetViperValue(t, "cache.ttl", "24h")
	_ = cache.ResetGlobalCache()
	t.Cleanup(func() { _ = cache.ResetGlobalCache() })

	return dbPath
}
