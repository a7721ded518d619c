package testhelpers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger routes the global logger to the test output for the duration of
// the test. Tests that call this must not run in parallel.
func SetupLogger(t *testing.T) {
	t.Helper()

	originalLogger := log.Logger
	originalContextLogger := zerolog.DefaultContextLogger

	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).
		Level(zerolog.DebugLevel).
		With().Timestamp().
		Logger()
	zerolog.DefaultContextLogger = &log.Logger

	t.Cleanup(func() {
		log.Logger = originalLogger
		zerolog.DefaultContextLogger = originalContextLogger
	})
}
