// Package testlog applies the test logging profile and tags output with
// the running test's name.
package testlog

import (
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/mwyndham/gatewire/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Debug().Str("test", t.Name()).Msg("start")
}
