package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-subs-manager/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestSetupWriterJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logging.SetupWriter(&buf, "PROD", "debug")
	log.Debug().Str("identity", "u1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["message"])
	require.Equal(t, "u1", entry["identity"])
	require.Equal(t, "debug", entry["level"])
}

func TestSetupWriterInvalidLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	logging.SetupWriter(&buf, "PROD", "chatty")
	log.Debug().Msg("hidden")
	require.Empty(t, buf.String())
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
