package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	require.NoError(t, SetupWriter(&buf, "info", false))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	logger := GetLogger("merger")
	logger.Debug().Msg("hidden")
	logger.Info().Str("branch", "master").Msg("Merged")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "merger", entry["component"])
	assert.Equal(t, "master", entry["branch"])
	assert.Equal(t, "Merged", entry["message"])
}

func TestSetupWriterLevels(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	var buf bytes.Buffer
	require.NoError(t, SetupWriter(&buf, "", true))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	assert.Error(t, SetupWriter(&buf, "loud", false))
}
