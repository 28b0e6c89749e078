package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn level", "WARN", zerolog.WarnLevel},
		{"default info", "", zerolog.InfoLevel},
		{"garbage falls back", "loud", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewWithWriter(&bytes.Buffer{}, tt.level, "prod")
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestProdWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "prod")

	logger.Info().Str("appointment_id", "a1").Msg("appointment confirmed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "appointment confirmed", line["message"])
	assert.Equal(t, "a1", line["appointment_id"])
	assert.Contains(t, line, "time")
}
