package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/config"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Output: &buf})
	require.NoError(t, err)

	logger.Info("station created", "item_id", "i1", "order", 2)
	logger.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "station created", entry["msg"])
	assert.Equal(t, "i1", entry["item_id"])
	assert.Equal(t, float64(2), entry["order"])
	assert.Equal(t, "labflow", entry["component"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_TextDebugIncludesSource(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewFromConfig(config.LogConfig{Level: "debug"}, &buf)
	require.NoError(t, err)

	logger.Debug("progress skipped", "reason", "no workflow")

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, `reason="no workflow"`)
	assert.Contains(t, out, "source=")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Level: "verbose"})
	assert.ErrorContains(t, err, "log level")

	_, err = New(Options{Format: "xml"})
	assert.ErrorContains(t, err, "unsupported value")
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	assert.False(t, logger.Enabled(t.Context(), 12))
}
