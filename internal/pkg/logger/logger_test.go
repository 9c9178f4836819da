package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Format: "json", Output: &buf}).With("history")

	log.Error("update failed", errors.New("disk full"), map[string]interface{}{"history_id": "h1"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "update failed", line["message"])
	assert.Equal(t, "disk full", line["error"])
	assert.Equal(t, "h1", line["history_id"])
	assert.Equal(t, "history", line["component"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "info", Format: "json", Output: &buf})

	log.Debug("hidden", nil)
	assert.Zero(t, buf.Len())

	log.Info("shown", nil)
	assert.NotZero(t, buf.Len())
}
