package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestNew_WritesMessageKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	logger, err := New(Config{Level: "info", Encoding: "json", OutputPaths: []string{path}}, zap.String("service", "ingest"))
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("tick ingested", zap.String("symbol", "NIFTY"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "tick ingested", entry["message"])
	assert.Equal(t, "NIFTY", entry["symbol"])
	assert.Equal(t, "ingest", entry["service"])
}
