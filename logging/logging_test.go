package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barnybug/feedmux/config"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConf{Level: "warn"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", zap.String("key", "quotes/AAPL"))
	require.NoError(t, logger.Sync())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "quotes/AAPL", line["key"])
}

func TestNewDevelopment(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConf{Level: "debug", Development: true}, &buf)
	require.NoError(t, err)
	logger.Debug("intent", zap.String("op", "subscribe"))
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "intent")
	assert.Contains(t, buf.String(), `"op": "subscribe"`)
}

func TestNewBadLevel(t *testing.T) {
	_, err := New(config.LoggingConf{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}
