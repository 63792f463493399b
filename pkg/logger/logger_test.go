package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormatIncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New("ingest", Config{Level: "debug", Format: "json", Output: &buf})

	log.WithField("addr", "127.0.0.1:5000").Info("listening")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ingest", entry["component"])
	assert.Equal(t, "127.0.0.1:5000", entry["addr"])
	assert.Equal(t, "listening", entry["msg"])
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log := New("x", Config{Level: "loud"})
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())
}

func TestNamed_SharesOutput(t *testing.T) {
	var buf bytes.Buffer
	parent := New("app", Config{Format: "json", Output: &buf})
	child := parent.Named("relay")

	child.Warn("send failed")

	assert.Equal(t, "relay", child.Component())
	assert.Contains(t, buf.String(), `"component":"relay"`)
}
