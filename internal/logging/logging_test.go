package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToInfo(t *testing.T) {
	logger := New("shouting")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger = New("debug")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestLogErrorWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info")
	logger.SetOutput(&buf)

	LogError(logger, "service", "CreateSale", "compensate", map[string]any{"saga_id": "abc"}, errors.New("restore failed"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "service", entry["module"])
	assert.Equal(t, "CreateSale", entry["funcName"])
	assert.Equal(t, "compensate", entry["context"])
	assert.Equal(t, "restore failed", entry["msg"])
	assert.Equal(t, "error", entry["level"])
	assert.NotNil(t, entry["data"])
}
