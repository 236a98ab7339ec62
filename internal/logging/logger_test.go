package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("debug", &buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("account_id", "a1").Info("login")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "login", line["msg"])
	assert.Equal(t, "a1", line["account_id"])
}

func TestNewUnknownLevel(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, NewWithOutput("loud", &bytes.Buffer{}).GetLevel())
}

func TestWatermillAdapter(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)

	adapter := NewWatermillAdapter(logger).With(watermill.LogFields{"topic": "warden.otp"})
	adapter.Error("publish failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "warden.otp", entry.Data["topic"])
	assert.Equal(t, 2, entry.Data["attempt"])
	assert.Equal(t, "watermill", entry.Data["component"])
	assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "boom")

	adapter.Trace("tick", nil)
	assert.Equal(t, logrus.TraceLevel, hook.LastEntry().Level)
}
