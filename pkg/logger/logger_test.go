package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	require.Error(t, err)
}

func TestFieldsAreWritten(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.DebugLevel).With(String("ticker", "NIFTY-NSE-26000"))

	at := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)
	l.Info("candle finalized",
		Float64("close", 102.5),
		Int("ticks", 3),
		Bool("seeded", true),
		Time("at", at),
		Error(errors.New("boom")),
	)

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "info", out["level"])
	assert.Equal(t, "candle finalized", out["message"])
	assert.Equal(t, "NIFTY-NSE-26000", out["ticker"])
	assert.Equal(t, 102.5, out["close"])
	assert.Equal(t, float64(3), out["ticks"])
	assert.Equal(t, true, out["seeded"])
	assert.Equal(t, "boom", out["error"])
	assert.Contains(t, out, "at")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.WarnLevel)
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNopDiscards(t *testing.T) {
	assert.NotPanics(t, func() { NewNop().Error("nothing", Strings("k", []string{"a", "b"})) })
}
