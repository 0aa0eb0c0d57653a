package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   Level
		want zerolog.Level
	}{
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	ep := WithEndpoint("storage-out")
	conn := WithConnection(ep, "c0ffee")
	conn.Info().Msg("peer connected")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "endpoint", rec["component"])
	assert.Equal(t, "storage-out", rec["endpoint"])
	assert.Equal(t, "c0ffee", rec["conn_id"])
	assert.Equal(t, "peer connected", rec["message"])

	buf.Reset()
	muxLogger := WithMuxer("sql")
	muxLogger.Debug().Msg("spilled")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "muxer", rec["component"])
	assert.Equal(t, "sql", rec["muxer"])
}

func TestInitFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	t.Cleanup(func() {
		Logger = zerolog.Nop()
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	})

	engineLogger := WithComponent("engine")
	engineLogger.Info().Msg("started")
	assert.Zero(t, buf.Len())

	engineLogger.Warn().Msg("muxer failed")
	assert.Contains(t, buf.String(), "muxer failed")
}
