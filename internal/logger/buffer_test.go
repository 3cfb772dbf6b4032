package logger

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWraparound(t *testing.T) {
	b := NewBuffer(3)
	for i := 1; i <= 5; i++ {
		b.Add(Entry{Level: "info", Message: fmt.Sprintf("msg %d", i), Time: time.Now()})
	}

	assert.Equal(t, 3, b.Len())

	got := b.Recent(0, "", 0)
	require.Len(t, got, 3)
	assert.Equal(t, "msg 5", got[0].Message)
	assert.Equal(t, "msg 4", got[1].Message)
	assert.Equal(t, "msg 3", got[2].Message)
}

func TestRecentLevelFilter(t *testing.T) {
	b := NewBuffer(10)
	for _, lvl := range []string{"debug", "info", "warn", "error"} {
		b.Add(Entry{Level: lvl, Message: lvl, Time: time.Now()})
	}

	got := b.Recent(0, "warn", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "error", got[0].Level)
	assert.Equal(t, "warn", got[1].Level)

	assert.Len(t, b.Recent(0, "debug", 0), 4)
	assert.Len(t, b.Recent(1, "debug", 0), 1)
}

func TestRecentSinceCutoff(t *testing.T) {
	b := NewBuffer(10)
	b.Add(Entry{Level: "info", Message: "old", Time: time.Now().Add(-time.Hour)})
	b.Add(Entry{Level: "info", Message: "new", Time: time.Now()})

	got := b.Recent(0, "", 10*time.Minute)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Message)
}

func TestLevelAtLeast(t *testing.T) {
	tests := []struct {
		entry, min string
		want       bool
	}{
		{"error", "warn", true},
		{"warn", "warn", true},
		{"info", "warn", false},
		{"INFO", "info", true},
		{"trace", "trace", true},
		{"trace", "info", false},
	}
	for _, tt := range tests {
		t.Run(tt.entry+"_vs_"+tt.min, func(t *testing.T) {
			assert.Equal(t, tt.want, levelAtLeast(tt.entry, tt.min))
		})
	}
}

func TestBufferWriterCaptures(t *testing.T) {
	buf := NewBuffer(10)
	var sink bytes.Buffer
	w := newBufferWriter(buf, &sink)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log := zerolog.New(w).With().Timestamp().Str("component", "cache").Logger()
	log.Info().Msg("wrote 3 stations")

	require.Equal(t, 1, buf.Len())
	got := buf.Recent(1, "", 0)[0]
	assert.Equal(t, "info", got.Level)
	assert.Equal(t, "cache", got.Component)
	assert.Equal(t, "wrote 3 stations", got.Message)
	assert.WithinDuration(t, time.Now(), got.Time, time.Minute)

	// raw JSON still reaches the sink
	assert.Contains(t, sink.String(), `"message":"wrote 3 stations"`)
}

func TestBufferWriterIgnoresGarbage(t *testing.T) {
	buf := NewBuffer(10)
	w := newBufferWriter(buf, nil)

	n, err := w.Write([]byte("not json\n"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, 0, buf.Len())
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}
