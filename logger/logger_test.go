package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLogger_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.DebugLevel)

	log.Info("hello", Field{Key: "addr", Value: "127.0.0.1:1"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "svc", entry["service"])
	assert.Equal(t, "127.0.0.1:1", entry["addr"])
	assert.Equal(t, "info", entry["level"])
}

func TestZerologLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.WarnLevel)

	log.Debug("dropped")
	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestZerologLogger_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewZerologLogger(zerolog.New(&buf), "svc", zerolog.DebugLevel)
	scoped := base.With(Field{Key: "conn", Value: 7})

	scoped.Error("failed", Err(assert.AnError))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.EqualValues(t, 7, entry["conn"])
	assert.Equal(t, assert.AnError.Error(), entry["error"])
	assert.NoError(t, scoped.Close())
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.Info("nothing")
	log.With(Field{Key: "a", Value: 1}).Error("nothing")
	assert.NoError(t, log.Close())
}

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel("DEBUG")
	assert.True(t, ok)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	lvl, ok = ParseLevel(" warning ")
	assert.True(t, ok)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	lvl, ok = ParseLevel("off")
	assert.True(t, ok)
	assert.Equal(t, zerolog.Disabled, lvl)

	lvl, ok = ParseLevel("loud")
	assert.False(t, ok)
	assert.Equal(t, zerolog.InfoLevel, lvl)
}

func TestDailyFileWriter_Rotates(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyFileWriter("svc", dir)
	require.NoError(t, err)
	defer w.Close()

	day := time.Date(2026, 1, 2, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "svc_2026-01-02.log"), w.CurrentLogFile())

	day = day.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "svc_2026-01-03.log"), w.CurrentLogFile())

	data, err := os.ReadFile(filepath.Join(dir, "svc_2026-01-03.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(data))
}

func TestDailyFileWriter_Close(t *testing.T) {
	w, err := NewDailyFileWriter("svc", t.TempDir())
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Empty(t, w.CurrentLogFile())

	_, err = w.Write([]byte("late"))
	assert.Error(t, err)
}

func TestNewZerologFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := NewZerologFileLogger("svc", dir, zerolog.InfoLevel)
	require.NoError(t, err)

	log.Info("persisted")
	require.NoError(t, log.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted")
}
