package shared

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectionConfig(), cfg.Connection)
	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Audio.ChunkInterval)
	assert.Equal(t, "opus", cfg.Audio.Format)
	assert.Equal(t, 160, cfg.Speech.WordsPerMinute)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend_url: https://interview.example.com
connection:
  heartbeat_interval: 10s
  max_reconnect_attempts: 3
audio:
  sample_rate: 16000
`), 0o600))
	t.Setenv("INTERVIEW_CONNECTION_MAX_RECONNECT_ATTEMPTS", "8")
	t.Setenv("INTERVIEW_SPEECH_WORDS_PER_MINUTE", "200")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://interview.example.com", cfg.BackendURL)
	assert.Equal(t, 10*time.Second, cfg.Connection.HeartbeatInterval)
	assert.Equal(t, 8, cfg.Connection.MaxReconnectAttempts)
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, 200, cfg.Speech.WordsPerMinute)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectionConfig(), cfg.Connection)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("INTERVIEW_CONNECTION_MAX_BATCH_CHUNKS", "0")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestConnectionConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
	}{
		{"negative attempts", func(c *ConnectionConfig) { c.MaxReconnectAttempts = -1 }},
		{"zero delay", func(c *ConnectionConfig) { c.ReconnectDelay = 0 }},
		{"cap below base", func(c *ConnectionConfig) { c.MaxReconnectDelay = c.ReconnectDelay / 2 }},
		{"zero heartbeat", func(c *ConnectionConfig) { c.HeartbeatInterval = 0 }},
		{"zero flush", func(c *ConnectionConfig) { c.AudioFlushInterval = 0 }},
		{"zero batch", func(c *ConnectionConfig) { c.MaxBatchChunks = 0 }},
		{"queue below batch", func(c *ConnectionConfig) { c.MaxQueuedChunks = c.MaxBatchChunks - 1 }},
	}
	require.NoError(t, DefaultConnectionConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConnectionConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetenv(t *testing.T) {
	t.Setenv("INTERVIEW_TEST_INT", "42")
	t.Setenv("INTERVIEW_TEST_BAD", "forty-two")
	t.Setenv("INTERVIEW_TEST_DUR", "250ms")

	n, err := Getenv(GetenvInt, "INTERVIEW_TEST_INT", true, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Getenv(GetenvInt, "INTERVIEW_TEST_BAD", false, 0)
	assert.Error(t, err)

	d := MustGetenv(GetenvDuration, "INTERVIEW_TEST_DUR", false, time.Second)
	assert.Equal(t, 250*time.Millisecond, d)

	s, err := Getenv(GetenvString, "INTERVIEW_TEST_UNSET", false, "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s)

	_, err = Getenv(GetenvBool, "INTERVIEW_TEST_UNSET", true, false)
	assert.Error(t, err)
	assert.Panics(t, func() { MustGetenv(GetenvString, "INTERVIEW_TEST_UNSET", true, "") })
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&RoomError{Room: "r", Err: fmt.Errorf("%w: closed 1008", ErrAuthentication)}, "Your session has expired. Please sign in again."},
		{&RoomError{Room: "r", Err: ErrMaxReconnect}, "Lost connection to the interview room. Please retry."},
		{fmt.Errorf("%w: denied", ErrMicrophoneUnavailable), "Microphone access is required."},
		{fmt.Errorf("%w: 500", ErrImageUpload), "Failed to generate whiteboard image. Please try again."},
		{errors.New("boom"), "Connection error. Please try again."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err))
	}
}

func TestRoomErrorFormat(t *testing.T) {
	err := &RoomError{Room: "r1", Command: "REQUEST_NEXT", Err: ErrNotConnected}
	assert.Equal(t, "room r1, command REQUEST_NEXT: not connected", err.Error())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "room r1: not connected", (&RoomError{Room: "r1", Err: ErrNotConnected}).Error())
}

func TestGuardReleasesOnce(t *testing.T) {
	var calls atomic.Int32
	g := NewGuard(func() error {
		calls.Add(1)
		return errors.New("already closed")
	})
	assert.EqualError(t, g.Release(), "already closed")
	assert.EqualError(t, g.Release(), "already closed")
	assert.EqualValues(t, 1, calls.Load())

	var nilGuard *Guard
	assert.NoError(t, nilGuard.Release())
}

func TestGuardRecoversPanic(t *testing.T) {
	g := NewGuard(func() error { panic("device vanished") })
	err := g.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device vanished")
}

func TestTickerRunsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	tk := StartTicker(5*time.Millisecond, func() { calls.Add(1) })
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	tk.Stop()
	tk.Stop()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, calls.Load())

	var nilTicker *Ticker
	nilTicker.Stop()
}

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestPrinter(t *testing.T) {
	a, b := new(bufferCloser), new(bufferCloser)
	p, err := NewPrinter("  ", NewWriteCloser(a), NewWriteCloser(b))
	require.NoError(t, err)

	require.NoError(t, p.Writeln("Question:\nTwo sum", 1))
	require.NoError(t, p.Write("x", 0))
	require.NoError(t, p.Rewrite("hello\nworld", 2))

	want := "  Question:\n  Two sum\nx\r\033[K    hello world"
	assert.Equal(t, want, a.String())
	assert.Equal(t, want, b.String())

	require.NoError(t, p.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestNewPrinterRejectsMissingHooks(t *testing.T) {
	_, err := NewPrinter("  ")
	assert.Error(t, err)
	_, err = NewPrinter("  ", nil)
	assert.Error(t, err)
}
