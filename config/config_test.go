package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/loopback"
	"github.com/wippyai/composition/protocol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "composition.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("COMPOSITION_CONFIG", "")

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 64, c.Engine.NotificationQueue)
	require.Equal(t, uint32(60), c.Engine.RefreshRate)
	require.Equal(t, uint32(2), c.Engine.Tier)
	require.Equal(t, 5*time.Second, c.Engine.SyncFlushTimeout)
	require.Equal(t, "info", c.Log.Level)
	require.Equal(t, "console", c.Log.Encoding)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
engine:
  notification_queue: 8
  refresh_rate: 144
  sync_mode: true
  sync_flush_timeout: 250ms
log:
  level: debug
  encoding: json
`)

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, c.Engine.NotificationQueue)
	require.Equal(t, uint32(144), c.Engine.RefreshRate)
	require.True(t, c.Engine.SyncMode)
	require.Equal(t, 250*time.Millisecond, c.Engine.SyncFlushTimeout)
	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, "json", c.Log.Encoding)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "engine:\n  refresh_rate: 144\n")
	t.Setenv("COMPOSITION_ENGINE_REFRESH_RATE", "75")
	t.Setenv("COMPOSITION_LOG_LEVEL", "warn")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(75), c.Engine.RefreshRate)
	require.Equal(t, "warn", c.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Equal(t, errors.KindInvalidInput, errors.KindOf(err))

	_, err = Load(writeConfig(t, "log:\n  level: loud\n"))
	require.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = Load(writeConfig(t, "engine:\n  notification_queue: 0\n"))
	require.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = Load(writeConfig(t, "log:\n  encoding: xml\n"))
	require.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestNewLogger(t *testing.T) {
	log, err := LogConfig{Level: "debug", Encoding: "json"}.NewLogger()
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(-1))

	log, err = LogConfig{Level: "error", Encoding: "console", Development: true}.NewLogger()
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(0))

	_, err = LogConfig{Level: "nope", Encoding: "json"}.NewLogger()
	require.Error(t, err)
}

func TestLoopbackOptions(t *testing.T) {
	cfg := EngineConfig{NotificationQueue: 4, RefreshRate: 120, Tier: 1, MaxTextureSize: 4096, SyncMode: true}
	eng := loopback.New(cfg.LoopbackOptions()...)
	defer eng.Close()

	conn, _ := eng.Connect()
	ch, st := eng.CreateChannel(conn, 0, false, false)
	require.Equal(t, engine.StatusOK, st)
	defer eng.Disconnect(conn)

	data, err := protocol.PartitionRegisterForNotifications{Enable: true}.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, engine.StatusOK, eng.SendCommand(ch, data, engine.WithinCurrentBatch))
	require.Equal(t, engine.StatusOK, eng.CommitChannel(ch))
	require.Equal(t, engine.StatusOK, eng.SyncFlush(context.Background(), ch))

	var buf engine.MessageBuffer
	ok, _ := eng.PeekNextMessage(ch, &buf)
	require.True(t, ok)
	msg, err := protocol.DecodeMessage(buf[:])
	require.NoError(t, err)
	caps, ok := msg.Caps()
	require.True(t, ok)
	require.Equal(t, uint32(1), caps.Tier)
	require.Equal(t, uint32(4096), caps.MaxTextureWidth)

	ok, _ = eng.PeekNextMessage(ch, &buf)
	require.True(t, ok)
	msg, _ = protocol.DecodeMessage(buf[:])
	sm, ok := msg.SyncMode()
	require.True(t, ok)
	require.True(t, sm.Enabled)
}
