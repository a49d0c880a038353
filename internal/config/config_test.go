package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "redis", cfg.PubSub.Driver)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 60*time.Second, cfg.Monitor.Grace)
	assert.Equal(t, "src", cfg.Monitor.Application)
	assert.True(t, cfg.Monitor.PurgeInvoicesOnEnd)
	assert.Equal(t, 3, cfg.Monitor.MaxAttempts)
	assert.Equal(t, 48000, cfg.Transcode.AudioSampleRate)
	assert.False(t, cfg.Transcode.ApplyFPSCap)
	assert.Len(t, cfg.Transcode.Ladder.VP9, 5)
	assert.Equal(t, 0, cfg.WebSocket.MaxQueue)
	assert.False(t, cfg.Storage.VOD.Enabled)
	assert.Equal(t, "local", cfg.Storage.VOD.Driver)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `
monitor:
  interval: 2s
  telemetry:
    url: http://rtmp/stat
transcode:
  ladder:
    h264:
      480p: {height: 480, bitrate: 1155, audio_channels: 2, max_fps: 24}
storage:
  vod:
    enabled: true
    driver: s3
    s3:
      bucket: media
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.yaml"), []byte(yaml), 0o644))
	chdir(t, dir)
	t.Setenv("PORT", "9001")
	t.Setenv("WS_MAX_QUEUE", "128")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 128, cfg.WebSocket.MaxQueue)
	assert.Equal(t, 2*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "http://rtmp/stat", cfg.Monitor.Telemetry.URL)
	assert.Empty(t, cfg.Transcode.Ladder.VP9)
	assert.Equal(t, 1155, cfg.Transcode.Ladder.H264["480p"].Bitrate)
	assert.True(t, cfg.Storage.VOD.Enabled)
	assert.Equal(t, "s3", cfg.Storage.VOD.Driver)
	assert.Equal(t, "media", cfg.Storage.VOD.S3.Bucket)
}
