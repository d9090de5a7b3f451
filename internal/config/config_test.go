package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar/providers"
)

// isolate clears every variable Load reads so the host environment cannot
// leak into a test.
func isolate(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	for _, key := range []string{
		"RAINRADAR_CONFIG", "RAINRADAR_NAME", "RAINRADAR_BASE_URL", "RAINRADAR_IMAGE_DIR",
		"RAINRADAR_TIMEZONE", "SCAN_INTERVAL", "CLEANUP_INTERVAL", "RETENTION",
		"FRAME_INTERVAL", "HTTP_TIMEOUT", "FETCH_CONCURRENCY", "IMAGE_LIMIT",
		"PAUSE_FRAMES", "FRAME_CACHE_SIZE", "CROP_BOX", "TIMESTAMP_OVERLAY",
		"OVERLAY_FONT", "OVERLAY_FONT_SIZE", "OVERLAY_FORMAT", "OVERLAY_POSITION",
		"MQTT_BROKER", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_DISCOVERY_PREFIX",
		"MQTT_TOPIC_PREFIX", "HA_URL", "HA_TOKEN", "PORT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	// JOURNAL_PATH distinguishes unset from empty.
	t.Setenv("JOURNAL_PATH", "")
	os.Unsetenv("JOURNAL_PATH")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, providers.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultImageDir, cfg.ImageDir)
	assert.Equal(t, "Pacific/Auckland", cfg.Location.String())
	assert.Equal(t, 480*time.Second, cfg.ScanInterval)
	assert.Equal(t, 2*time.Hour, cfg.Retention)
	assert.Equal(t, 4, cfg.FetchConcurrency)
	assert.Zero(t, cfg.ImageLimit)
	assert.Zero(t, cfg.PauseFrames)
	assert.True(t, cfg.Crop.IsZero())
	assert.False(t, cfg.Overlay)
	assert.Equal(t, filepath.Join(DefaultImageDir, "journal.db"), cfg.JournalPath)
	assert.Empty(t, cfg.MQTTBroker)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("RAINRADAR_NAME", "Auckland Radar")
	t.Setenv("RAINRADAR_BASE_URL", "https://www.metservice.com/publicData/rainRadar/image/Auckland/300K/")
	t.Setenv("SCAN_INTERVAL", "5m")
	t.Setenv("IMAGE_LIMIT", "20")
	t.Setenv("PAUSE_FRAMES", "3")
	t.Setenv("CROP_BOX", "10, 20, 300, 400")
	t.Setenv("TIMESTAMP_OVERLAY", "true")
	t.Setenv("OVERLAY_POSITION", "top-right")
	t.Setenv("JOURNAL_PATH", "")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Auckland Radar", cfg.Name)
	assert.Contains(t, cfg.BaseURL, "/Auckland/")
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 20, cfg.ImageLimit)
	assert.Equal(t, 3, cfg.PauseFrames)
	assert.Equal(t, imaging.CropBox{Left: 10, Top: 20, Right: 300, Bottom: 400}, cfg.Crop)
	assert.True(t, cfg.Overlay)
	assert.Equal(t, "top-right", cfg.OverlayPosition)
	assert.Empty(t, cfg.JournalPath, "an explicit empty JOURNAL_PATH disables the journal")
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFileThenEnv(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "rainradar.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "File Radar"
image_dir = "/var/lib/rainradar"
scan_interval = "2m"
image_limit = 30
pause_frames = 2

[crop]
left = 5
top = 5
right = 105
bottom = 85

[overlay]
enabled = true
format = "15:04"

[mqtt]
broker = "tcp://file-broker:1883"
topic_prefix = "radar"
`), 0o644))
	t.Setenv("RAINRADAR_CONFIG", path)
	t.Setenv("IMAGE_LIMIT", "12")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "File Radar", cfg.Name)
	assert.Equal(t, "/var/lib/rainradar", cfg.ImageDir)
	assert.Equal(t, "/var/lib/rainradar/journal.db", cfg.JournalPath)
	assert.Equal(t, 2*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 12, cfg.ImageLimit, "environment overrides the file")
	assert.Equal(t, 2, cfg.PauseFrames)
	assert.Equal(t, imaging.CropBox{Left: 5, Top: 5, Right: 105, Bottom: 85}, cfg.Crop)
	assert.True(t, cfg.Overlay)
	assert.Equal(t, "15:04", cfg.OverlayFormat)
	assert.Equal(t, "tcp://file-broker:1883", cfg.MQTTBroker)
	assert.Equal(t, "radar", cfg.MQTTTopicPrefix)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":         {"SCAN_INTERVAL": "soon"},
		"interval too short":   {"SCAN_INTERVAL": "10ms"},
		"bad crop":             {"CROP_BOX": "1,2,3"},
		"inverted crop":        {"CROP_BOX": "100,0,10,50"},
		"unknown timezone":     {"RAINRADAR_TIMEZONE": "Mars/Olympus"},
		"negative limit":       {"IMAGE_LIMIT": "-1"},
		"bad position":         {"OVERLAY_POSITION": "middle"},
		"bad base url":         {"RAINRADAR_BASE_URL": "not a url"},
		"url without token":    {"HA_URL": "ws://ha.local:8123/api/websocket"},
		"bad log level":        {"LOG_LEVEL": "chatty"},
		"too much concurrency": {"FETCH_CONCURRENCY": "64"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	isolate(t)
	t.Setenv("RAINRADAR_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestParseCropBox(t *testing.T) {
	box, err := ParseCropBox("0,0,640,480")
	require.NoError(t, err)
	assert.Equal(t, imaging.CropBox{Right: 640, Bottom: 480}, box)

	_, err = ParseCropBox("a,b,c,d")
	assert.Error(t, err)
}
