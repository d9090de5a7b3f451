package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar/providers"
)

const (
	DefaultName     = "Rain Radar"
	DefaultImageDir = "images"
	DefaultTimezone = "Pacific/Auckland"
)

type AppConfig struct {
	// Name is the entity name shown in Home Assistant.
	Name     string `validate:"required"`
	BaseURL  string `validate:"required,url"`
	ImageDir string `validate:"required"`
	Timezone string `validate:"required"`
	Location *time.Location

	ScanInterval    time.Duration `validate:"gte=1s"`
	CleanupInterval time.Duration `validate:"gte=1s"`
	Retention       time.Duration `validate:"gte=1m"`
	FrameInterval   time.Duration `validate:"gte=100ms"`
	HTTPTimeout     time.Duration `validate:"gte=1s"`

	FetchConcurrency int `validate:"gte=1,lte=16"`

	// Slideshow.
	ImageLimit  int `validate:"gte=0"`
	PauseFrames int `validate:"gte=0"`

	// Post-processing.
	Crop            imaging.CropBox
	Overlay         bool
	OverlayFont     string
	OverlayFontSize float64 `validate:"gte=0"`
	OverlayFormat   string  `validate:"required"`
	OverlayPosition string  `validate:"oneof=top-left top-right bottom-left bottom-right"`
	FrameCacheSize  int     `validate:"gte=1"`

	// JournalPath is the SQLite fetch journal. Empty disables it.
	JournalPath string

	MQTTBroker          string `validate:"omitempty,url"`
	MQTTUsername        string
	MQTTPassword        string
	MQTTDiscoveryPrefix string `validate:"required"`
	MQTTTopicPrefix     string `validate:"required"`

	HAURL   string `validate:"omitempty,url"`
	HAToken string `validate:"required_with=HAURL"`

	Port     string `validate:"required,numeric"`
	LogLevel string `validate:"oneof=debug info warn error"`
}

// fileConfig mirrors the optional TOML config file. Every field is optional.
type fileConfig struct {
	Name            string `toml:"name"`
	BaseURL         string `toml:"base_url"`
	ImageDir        string `toml:"image_dir"`
	Timezone        string `toml:"timezone"`
	ScanInterval    string `toml:"scan_interval"`
	CleanupInterval string `toml:"cleanup_interval"`
	Retention       string `toml:"retention"`
	FrameInterval   string `toml:"frame_interval"`
	HTTPTimeout     string `toml:"http_timeout"`
	Concurrency     int    `toml:"fetch_concurrency"`
	ImageLimit      int    `toml:"image_limit"`
	PauseFrames     int    `toml:"pause_frames"`
	FrameCacheSize  int    `toml:"frame_cache_size"`
	JournalPath     string `toml:"journal_path"`
	Port            string `toml:"port"`
	LogLevel        string `toml:"log_level"`

	Crop *imaging.CropBox `toml:"crop"`

	Overlay struct {
		Enabled  bool    `toml:"enabled"`
		Font     string  `toml:"font"`
		FontSize float64 `toml:"font_size"`
		Format   string  `toml:"format"`
		Position string  `toml:"position"`
	} `toml:"overlay"`

	MQTT struct {
		Broker          string `toml:"broker"`
		Username        string `toml:"username"`
		Password        string `toml:"password"`
		DiscoveryPrefix string `toml:"discovery_prefix"`
		TopicPrefix     string `toml:"topic_prefix"`
	} `toml:"mqtt"`

	HomeAssistant struct {
		URL   string `toml:"url"`
		Token string `toml:"token"`
	} `toml:"home_assistant"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		b := sl.Current().Interface().(imaging.CropBox)
		if b.IsZero() {
			return
		}
		if b.Left < 0 || b.Top < 0 {
			sl.ReportError(b.Left, "Left", "Left", "gte", "0")
		}
		if b.Right <= b.Left {
			sl.ReportError(b.Right, "Right", "Right", "gtfield", "Left")
		}
		if b.Bottom <= b.Top {
			sl.ReportError(b.Bottom, "Bottom", "Bottom", "gtfield", "Top")
		}
	}, imaging.CropBox{})
	return v
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *AppConfig {
	return &AppConfig{
		Name:                DefaultName,
		BaseURL:             providers.DefaultBaseURL,
		ImageDir:            DefaultImageDir,
		Timezone:            DefaultTimezone,
		ScanInterval:        480 * time.Second,
		CleanupInterval:     10 * time.Minute,
		Retention:           2 * time.Hour,
		FrameInterval:       time.Second,
		HTTPTimeout:         15 * time.Second,
		FetchConcurrency:    4,
		OverlayFontSize:     14,
		OverlayFormat:       imaging.DefaultOverlayFormat,
		OverlayPosition:     "bottom-left",
		FrameCacheSize:      128,
		MQTTDiscoveryPrefix: "homeassistant",
		MQTTTopicPrefix:     "rainradar",
		Port:                "8080",
		LogLevel:            "info",
	}
}

// Load reads the optional TOML file named by RAINRADAR_CONFIG, then lets
// environment variables override it, and validates the result.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := Defaults()

	if path := os.Getenv("RAINRADAR_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *AppConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&cfg.Name, raw.Name)
	setString(&cfg.BaseURL, raw.BaseURL)
	setString(&cfg.ImageDir, raw.ImageDir)
	setString(&cfg.Timezone, raw.Timezone)
	setString(&cfg.JournalPath, raw.JournalPath)
	setString(&cfg.Port, raw.Port)
	setString(&cfg.LogLevel, raw.LogLevel)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"scan_interval", raw.ScanInterval, &cfg.ScanInterval},
		{"cleanup_interval", raw.CleanupInterval, &cfg.CleanupInterval},
		{"retention", raw.Retention, &cfg.Retention},
		{"frame_interval", raw.FrameInterval, &cfg.FrameInterval},
		{"http_timeout", raw.HTTPTimeout, &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	setInt(&cfg.FetchConcurrency, raw.Concurrency)
	setInt(&cfg.ImageLimit, raw.ImageLimit)
	setInt(&cfg.PauseFrames, raw.PauseFrames)
	setInt(&cfg.FrameCacheSize, raw.FrameCacheSize)

	if raw.Crop != nil {
		cfg.Crop = *raw.Crop
	}

	cfg.Overlay = raw.Overlay.Enabled
	setString(&cfg.OverlayFont, raw.Overlay.Font)
	if raw.Overlay.FontSize > 0 {
		cfg.OverlayFontSize = raw.Overlay.FontSize
	}
	setString(&cfg.OverlayFormat, raw.Overlay.Format)
	setString(&cfg.OverlayPosition, raw.Overlay.Position)

	setString(&cfg.MQTTBroker, raw.MQTT.Broker)
	setString(&cfg.MQTTUsername, raw.MQTT.Username)
	setString(&cfg.MQTTPassword, raw.MQTT.Password)
	setString(&cfg.MQTTDiscoveryPrefix, raw.MQTT.DiscoveryPrefix)
	setString(&cfg.MQTTTopicPrefix, raw.MQTT.TopicPrefix)

	setString(&cfg.HAURL, raw.HomeAssistant.URL)
	setString(&cfg.HAToken, raw.HomeAssistant.Token)
	return nil
}

func (cfg *AppConfig) applyEnv() error {
	cfg.Name = getenvDefault("RAINRADAR_NAME", cfg.Name)
	cfg.BaseURL = getenvDefault("RAINRADAR_BASE_URL", cfg.BaseURL)
	cfg.ImageDir = getenvDefault("RAINRADAR_IMAGE_DIR", cfg.ImageDir)
	cfg.Timezone = getenvDefault("RAINRADAR_TIMEZONE", cfg.Timezone)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCAN_INTERVAL", &cfg.ScanInterval},
		{"CLEANUP_INTERVAL", &cfg.CleanupInterval},
		{"RETENTION", &cfg.Retention},
		{"FRAME_INTERVAL", &cfg.FrameInterval},
		{"HTTP_TIMEOUT", &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		v, err := getenvDuration(d.key, *d.dst)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	cfg.FetchConcurrency = getenvInt("FETCH_CONCURRENCY", cfg.FetchConcurrency)
	cfg.ImageLimit = getenvInt("IMAGE_LIMIT", cfg.ImageLimit)
	cfg.PauseFrames = getenvInt("PAUSE_FRAMES", cfg.PauseFrames)
	cfg.FrameCacheSize = getenvInt("FRAME_CACHE_SIZE", cfg.FrameCacheSize)

	if v := os.Getenv("CROP_BOX"); v != "" {
		box, err := ParseCropBox(v)
		if err != nil {
			return fmt.Errorf("invalid CROP_BOX: %w", err)
		}
		cfg.Crop = box
	}

	cfg.Overlay = getenvBool("TIMESTAMP_OVERLAY", cfg.Overlay)
	cfg.OverlayFont = getenvDefault("OVERLAY_FONT", cfg.OverlayFont)
	if v := os.Getenv("OVERLAY_FONT_SIZE"); v != "" {
		size, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid OVERLAY_FONT_SIZE: %w", err)
		}
		cfg.OverlayFontSize = size
	}
	cfg.OverlayFormat = getenvDefault("OVERLAY_FORMAT", cfg.OverlayFormat)
	cfg.OverlayPosition = getenvDefault("OVERLAY_POSITION", cfg.OverlayPosition)

	if v, ok := os.LookupEnv("JOURNAL_PATH"); ok {
		cfg.JournalPath = v
	} else if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(cfg.ImageDir, "journal.db")
	}

	cfg.MQTTBroker = getenvDefault("MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTUsername = getenvDefault("MQTT_USERNAME", cfg.MQTTUsername)
	cfg.MQTTPassword = getenvDefault("MQTT_PASSWORD", cfg.MQTTPassword)
	cfg.MQTTDiscoveryPrefix = getenvDefault("MQTT_DISCOVERY_PREFIX", cfg.MQTTDiscoveryPrefix)
	cfg.MQTTTopicPrefix = getenvDefault("MQTT_TOPIC_PREFIX", cfg.MQTTTopicPrefix)

	cfg.HAURL = getenvDefault("HA_URL", cfg.HAURL)
	cfg.HAToken = getenvDefault("HA_TOKEN", cfg.HAToken)

	cfg.Port = getenvDefault("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", cfg.LogLevel))
	return nil
}

// finish validates the config and resolves derived fields.
func (cfg *AppConfig) finish() error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc
	return nil
}

// ParseCropBox parses "left,top,right,bottom".
func ParseCropBox(s string) (imaging.CropBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return imaging.CropBox{}, errors.New("expected left,top,right,bottom")
	}
	var vals [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return imaging.CropBox{}, fmt.Errorf("crop value %q: %w", p, err)
		}
		vals[i] = n
	}
	return imaging.CropBox{Left: vals[0], Top: vals[1], Right: vals[2], Bottom: vals[3]}, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
