package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	httpapi "github.com/nicoakes/RainRadarrNZ/internal/api/http"
	"github.com/nicoakes/RainRadarrNZ/internal/camera"
	"github.com/nicoakes/RainRadarrNZ/internal/config"
	"github.com/nicoakes/RainRadarrNZ/internal/hass"
	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar"
	"github.com/nicoakes/RainRadarrNZ/internal/radar/providers"
	"github.com/nicoakes/RainRadarrNZ/internal/scheduler"
	"github.com/nicoakes/RainRadarrNZ/internal/store"
)

const (
	appName    = "rainradar"
	appVersion = "1.0.0"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting rain radar",
		zap.String("name", cfg.Name),
		zap.String("base_url", cfg.BaseURL),
		zap.String("image_dir", cfg.ImageDir),
		zap.String("timezone", cfg.Timezone))

	// Shared HTTP client for outbound radar calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	tiles, err := store.NewDiskStore(cfg.ImageDir)
	if err != nil {
		log.Fatal("Failed to open image directory", zap.Error(err))
	}

	var journal radar.Journal
	if cfg.JournalPath != "" {
		j, err := store.OpenJournal(cfg.JournalPath)
		if err != nil {
			log.Fatal("Failed to open fetch journal", zap.Error(err))
		}
		defer j.Close()
		journal = j
	}

	// Provider with resilience (backoff + circuit breaker).
	provider := providers.NewMetServiceProvider(httpClient, appName+"/"+appVersion)

	service := radar.NewService(tiles, provider, journal, radar.Options{
		Name:        cfg.Name,
		BaseURL:     cfg.BaseURL,
		Location:    cfg.Location,
		Retention:   cfg.Retention,
		Concurrency: cfg.FetchConcurrency,
	}, log.Named("radar"))

	proc, err := imaging.NewProcessor(cfg.Crop, imaging.Overlay{
		Enabled:  cfg.Overlay,
		Format:   cfg.OverlayFormat,
		Position: cfg.OverlayPosition,
		FontPath: cfg.OverlayFont,
		FontSize: cfg.OverlayFontSize,
		Shadow:   true,
	}, cfg.Location)
	if err != nil {
		log.Fatal("Failed to configure image processing", zap.Error(err))
	}
	frames, err := imaging.NewFrameCache(proc, cfg.FrameCacheSize)
	if err != nil {
		log.Fatal("Failed to create frame cache", zap.Error(err))
	}

	cam := camera.New(cfg.Name, service, camera.NewSlideshow(cfg.ImageLimit, cfg.PauseFrames), frames, log.Named("camera"))

	sched := scheduler.New(service, scheduler.Config{
		ScanInterval:    cfg.ScanInterval,
		CleanupInterval: cfg.CleanupInterval,
		FrameInterval:   cfg.FrameInterval,
	}, log.Named("scheduler"))

	// Home Assistant over MQTT discovery.
	var discovery *hass.Discovery
	if cfg.MQTTBroker != "" {
		topics := hass.NewTopics(cfg.MQTTTopicPrefix)
		pub := hass.NewMQTTPublisher(hass.MQTTConfig{
			Broker:    cfg.MQTTBroker,
			ClientID:  appName + "-" + uuid.NewString()[:8],
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			WillTopic: topics.Availability,
		}, func() {
			if err := discovery.Announce(); err != nil {
				log.Warn("Failed to announce entities", zap.Error(err))
			}
		}, log.Named("mqtt"))

		discovery = hass.NewDiscovery(pub, hass.DiscoveryConfig{
			Prefix:  cfg.MQTTDiscoveryPrefix,
			Topics:  topics,
			Name:    cfg.Name,
			Version: appVersion,
		}, log.Named("discovery"))

		// The broker is optional; radar fetching carries on while it is down.
		mqttCtx, stopMQTT := context.WithCancel(context.Background())
		pub.Start(mqttCtx)
		defer pub.Close()
		defer stopMQTT()
		defer func() {
			if err := discovery.Offline(); err != nil {
				log.Warn("Failed to publish offline status", zap.Error(err))
			}
		}()
	}

	// Home Assistant over the WebSocket API, for update events.
	var events hass.EventFirer
	if cfg.HAURL != "" {
		client := hass.NewClient(cfg.HAURL, cfg.HAToken, log.Named("hass"))
		client.Start()
		defer client.Disconnect()
		events = client
	}

	bridge := hass.NewBridge(service, discovery, events, log.Named("bridge"))
	sched.AddListener(bridge)
	if bridge.PushesFrames() {
		sched.PushFrames(cam.Fork(), bridge)
	}

	if err := sched.Start(); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": appName,
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Radar:         service,
		Camera:        cam,
		Refresher:     sched,
		FrameInterval: cfg.FrameInterval,
		Logger:        log.Named("http"),
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Warn("Fiber server stopped", zap.Error(err))
		}
	}()
	log.Info("Listening", zap.String("port", cfg.Port))

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("Error during shutdown", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
