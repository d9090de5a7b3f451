package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/nicoakes/RainRadarrNZ/internal/camera"
	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar"
)

const (
	defaultScanInterval    = 480 * time.Second
	defaultCleanupInterval = 10 * time.Minute
	fetchTimeout           = 2 * time.Minute
)

// Fetcher runs fetch and retention passes.
type Fetcher interface {
	FetchAll(ctx context.Context) (radar.FetchReport, error)
	Cleanup(ctx context.Context) (int, error)
}

// Listener is notified after every successful fetch run.
type Listener interface {
	FetchCompleted(ctx context.Context, report radar.FetchReport)
}

// FrameSource advances the slideshow.
type FrameSource interface {
	Image(ctx context.Context) (imaging.Frame, error)
}

// FramePublisher pushes slideshow frames to a consumer.
type FramePublisher interface {
	PublishFrame(f imaging.Frame) error
}

// Config sets the job intervals.
type Config struct {
	ScanInterval    time.Duration
	CleanupInterval time.Duration
	FrameInterval   time.Duration
}

// Scheduler periodically fetches radar tiles, prunes old ones and, when a
// frame publisher is attached, pushes the slideshow.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   Fetcher
	cfg       Config
	logger    *zap.Logger

	listeners []Listener
	camera    FrameSource
	frames    FramePublisher

	fetchMu sync.Mutex
}

// New creates a new Scheduler.
func New(service Fetcher, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		service:   service,
		cfg:       cfg,
		logger:    logger,
	}
}

// AddListener registers a listener for completed fetch runs.
func (s *Scheduler) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// PushFrames enables the slideshow job.
func (s *Scheduler) PushFrames(source FrameSource, pub FramePublisher) {
	s.camera = source
	s.frames = pub
}

// Start schedules the jobs and starts the underlying scheduler. The fetch
// and cleanup jobs run once immediately.
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.cfg.ScanInterval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		if _, err := s.RunFetch(ctx); err != nil {
			s.logger.Error("Radar fetch job failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.scheduler.Every(s.cfg.CleanupInterval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if _, err := s.service.Cleanup(ctx); err != nil {
			s.logger.Warn("Radar cleanup job failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	if s.camera != nil && s.frames != nil {
		if _, err := s.scheduler.Every(s.cfg.FrameInterval).SingletonMode().Do(s.pushFrame); err != nil {
			return err
		}
	}

	s.scheduler.StartAsync()
	s.logger.Info("Scheduler started",
		zap.Duration("scan_interval", s.cfg.ScanInterval),
		zap.Duration("cleanup_interval", s.cfg.CleanupInterval),
		zap.Bool("push_frames", s.camera != nil && s.frames != nil))
	return nil
}

// RunFetch runs one fetch pass and notifies listeners. Concurrent calls are
// serialised so a manual refresh never overlaps the scheduled job.
func (s *Scheduler) RunFetch(ctx context.Context) (radar.FetchReport, error) {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.logger.Debug("Running radar fetch job")
	report, err := s.service.FetchAll(ctx)
	if err != nil {
		return report, err
	}

	for _, l := range s.listeners {
		l.FetchCompleted(ctx, report)
	}
	return report, nil
}

func (s *Scheduler) pushFrame() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FrameInterval+5*time.Second)
	defer cancel()

	frame, err := s.camera.Image(ctx)
	if err != nil {
		if !errors.Is(err, camera.ErrNoImage) {
			s.logger.Warn("Failed to load camera frame", zap.Error(err))
		}
		return
	}
	if err := s.frames.PublishFrame(frame); err != nil {
		s.logger.Warn("Failed to publish camera frame", zap.Error(err))
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
