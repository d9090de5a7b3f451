package radar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Options configures a Service.
type Options struct {
	Name        string
	BaseURL     string
	Location    *time.Location
	Retention   time.Duration
	Concurrency int

	// Now overrides the wall clock. Used by tests.
	Now func() time.Time
}

// Service orchestrates the lookback fetch, the tile store and retention.
type Service struct {
	store    Store
	provider Provider
	journal  Journal
	logger   *zap.Logger
	opts     Options

	mu         sync.RWMutex
	lastReport *FetchReport
}

// NewService creates a new Service. journal may be nil.
func NewService(store Store, provider Provider, journal Journal, opts Options, logger *zap.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		provider: provider,
		journal:  journal,
		logger:   logger,
		opts:     opts,
	}
}

// FetchAll checks every minute of the lookback window and downloads the
// images that are not stored yet. Failures of single candidates are logged
// and counted; only a cancelled context aborts the run.
func (s *Service) FetchAll(ctx context.Context) (FetchReport, error) {
	if s.provider == nil {
		return FetchReport{}, fmt.Errorf("no radar provider configured")
	}

	report := FetchReport{
		RunID:     uuid.NewString(),
		StartedAt: s.opts.Now(),
	}
	candidates := BuildCandidates(s.opts.BaseURL, report.StartedAt, s.opts.Location)
	report.Candidates = len(candidates)

	s.logger.Debug("Starting fetch run",
		zap.String("run_id", report.RunID),
		zap.String("provider", s.provider.Name()),
		zap.Int("candidates", len(candidates)))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = semaphore.NewWeighted(int64(s.opts.Concurrency))
	)

	count := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case OutcomeDownloaded:
			report.Downloaded++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeMissing:
			report.Missing++
		case OutcomeFailed:
			report.Failed++
		}
	}

	for _, c := range candidates {
		report.URLs = append(report.URLs, c.URL)

		exists, err := s.store.Has(c.FileName)
		if err != nil {
			s.logger.Warn("Failed to check tile", zap.String("file", c.FileName), zap.Error(err))
			count(OutcomeFailed)
			continue
		}
		if exists {
			count(OutcomeSkipped)
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(c Candidate) {
			defer wg.Done()
			defer sem.Release(1)

			outcome, n, err := s.fetchOne(ctx, c)
			if outcome == OutcomeFailed && ctx.Err() != nil {
				// Aborted by shutdown or timeout, not a provider failure.
				return
			}
			count(outcome)
			s.record(ctx, report.RunID, c, outcome, n, err)
		}(c)
	}

	wg.Wait()
	report.FinishedAt = s.opts.Now()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, c := range candidates {
		if ok, _ := s.store.Has(c.FileName); ok {
			report.LatestURL = c.URL
			break
		}
	}

	s.mu.Lock()
	r := report
	s.lastReport = &r
	s.mu.Unlock()

	s.logger.Info("Fetch run complete",
		zap.String("run_id", report.RunID),
		zap.Int("downloaded", report.Downloaded),
		zap.Int("skipped", report.Skipped),
		zap.Int("missing", report.Missing),
		zap.Int("failed", report.Failed))

	return report, nil
}

func (s *Service) fetchOne(ctx context.Context, c Candidate) (Outcome, int, error) {
	data, err := s.provider.Fetch(ctx, c.URL)
	if err != nil {
		if errors.Is(err, ErrNotPublished) {
			return OutcomeMissing, 0, nil
		}
		if ctx.Err() == nil {
			s.logger.Warn("Failed to fetch radar image", zap.String("url", c.URL), zap.Error(err))
		}
		return OutcomeFailed, 0, err
	}
	if len(data) == 0 {
		return OutcomeMissing, 0, nil
	}

	if err := s.store.Save(c.FileName, data); err != nil {
		s.logger.Error("Failed to store radar image", zap.String("file", c.FileName), zap.Error(err))
		return OutcomeFailed, len(data), err
	}

	s.logger.Debug("Stored radar image", zap.String("file", c.FileName), zap.Int("bytes", len(data)))
	return OutcomeDownloaded, len(data), nil
}

func (s *Service) record(ctx context.Context, runID string, c Candidate, o Outcome, n int, fetchErr error) {
	if s.journal == nil {
		return
	}
	a := Attempt{
		RunID:       runID,
		URL:         c.URL,
		FileName:    c.FileName,
		Outcome:     o,
		Bytes:       n,
		AttemptedAt: s.opts.Now(),
	}
	if fetchErr != nil {
		a.Err = fetchErr.Error()
	}
	// The journal outlives a cancelled run.
	if err := s.journal.Record(context.WithoutCancel(ctx), a); err != nil {
		s.logger.Warn("Failed to journal fetch attempt", zap.Error(err))
	}
}

// Cleanup deletes every stored tile older than the retention window and
// prunes journal rows of the same age. It returns the number of deleted tiles.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	tiles, err := s.store.List()
	if err != nil {
		return 0, fmt.Errorf("list tiles: %w", err)
	}

	now := s.opts.Now()
	var (
		deleted int
		errs    []error
	)
	for _, t := range Expired(tiles, now, s.opts.Retention) {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := s.store.Delete(t.Name); err != nil {
			s.logger.Warn("Failed to delete expired tile", zap.String("file", t.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	if s.journal != nil {
		if n, err := s.journal.Prune(ctx, now.Add(-s.opts.Retention)); err != nil {
			s.logger.Warn("Failed to prune journal", zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("Pruned journal", zap.Int64("rows", n))
		}
	}

	if deleted > 0 {
		s.logger.Info("Deleted expired radar images", zap.Int("deleted", deleted))
	}
	return deleted, errors.Join(errs...)
}

// Tiles returns the stored tiles, oldest first.
func (s *Service) Tiles() ([]Tile, error) {
	return s.store.List()
}

// ReadTile returns the raw bytes of a stored tile.
func (s *Service) ReadTile(name string) ([]byte, error) {
	return s.store.Read(name)
}

// LastReport returns the report of the last completed fetch run.
func (s *Service) LastReport() (FetchReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastReport == nil {
		return FetchReport{}, false
	}
	return *s.lastReport, true
}

// Sensor builds the sensor entity snapshot.
func (s *Service) Sensor(ctx context.Context) (SensorSnapshot, error) {
	tiles, err := s.store.List()
	if err != nil {
		return SensorSnapshot{}, fmt.Errorf("list tiles: %w", err)
	}

	snap := SensorSnapshot{
		Name:       s.opts.Name,
		ImageCount: len(tiles),
	}
	if len(tiles) > 0 {
		snap.OldestImage = tiles[0].At
		snap.NewestImage = tiles[len(tiles)-1].At
	}
	if r, ok := s.LastReport(); ok {
		snap.State = r.LatestURL
		snap.LastRun = &r
	}

	if s.journal != nil {
		sum, err := s.journal.Summary(ctx)
		if err != nil {
			s.logger.Warn("Failed to read journal summary", zap.Error(err))
		} else {
			snap.Journal = &sum
			if snap.State == "" {
				snap.State = sum.LastURL
			}
		}
	}
	return snap, nil
}
