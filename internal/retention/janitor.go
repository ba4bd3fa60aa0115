// Package retention keeps the record store bounded. A janitor periodically
// finds records that occurred before the retention window and, depending on
// the mode, archives them before purging them from the hot store.
//
// Modes:
//   - off:               the janitor does nothing
//   - purge:             delete without archiving (default)
//   - archive-and-purge: archive to the configured archiver, then delete
//
// Archive failures are fail-safe: a batch that could not be archived is
// NOT deleted.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/internal/store"
	"github.com/adithya-n05/ICHack26-sub001/pkg/models"
	"github.com/rs/zerolog/log"
)

// Mode selects what happens to expired records.
type Mode string

const (
	ModeOff             Mode = "off"
	ModePurge           Mode = "purge"
	ModeArchiveAndPurge Mode = "archive-and-purge"
)

// DefaultWindow is how long records are kept.
const DefaultWindow = 7 * 24 * time.Hour

// DefaultBatchSize is the max records per archive write and delete.
const DefaultBatchSize = 5000

// Archiver writes expired records to durable storage and returns where.
type Archiver interface {
	Kind() string
	ArchiveRecords(ctx context.Context, records []models.Record) (uri string, err error)
	HealthCheck(ctx context.Context) error
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Archived    int
	Purged      int
	ArchiveURIs []string
	Errors      []error
}

// Janitor periodically archives and purges expired records.
type Janitor struct {
	store     store.Store
	archiver  Archiver
	mode      Mode
	window    time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// Options tunes a Janitor. Zero values fall back to defaults.
type Options struct {
	Mode      Mode
	Window    time.Duration
	Interval  time.Duration
	BatchSize int
	// Archiver is required for ModeArchiveAndPurge.
	Archiver Archiver
	Now      func() time.Time
}

// NewJanitor creates a retention janitor over s.
func NewJanitor(s store.Store, opts Options) (*Janitor, error) {
	if opts.Mode == "" {
		opts.Mode = ModePurge
	}
	switch opts.Mode {
	case ModeOff, ModePurge:
	case ModeArchiveAndPurge:
		if opts.Archiver == nil {
			return nil, errors.New("retention: archive-and-purge needs an archiver")
		}
	default:
		return nil, fmt.Errorf("retention: unknown mode %q", opts.Mode)
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Interval < time.Minute {
		opts.Interval = time.Hour // minimum 1 hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Janitor{
		store:     s,
		archiver:  opts.Archiver,
		mode:      opts.Mode,
		window:    opts.Window,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}, nil
}

// FromConfig builds the janitor and, for archive-and-purge, a local file
// archiver under cfg.ArchiveDir.
func FromConfig(s store.Store, cfg config.RetentionConfig) (*Janitor, error) {
	opts := Options{
		Mode:     Mode(cfg.Mode),
		Window:   cfg.Window,
		Interval: cfg.Interval,
	}
	if opts.Mode == ModeArchiveAndPurge {
		opts.Archiver = NewLocalFileArchiver(cfg.ArchiveDir, cfg.Compress)
	}
	return NewJanitor(s, opts)
}

// Start runs cycles until ctx is canceled. It blocks.
func (j *Janitor) Start(ctx context.Context) {
	if j.mode == ModeOff {
		log.Info().Msg("Retention janitor disabled")
		return
	}
	if j.archiver != nil {
		if err := j.archiver.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Str("archiver", j.archiver.Kind()).Msg("Archive backend unhealthy, expired records will be kept")
		}
	}

	log.Info().
		Str("mode", string(j.mode)).
		Dur("window", j.window).
		Dur("interval", j.interval).
		Msg("🧹 Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one retention sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	if j.mode == ModeOff {
		return stats
	}
	start := time.Now()
	cutoff := j.now().Add(-j.window)

	for ctx.Err() == nil {
		batch, err := j.store.ExpiredRecords(ctx, cutoff, j.batchSize)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("find expired records: %w", err))
			break
		}
		if len(batch) == 0 {
			break
		}

		if j.mode == ModeArchiveAndPurge {
			uri, err := j.archiver.ArchiveRecords(ctx, batch)
			if err != nil {
				log.Warn().Err(err).
					Str("archiver", j.archiver.Kind()).
					Int("batch_size", len(batch)).
					Msg("Archive failed, skipping purge")
				stats.Errors = append(stats.Errors, err)
				break
			}
			stats.Archived += len(batch)
			stats.ArchiveURIs = append(stats.ArchiveURIs, uri)
		}

		ids := make([]string, len(batch))
		for i, r := range batch {
			ids[i] = r.ID
		}
		n, err := j.store.DeleteRecords(ctx, ids)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Errorf("purge expired records: %w", err))
			break
		}
		stats.Purged += n
		if n == 0 || len(batch) < j.batchSize {
			break
		}
	}

	for _, e := range stats.Errors {
		log.Warn().Err(e).Msg("Retention cycle error")
	}
	if stats.Purged > 0 || stats.Archived > 0 {
		log.Info().
			Int("purged", stats.Purged).
			Int("archived", stats.Archived).
			Time("cutoff", cutoff).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}
