package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mnemo/internal/tracing"
	"github.com/harun/mnemo/pkg/cache"
	"github.com/harun/mnemo/pkg/memory"
)

// Job names
const (
	JobTTLSweep   = "ttl_sweep"
	JobDedupSweep = "dedup_sweep"
	JobVacuum     = "vacuum"
)

// Defaults for the built-in jobs.
const (
	DefaultTTLBatch       = 1000
	DefaultDedupGroups    = 200
	DefaultPurgeAfterDays = 30
)

// Recorder receives maintenance counters.
type Recorder interface {
	AddTTLDeleted(n int)
	AddDedupDeleted(n int)
	AddPurged(n int)
	SetMemoryRecords(n int64)
}

// Schedules holds one schedule per built-in job
type Schedules struct {
	TTLSweep   Schedule
	DedupSweep Schedule
	Vacuum     Schedule
}

// DefaultSchedules returns the default job schedules.
func DefaultSchedules() Schedules {
	return Schedules{
		TTLSweep:   Every(5 * time.Minute),
		DedupSweep: Every(30 * time.Minute),
		Vacuum:     Every(24 * time.Hour),
	}
}

// MaintainerConfig holds maintenance job configuration
type MaintainerConfig struct {
	Store   *memory.Store
	Cache   *cache.Cache
	Metrics Recorder
	Logger  zerolog.Logger

	// Embed recomputes vectors for records missing from the vector index.
	// Without it the vacuum job only reports desync.
	Embed func(ctx context.Context, text string) ([]float32, error)

	TTLBatch       int
	DedupGroups    int
	PurgeAfterDays int
}

// Maintainer implements the built-in jobs against a record store.
type Maintainer struct {
	cfg MaintainerConfig
}

// NewMaintainer creates a maintainer, filling unset limits with defaults.
func NewMaintainer(cfg MaintainerConfig) *Maintainer {
	if cfg.TTLBatch <= 0 {
		cfg.TTLBatch = DefaultTTLBatch
	}
	if cfg.DedupGroups <= 0 {
		cfg.DedupGroups = DefaultDedupGroups
	}
	if cfg.PurgeAfterDays <= 0 {
		cfg.PurgeAfterDays = DefaultPurgeAfterDays
	}
	return &Maintainer{cfg: cfg}
}

// Jobs returns the built-in jobs on the given schedules.
func (m *Maintainer) Jobs(s Schedules) []Job {
	return []Job{
		{Name: JobTTLSweep, Schedule: s.TTLSweep, Run: m.SweepTTL},
		{Name: JobDedupSweep, Schedule: s.DedupSweep, Run: m.SweepDuplicates},
		{Name: JobVacuum, Schedule: s.Vacuum, Run: m.Vacuum},
	}
}

// SweepTTL soft-deletes up to TTLBatch records whose TTL has elapsed.
func (m *Maintainer) SweepTTL(ctx context.Context) (int, error) {
	refs, err := m.cfg.Store.FetchTTLExpired(ctx, m.cfg.TTLBatch)
	if err != nil {
		return 0, err
	}
	n, err := m.deleteRefs(ctx, refs)
	if err != nil {
		return 0, err
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.AddTTLDeleted(n)
	}
	return n, nil
}

// SweepDuplicates soft-deletes every SimHash duplicate except the oldest record
// of each group.
func (m *Maintainer) SweepDuplicates(ctx context.Context) (int, error) {
	refs, err := m.cfg.Store.FindDuplicateGroups(ctx, m.cfg.DedupGroups)
	if err != nil {
		return 0, err
	}
	n, err := m.deleteRefs(ctx, refs)
	if err != nil {
		return 0, err
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.AddDedupDeleted(n)
	}
	return n, nil
}

// Vacuum purges records soft-deleted more than PurgeAfterDays ago, compacts the
// database and repairs index drift. It returns the number of purged records.
func (m *Maintainer) Vacuum(ctx context.Context) (int, error) {
	logger := tracing.LoggerFromContext(ctx, m.cfg.Logger)

	purged, err := m.cfg.Store.Purge(ctx, m.cfg.PurgeAfterDays)
	if err != nil {
		return 0, fmt.Errorf("purge failed: %w", err)
	}
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.AddPurged(purged)
	}

	if err := m.cfg.Store.Compact(ctx); err != nil {
		return purged, fmt.Errorf("compaction failed: %w", err)
	}

	if err := m.checkIndexes(ctx, logger); err != nil {
		return purged, err
	}

	if stats, err := m.cfg.Store.Stats(ctx); err == nil && m.cfg.Metrics != nil {
		m.cfg.Metrics.SetMemoryRecords(stats.Count)
	}

	return purged, nil
}

func (m *Maintainer) checkIndexes(ctx context.Context, logger zerolog.Logger) error {
	report, err := m.cfg.Store.CheckIndexes(ctx)
	if err != nil {
		return fmt.Errorf("index check failed: %w", err)
	}
	if report == nil {
		return nil
	}

	logger.Warn().
		Int("missing_lexical", len(report.MissingLexical)).
		Int("missing_vector", len(report.MissingVector)).
		Int("orphan_lexical", len(report.OrphanLexical)).
		Int("orphan_vector", len(report.OrphanVector)).
		Msg("Index desync detected")

	if m.cfg.Embed == nil {
		return report
	}
	if _, err := m.cfg.Store.RepairIndexes(ctx, m.cfg.Embed); err != nil {
		return fmt.Errorf("index repair failed: %w", err)
	}
	logger.Info().Msg("Indexes repaired")
	return nil
}

// deleteRefs soft-deletes refs and advances the write clock of every owner.
func (m *Maintainer) deleteRefs(ctx context.Context, refs []memory.RecordRef) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(refs))
	users := make(map[string]struct{})
	for _, ref := range refs {
		ids = append(ids, ref.ID)
		users[ref.UserID] = struct{}{}
	}

	n, err := m.cfg.Store.SoftDelete(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		for user := range users {
			m.cfg.Cache.TouchLastWrite(ctx, user)
		}
	}
	return n, nil
}
