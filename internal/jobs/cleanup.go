package jobs

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"footfall/internal/geo"
)

// Pruner deletes visit log rows older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// VisitPruneJob removes visit log rows past the retention period. The row
// cap is enforced on every append; this job only handles age.
type VisitPruneJob struct {
	log       Pruner
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewVisitPruneJob(log Pruner, retention time.Duration, logger *slog.Logger) *VisitPruneJob {
	return &VisitPruneJob{log: log, retention: retention, logger: logger, now: time.Now}
}

// Run deletes rows older than now minus the retention period.
func (j *VisitPruneJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		j.logger.Debug("Visit retention disabled, skipping prune")
		return nil
	}
	cutoff := j.now().Add(-j.retention)

	deleted, err := j.log.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Error("Failed to prune visit log",
			slog.Any("error", err),
			slog.Int64("deleted_so_far", deleted))
		return err
	}

	if deleted == 0 {
		j.logger.Debug("No old visits to clean up")
		return nil
	}
	j.logger.Info("Cleaned up old visits",
		slog.Int64("deleted_count", deleted),
		slog.Time("cutoff_date", cutoff))
	return nil
}

// GeoCachePurgeJob drops expired geolocation cache entries.
type GeoCachePurgeJob struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewGeoCachePurgeJob(db *gorm.DB, logger *slog.Logger) *GeoCachePurgeJob {
	return &GeoCachePurgeJob{db: db, logger: logger, now: time.Now}
}

func (j *GeoCachePurgeJob) Run(ctx context.Context) error {
	deleted, err := geo.PurgeExpired(j.db.WithContext(ctx), j.logger, j.now())
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.logger.Info("Purged expired geolocation cache entries", slog.Int64("deleted_count", deleted))
	}
	return nil
}
