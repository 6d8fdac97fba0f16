package visits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// VisitRecord is one locally logged page load.
type VisitRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	VisitorID string    `gorm:"size:64;index:idx_visit_visitor_path" json:"visitor_id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	Path      string    `gorm:"size:2048;index:idx_visit_visitor_path" json:"path"`
	Referrer  string    `gorm:"size:255" json:"referrer"`
	Device    string    `gorm:"size:32" json:"device"`
	Language  string    `gorm:"size:35" json:"language,omitempty"`
	Timezone  string    `gorm:"size:64" json:"timezone,omitempty"`
	Platform  string    `gorm:"size:64" json:"platform,omitempty"`
	Screen    string    `gorm:"size:32" json:"screen,omitempty"`
	Country   string    `gorm:"size:128" json:"country"`
	Region    string    `gorm:"size:128" json:"region"`
	City      string    `gorm:"size:128" json:"city"`
	CreatedAt time.Time `json:"-"`
}

func (VisitRecord) TableName() string {
	return "visit_records"
}

// LogOptions bounds the visit log.
type LogOptions struct {
	// Cap is the number of most recent records kept; older ones are evicted.
	Cap int
	// DedupWindow drops a record when the same visitor logged the same path
	// within the window.
	DedupWindow time.Duration
}

// Log is the bounded, append-only local visit log.
type Log struct {
	db     *gorm.DB
	logger *slog.Logger
	opts   LogOptions
}

// NewLog returns a Log over db.
func NewLog(db *gorm.DB, logger *slog.Logger, opts LogOptions) *Log {
	if opts.Cap <= 0 {
		opts.Cap = 500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{db: db, logger: logger, opts: opts}
}

// Append stores rec and evicts the oldest records beyond the cap. It returns
// false when rec was a duplicate inside the dedup window.
func (l *Log) Append(ctx context.Context, rec VisitRecord) (bool, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()

	stored := false
	err := sqlite.PerformWrite(l.logger, l.db.WithContext(ctx), func(tx *gorm.DB) error {
		if l.opts.DedupWindow > 0 && rec.VisitorID != "" {
			var dupes int64
			err := tx.Model(&VisitRecord{}).
				Where("visitor_id = ? AND path = ? AND timestamp > ?",
					rec.VisitorID, rec.Path, rec.Timestamp.Add(-l.opts.DedupWindow)).
				Count(&dupes).Error
			if err != nil {
				return err
			}
			if dupes > 0 {
				return nil
			}
		}

		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		stored = true

		return tx.Exec(
			"DELETE FROM visit_records WHERE id NOT IN (SELECT id FROM visit_records ORDER BY id DESC LIMIT ?)",
			l.opts.Cap,
		).Error
	})
	if err != nil {
		return false, fmt.Errorf("visits: append: %w", err)
	}
	return stored, nil
}

// Recent returns up to n records, newest first.
func (l *Log) Recent(ctx context.Context, n int) ([]VisitRecord, error) {
	var out []VisitRecord
	err := l.db.WithContext(ctx).
		Order("id DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("visits: recent: %w", err)
	}
	return out, nil
}

// ByVisitor returns up to n records of one visitor, newest first.
func (l *Log) ByVisitor(ctx context.Context, visitorID string, n int) ([]VisitRecord, error) {
	var out []VisitRecord
	if visitorID == "" {
		return out, nil
	}
	err := l.db.WithContext(ctx).
		Where("visitor_id = ?", visitorID).
		Order("id DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("visits: by visitor: %w", err)
	}
	return out, nil
}

// UniqueVisitors estimates distinct visitor ids logged since the given time.
func (l *Log) UniqueVisitors(ctx context.Context, since time.Time) (uint64, error) {
	rows, err := l.db.WithContext(ctx).
		Model(&VisitRecord{}).
		Select("visitor_id").
		Where("timestamp >= ? AND visitor_id <> ''", since.UTC()).
		Rows()
	if err != nil {
		return 0, fmt.Errorf("visits: unique visitors: %w", err)
	}
	defer rows.Close()

	sketch := hyperloglog.New()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("visits: unique visitors: %w", err)
		}
		sketch.Insert([]byte(id))
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("visits: unique visitors: %w", err)
	}
	return sketch.Estimate(), nil
}

// Count returns the number of records in the log.
func (l *Log) Count(ctx context.Context) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&VisitRecord{}).Count(&n).Error
	return n, err
}

// Prune deletes records older than cutoff in batches and returns how many
// were removed.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	const batchSize = 1000
	var total int64
	for {
		var affected int64
		err := sqlite.PerformWrite(l.logger, l.db.WithContext(ctx), func(tx *gorm.DB) error {
			result := tx.Exec(
				"DELETE FROM visit_records WHERE id IN (SELECT id FROM visit_records WHERE timestamp < ? LIMIT ?)",
				cutoff.UTC(), batchSize,
			)
			affected = result.RowsAffected
			return result.Error
		})
		if err != nil {
			return total, fmt.Errorf("visits: prune: %w", err)
		}
		total += affected
		if affected < batchSize {
			return total, nil
		}
	}
}
