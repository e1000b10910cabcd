// Package history keeps per-URL summary statistics of past runs in SQLite so
// a run can be compared against earlier ones.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/onkernel/pageperf/lib/collector"
	"github.com/onkernel/pageperf/lib/metrics"
)

// ErrUnknownRun is returned when a run id has no stored rows.
var ErrUnknownRun = errors.New("unknown run")

// Run is one invocation of the tool.
type Run struct {
	ID           string `gorm:"primaryKey"`
	StartedAt    time.Time
	Browser      string
	Connectivity string
	Iterations   int
	Failed       bool
	Metrics      []PageMetric `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// PageMetric is the summary of one metric path for one URL in one run.
type PageMetric struct {
	ID     uint   `gorm:"primaryKey"`
	RunID  string `gorm:"index"`
	URL    string `gorm:"index:idx_url_path"`
	Path   string `gorm:"index:idx_url_path"`
	Count  int
	Median float64
	Mean   float64
	StdDev float64
}

// Point is a metric median from one past run.
type Point struct {
	RunID     string
	StartedAt time.Time
	Median    float64
}

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens or creates the database at path. ":memory:" keeps it in memory.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.AutoMigrate(&Run{}, &PageMetric{}); err != nil {
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save stores run and the statistics of every record in one transaction.
// The run is stored as failed when run.Failed is already set or any record
// has errors.
func (s *Store) Save(ctx context.Context, run Run, records []*collector.Record) error {
	run.Metrics = nil
	for _, rec := range records {
		if rec.HasErrors() {
			run.Failed = true
		}
		rec.Statistics.Walk(func(path []string, st *metrics.Stats) {
			run.Metrics = append(run.Metrics, PageMetric{
				URL:    rec.Info.URL,
				Path:   strings.Join(path, "."),
				Count:  st.Count,
				Median: st.Median,
				Mean:   st.Mean,
				StdDev: st.StdDev,
			})
		})
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&run).Error
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	s.logger.Info("saved run history", "run", run.ID, "metrics", len(run.Metrics))
	return nil
}

// Medians returns the medians recorded for url and a dotted metric path,
// newest run first.
func (s *Store) Medians(ctx context.Context, url, path string, limit int) ([]Point, error) {
	var points []Point
	q := s.db.WithContext(ctx).
		Model(&PageMetric{}).
		Select("page_metrics.run_id AS run_id, runs.started_at AS started_at, page_metrics.median AS median").
		Joins("JOIN runs ON runs.id = page_metrics.run_id").
		Where("page_metrics.url = ? AND page_metrics.path = ?", url, path).
		Order("runs.started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&points).Error; err != nil {
		return nil, fmt.Errorf("query medians: %w", err)
	}
	return points, nil
}

// Run loads a stored run and its metrics.
func (s *Store) Run(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Preload("Metrics").First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &run, nil
}
