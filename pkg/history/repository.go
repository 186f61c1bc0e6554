// Package history keeps a sqlite log of composite battery samples.
package history

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/series"
)

var ErrInvalidPath = errors.New("history database path is empty")

// Sample is one composite reading.
type Sample struct {
	Time          time.Time `json:"time"`
	Kind          cell.Kind `json:"kind"`
	Percentage    float64   `json:"percentage"`
	Rate          float64   `json:"rate"`
	TimeCharge    int64     `json:"timeCharge"`
	TimeDischarge int64     `json:"timeDischarge"`
	Charging      bool      `json:"charging"`
	Discharging   bool      `json:"discharging"`
	OnAC          bool      `json:"onAC"`
	WarningLevel  string    `json:"warningLevel"`
}

// SampleFromComposite builds a sample of c taken at t.
func SampleFromComposite(t time.Time, c cell.Composite, onAC bool, level string) Sample {
	return Sample{
		Time:          t,
		Kind:          c.Kind,
		Percentage:    c.Percentage,
		Rate:          c.Rate,
		TimeCharge:    c.TimeCharge,
		TimeDischarge: c.TimeDischarge,
		Charging:      c.IsCharging,
		Discharging:   c.IsDischarging,
		OnAC:          onAC,
		WarningLevel:  level,
	}
}

type Repository interface {
	Record(ctx context.Context, s Sample) error
	// Since returns the samples of kind taken at or after t, oldest first.
	Since(ctx context.Context, kind cell.Kind, t time.Time) ([]Sample, error)
	// Prune deletes samples older than t and returns how many were removed.
	Prune(ctx context.Context, t time.Time) (int64, error)
	Close() error
}

type sqliteRepository struct {
	mu sync.Mutex
	db *sql.DB
}

func NewRepository(path string) (Repository, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create directory for %s", path)
	}

	dsn := path + "?_journal_mode=WAL&_auto_vacuum=2&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open history database %s", path)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := migrate(db, time.Now().Unix()); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrapf(err, "failed to initialize history database %s", path)
	}

	logrus.WithFields(logrus.Fields{
		"path":           path,
		"schema_version": SchemaVersion,
	}).Info("history repository initialized")

	return &sqliteRepository{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *sqliteRepository) Record(ctx context.Context, s Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO samples (
			timestamp, kind, percentage, rate,
			time_charge, time_discharge,
			charging, discharging, on_ac, warning_level
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Time.Unix(),
		s.Kind.String(),
		s.Percentage,
		s.Rate,
		s.TimeCharge,
		s.TimeDischarge,
		boolToInt(s.Charging),
		boolToInt(s.Discharging),
		boolToInt(s.OnAC),
		s.WarningLevel,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to record sample")
	}
	return nil
}

func (r *sqliteRepository) Since(ctx context.Context, kind cell.Kind, t time.Time) ([]Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT timestamp, percentage, rate, time_charge, time_discharge,
			charging, discharging, on_ac, warning_level
		FROM samples
		WHERE kind = ? AND timestamp >= ?
		ORDER BY timestamp, id`,
		kind.String(), t.Unix(),
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query samples")
	}
	defer rows.Close()

	var ret []Sample
	for rows.Next() {
		var (
			ts                        int64
			charging, discharging, ac int
		)
		s := Sample{Kind: kind}
		err := rows.Scan(&ts, &s.Percentage, &s.Rate, &s.TimeCharge, &s.TimeDischarge,
			&charging, &discharging, &ac, &s.WarningLevel)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan sample")
		}
		s.Time = time.Unix(ts, 0)
		s.Charging = charging != 0
		s.Discharging = discharging != 0
		s.OnAC = ac != 0
		ret = append(ret, s)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read samples")
	}
	return ret, nil
}

func (r *sqliteRepository) Prune(ctx context.Context, t time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM samples WHERE timestamp < ?`, t.Unix())
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to prune samples")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to count pruned samples")
	}
	return n, nil
}

func (r *sqliteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return pkgerrors.Wrap(err, "failed to close history database")
	}
	return nil
}

// PercentSeries turns samples into a series of (unix time, percentage).
// The tag is 1 while discharging.
func PercentSeries(samples []Sample) *series.Series {
	s := series.New()
	s.MaxPoints = 0
	s.MaxWidth = 0
	for _, sample := range samples {
		var tag int64
		if sample.Discharging {
			tag = 1
		}
		_ = s.Append(sample.Time.Unix(), int64(sample.Percentage), tag)
	}
	return s
}
