// Package database persists one audit record per orchestrator run and
// serves the dashboard's read queries.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PersistenceError wraps audit-store failures. Callers log it and move on;
// it must never mask the run's primary error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AlertRecord is one persisted run outcome. Records are insert-only.
type AlertRecord struct {
	ID           string         `db:"id"`
	Camera       string         `db:"camera"`
	Timestamp    string         `db:"timestamp"`
	AlertHandle  string         `db:"alert_handle"`
	GifURL       string         `db:"gif_url"`
	JpegURLs     pq.StringArray `db:"jpeg_urls"`
	JpegCount    int            `db:"jpeg_count"`
	Success      bool           `db:"success"`
	ErrorMessage sql.NullString `db:"error_message"`
	DebugMode    bool           `db:"debug_mode"`
	CreatedAt    time.Time      `db:"created_at"`
}

// Stats summarizes recent run outcomes for the dashboard.
type Stats struct {
	TotalAlerts      int `db:"total_alerts"`
	SuccessfulAlerts int `db:"successful_alerts"`
	FailedAlerts     int `db:"failed_alerts"`
	UniqueCameras    int `db:"unique_cameras"`
}

const schema = `
CREATE TABLE IF NOT EXISTS alert_logs (
	id UUID PRIMARY KEY,
	camera VARCHAR(100) NOT NULL,
	timestamp VARCHAR(100) NOT NULL,
	alert_handle VARCHAR(255),
	gif_url TEXT,
	jpeg_urls TEXT[],
	jpeg_count INTEGER DEFAULT 0,
	success BOOLEAN DEFAULT FALSE,
	error_message TEXT,
	debug_mode BOOLEAN DEFAULT FALSE,
	created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_alert_logs_camera ON alert_logs(camera);
CREATE INDEX IF NOT EXISTS idx_alert_logs_created_at ON alert_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_alert_logs_success ON alert_logs(success);
`

const insertSQL = `
INSERT INTO alert_logs (
	id, camera, timestamp, alert_handle, gif_url, jpeg_urls,
	jpeg_count, success, error_message, debug_mode
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// Store wraps the Postgres connection pool.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects to Postgres, retrying the initial dial a few times
// since the database may still be starting alongside the service.
func NewStore(dsn string) (*Store, error) {
	var db *sqlx.DB
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			break
		}
		if attempt < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(4)
	return &Store{db: db, logger: zap.L().Named("audit-store")}, nil
}

// NewStoreFromDB wraps an existing connection (tests).
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres"), logger: zap.NewNop()}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the alert_logs table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &PersistenceError{Op: "ensure_schema", Err: err}
	}
	return nil
}

// LogAlert inserts exactly one audit row for a run and returns its id.
// Transient insert failures get three attempts with a short pause.
func (s *Store) LogAlert(ctx context.Context, rec AlertRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.JpegURLs == nil {
		rec.JpegURLs = pq.StringArray{}
	}
	rec.JpegCount = len(rec.JpegURLs)

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err = s.db.ExecContext(ctx, insertSQL,
			rec.ID, rec.Camera, rec.Timestamp, rec.AlertHandle, rec.GifURL,
			rec.JpegURLs, rec.JpegCount, rec.Success, rec.ErrorMessage, rec.DebugMode,
		)
		if err == nil {
			s.logger.Debug("logged alert", zap.String("id", rec.ID), zap.Bool("success", rec.Success))
			return rec.ID, nil
		}
		if attempt < 3 {
			time.Sleep(time.Second)
		}
	}
	return "", &PersistenceError{Op: "log_alert", Err: err}
}

// RecentAlerts returns the newest records for the dashboard.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []AlertRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM alert_logs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "recent_alerts", Err: err}
	}
	return recs, nil
}

// AlertStats aggregates outcomes over the last N days.
func (s *Store) AlertStats(ctx context.Context, days int) (Stats, error) {
	if days <= 0 {
		days = 7
	}
	var st Stats
	err := s.db.GetContext(ctx, &st, `
		SELECT
			COUNT(*) AS total_alerts,
			COUNT(*) FILTER (WHERE success = true) AS successful_alerts,
			COUNT(*) FILTER (WHERE success = false) AS failed_alerts,
			COUNT(DISTINCT camera) AS unique_cameras
		FROM alert_logs
		WHERE created_at >= NOW() - ($1 * INTERVAL '1 day')`, days)
	if err != nil {
		return Stats{}, &PersistenceError{Op: "alert_stats", Err: err}
	}
	return st, nil
}
