package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

//go:embed migrations
var migrations embed.FS

var ErrNotFound = errors.New("record not found")

// Store persists stream sessions and their analysis results in Postgres
// or SQLite.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// Open connects to the configured database. Call Migrate before use.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("database")

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = sql.Open("pgx", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn := cfg.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// a single writer avoids SQLITE_BUSY under concurrent sessions
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected", zap.String("driver", cfg.Driver), zap.String("dsn", cfg.DSNForLog()))
	return &Store{db: db, driver: cfg.Driver, logger: logger}, nil
}

// Migrate applies the embedded migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	dialect := goose.DialectPostgres
	dir := "migrations/postgres"
	if s.driver == "sqlite" {
		dialect = goose.DialectSQLite3
		dir = "migrations/sqlite"
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	s.logger.Info("migrations applied", zap.Int("count", len(results)))
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("database closed")
	return s.db.Close()
}

func (s *Store) CreateStreamSession(ctx context.Context, clientID string, startedAt time.Time) (models.StreamSession, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO stream_sessions (client_id, started_at, status, frames_received)
		 VALUES (?, ?, ?, 0) RETURNING id`),
		clientID, startedAt.UnixMilli(), models.SessionActive,
	).Scan(&id)
	if err != nil {
		return models.StreamSession{}, fmt.Errorf("create stream session: %w", err)
	}
	return models.StreamSession{
		ID:        id,
		ClientID:  clientID,
		StartedAt: time.UnixMilli(startedAt.UnixMilli()),
		Status:    models.SessionActive,
	}, nil
}

func (s *Store) EndStreamSession(ctx context.Context, id int64, framesReceived int, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE stream_sessions SET ended_at = ?, status = ?, frames_received = ? WHERE id = ?`),
		endedAt.UnixMilli(), models.SessionCompleted, framesReceived, id,
	)
	if err != nil {
		return fmt.Errorf("end stream session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetStreamSession(ctx context.Context, id int64) (models.StreamSession, error) {
	var (
		ss      models.StreamSession
		started int64
		ended   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, client_id, started_at, ended_at, status, frames_received
		 FROM stream_sessions WHERE id = ?`), id,
	).Scan(&ss.ID, &ss.ClientID, &started, &ended, &ss.Status, &ss.FramesReceived)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StreamSession{}, ErrNotFound
	}
	if err != nil {
		return models.StreamSession{}, fmt.Errorf("get stream session: %w", err)
	}
	ss.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		t := time.UnixMilli(ended.Int64)
		ss.EndedAt = &t
	}
	return ss, nil
}

// SaveAnalysis inserts ev and sets its ID.
func (s *Store) SaveAnalysis(ctx context.Context, ev *models.AnalysisEvent) error {
	observations := ev.Observations
	if observations == nil {
		observations = []string{}
	}
	obs, err := json.Marshal(observations)
	if err != nil {
		return fmt.Errorf("encode observations: %w", err)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	err = s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO analysis_events
		 (session_id, frame_number, drowsiness_level, confidence, is_drowsy, observations, recommended_action, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		ev.SessionID, ev.FrameNumber, ev.DrowsinessLevel, ev.Confidence, ev.IsDrowsy,
		string(obs), ev.RecommendedAction, ev.Error, ev.CreatedAt.UnixMilli(),
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}
	return nil
}

// ListAnalyses returns the results of a session in frame order.
// limit <= 0 means no limit.
func (s *Store) ListAnalyses(ctx context.Context, sessionID int64, limit int) ([]models.AnalysisEvent, error) {
	query := `SELECT id, session_id, frame_number, drowsiness_level, confidence, is_drowsy,
		observations, recommended_action, error, created_at
		FROM analysis_events WHERE session_id = ? ORDER BY frame_number ASC, id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	events := []models.AnalysisEvent{}
	for rows.Next() {
		var (
			ev      models.AnalysisEvent
			obs     string
			created int64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.FrameNumber, &ev.DrowsinessLevel, &ev.Confidence,
			&ev.IsDrowsy, &obs, &ev.RecommendedAction, &ev.Error, &created); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(obs), &ev.Observations); err != nil {
			s.logger.Warn("bad observations column", zap.Int64("id", ev.ID), zap.Error(err))
			ev.Observations = []string{}
		}
		ev.CreatedAt = time.UnixMilli(created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// rebind turns ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
