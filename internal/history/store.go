package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/murmellabs/murmel/internal/config"
	_ "modernc.org/sqlite"
)

// SessionRecord describes one recording session.
type SessionRecord struct {
	SessionID    string
	Model        string
	Language     string
	AudioSeconds float64
	CreatedAt    time.Time
}

// TranscriptRecord is one finished transcription.
type TranscriptRecord struct {
	ID        int64
	SessionID string
	Text      string
	TookMS    int64
	CreatedAt time.Time
}

// Store wraps a SQLite-backed transcript history store.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store according to config. In ephemeral mode
// nothing ever touches disk and every write becomes a no-op.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == "session" {
		if err := s.reset(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset history: %w", err)
		}
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    model TEXT,
    language TEXT,
    audio_seconds REAL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    took_ms INTEGER,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_created ON transcripts(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// reset clears all rows, used when retention_mode is "session".
func (s *Store) reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcripts`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether transcripts are persisted at all.
func (s *Store) Enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, rec SessionRecord) error {
	if !s.Enabled() {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, model, language, audio_seconds, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET model=excluded.model, language=excluded.language, audio_seconds=excluded.audio_seconds`,
		rec.SessionID, rec.Model, rec.Language, rec.AudioSeconds, rec.CreatedAt)
	return err
}

// AppendTranscript writes a finished transcription into the store.
func (s *Store) AppendTranscript(ctx context.Context, rec TranscriptRecord) error {
	if !s.Enabled() {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, text, took_ms, created_at)
		 VALUES(?, ?, ?, ?)`,
		rec.SessionID, rec.Text, rec.TookMS, rec.CreatedAt)
	return err
}

// LastTranscript returns the most recent transcript, if any.
func (s *Store) LastTranscript(ctx context.Context) (TranscriptRecord, bool, error) {
	if !s.Enabled() {
		return TranscriptRecord{}, false, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, text, took_ms, created_at
		 FROM transcripts ORDER BY created_at DESC, id DESC LIMIT 1`)

	var rec TranscriptRecord
	var created string
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.Text, &rec.TookMS, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return TranscriptRecord{}, false, nil
	}
	if err != nil {
		return TranscriptRecord{}, false, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = ts
	}
	return rec, true, nil
}

// ListSessionTranscripts retrieves up to limit transcripts for a session
// ordered ascending by time.
func (s *Store) ListSessionTranscripts(ctx context.Context, sessionID string, limit int) ([]TranscriptRecord, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, took_ms, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TranscriptRecord
	for rows.Next() {
		var rec TranscriptRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Text, &rec.TookMS, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
