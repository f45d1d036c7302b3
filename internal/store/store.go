// Package store persists users, sessions, digests and learning
// progress in Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/coach/internal/agent/config"
)

type Store struct {
	DB *sql.DB
}

// SessionRecord is a persisted agent session. Data holds the full
// session document, phase logs included.
type SessionRecord struct {
	ID        string
	UserID    string
	Goal      string
	Status    string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DigestRecord is a persisted daily digest.
type DigestRecord struct {
	ID        string
	UserID    string
	Date      string
	Digest    json.RawMessage
	CreatedAt time.Time
}

// ScheduleRecord pairs a user with their digest cron expression.
type ScheduleRecord struct {
	UserID       string
	ScheduleCron string
}

// New connects using the configured Postgres settings, falling back to
// DATABASE_URL for container deployments.
func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		if env := os.Getenv("DATABASE_URL"); env != "" {
			dsn = env
		} else {
			return nil, err
		}
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Session operations

// UpsertSession inserts the session on first save and refreshes
// status/data afterwards. The controller persists the same session
// several times as it moves through statuses.
func (s *Store) UpsertSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, goal, status, data, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  data = EXCLUDED.data,
  updated_at = NOW()
`, rec.ID, rec.UserID, rec.Goal, rec.Status, rec.Data)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	var rec SessionRecord
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, goal, status, data, created_at, updated_at
FROM sessions
WHERE id=$1
`, id).Scan(&rec.ID, &rec.UserID, &rec.Goal, &rec.Status, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, goal, status, data, created_at, updated_at
FROM sessions
WHERE user_id=$1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Goal, &rec.Status, &rec.Data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Digest operations

// SaveDigest persists a generated digest document. The digest date
// comes from the document itself so regenerated digests replace the
// day's entry.
func (s *Store) SaveDigest(ctx context.Context, userID string, digest map[string]interface{}) error {
	date, _ := digest["date"].(string)
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	body, err := json.Marshal(digest)
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO digests (user_id, digest_date, digest)
VALUES ($1,$2,$3)
ON CONFLICT (user_id, digest_date) DO UPDATE SET
  digest = EXCLUDED.digest,
  created_at = NOW()
`, userID, date, body)
	return err
}

func (s *Store) ListDigests(ctx context.Context, userID string, limit int) ([]DigestRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, digest_date, digest, created_at
FROM digests
WHERE user_id=$1
ORDER BY digest_date DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DigestRecord
	for rows.Next() {
		var rec DigestRecord
		var date time.Time
		if err := rows.Scan(&rec.ID, &rec.UserID, &date, &rec.Digest, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Date = date.Format("2006-01-02")
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Progress operations

// UserProgress returns the user's progress row as a map, or nil when
// the user has none yet.
func (s *Store) UserProgress(ctx context.Context, userID string) (map[string]interface{}, error) {
	var (
		week       int
		topics     pq.StringArray
		difficulty string
		goals      sql.NullString
		metadata   []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT current_week, current_topics, difficulty_level, learning_goals, metadata
FROM user_progress
WHERE user_id=$1
`, userID).Scan(&week, &topics, &difficulty, &goals, &metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	topicList := make([]interface{}, len(topics))
	for i, topic := range topics {
		topicList[i] = topic
	}
	out := map[string]interface{}{
		"current_week":     week,
		"current_topics":   topicList,
		"difficulty_level": difficulty,
		"learning_goals":   goals.String,
	}
	var meta map[string]interface{}
	if len(metadata) > 0 && json.Unmarshal(metadata, &meta) == nil {
		out["metadata"] = meta
	}
	return out, nil
}

func (s *Store) UpsertProgress(ctx context.Context, userID string, week int, topics []string) error {
	if topics == nil {
		topics = []string{}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO user_progress (user_id, current_week, current_topics, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (user_id) DO UPDATE SET
  current_week = EXCLUDED.current_week,
  current_topics = EXCLUDED.current_topics,
  updated_at = NOW()
`, userID, week, pq.Array(topics))
	return err
}

// LearningContext shapes the progress row for the digest pipeline.
func (s *Store) LearningContext(ctx context.Context, userID string) (map[string]interface{}, error) {
	progress, err := s.UserProgress(ctx, userID)
	if err != nil || progress == nil {
		return nil, err
	}
	return map[string]interface{}{
		"current_week":     progress["current_week"],
		"current_topics":   progress["current_topics"],
		"difficulty_level": progress["difficulty_level"],
		"learning_goals":   progress["learning_goals"],
	}, nil
}

// LatestDigestTime returns when the user's most recent digest was
// generated, or nil when they have none.
func (s *Store) LatestDigestTime(ctx context.Context, userID string) (*time.Time, error) {
	var ts time.Time
	err := s.DB.QueryRowContext(ctx, `
SELECT created_at
FROM digests
WHERE user_id=$1
ORDER BY created_at DESC
LIMIT 1
`, userID).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// ListSchedules returns every user with a digest schedule configured.
func (s *Store) ListSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT user_id, schedule_cron
FROM user_progress
WHERE schedule_cron <> ''
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		if err := rows.Scan(&rec.UserID, &rec.ScheduleCron); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
