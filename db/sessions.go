package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func CreateSessionsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`
	_, err := DB.Exec(query)
	return err
}

func CreateSession(username string, ttl time.Duration) (string, error) {
	id := uuid.New().String()
	now := time.Now()
	query := `
	INSERT INTO sessions (id, username, created_at, expires_at)
	VALUES (?, ?, ?, ?);
	`
	_, err := DB.Exec(query, id, username, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetSession returns nil for an unknown or expired session; expired rows
// are deleted on the way out.
func GetSession(id string) (*Session, error) {
	const query = `
	SELECT id, username, created_at, expires_at
	FROM sessions WHERE id = ?;
	`
	var s Session
	var created, expires int64
	err := DB.QueryRow(query, id).Scan(&s.ID, &s.Username, &created, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(created, 0)
	s.ExpiresAt = time.Unix(expires, 0)
	if s.ExpiresAt.Before(time.Now()) {
		_, _ = DB.Exec(`DELETE FROM sessions WHERE id = ?;`, id)
		return nil, nil
	}
	return &s, nil
}

func DeleteSession(id string) error {
	_, err := DB.Exec(`DELETE FROM sessions WHERE id = ?;`, id)
	return err
}

// CleanupSessions removes expired sessions, returning how many were dropped.
func CleanupSessions() (int64, error) {
	res, err := DB.Exec(`DELETE FROM sessions WHERE expires_at < ?;`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
