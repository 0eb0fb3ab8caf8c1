package db

import (
	"time"

	"github.com/google/uuid"
)

type ScrubSchedule struct {
	ID         string `json:"id"`
	Pool       string `json:"pool"`
	Frequency  string `json:"frequency"` // daily, weekly, monthly
	DayOfWeek  int    `json:"day_of_week"`
	DayOfMonth int    `json:"day_of_month"`
	Hour       int    `json:"hour"`
	Minute     int    `json:"minute"`
	Enabled    bool   `json:"enabled"`
	LastRun    int64  `json:"last_run"`
	LastStatus string `json:"last_status"`
	CreatedAt  int64  `json:"created_at"`
}

func CreateScrubTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS scrub_schedules (
		id           TEXT PRIMARY KEY,
		pool         TEXT NOT NULL,
		frequency    TEXT NOT NULL DEFAULT 'weekly',
		day_of_week  INTEGER NOT NULL DEFAULT 0,
		day_of_month INTEGER NOT NULL DEFAULT 1,
		hour         INTEGER NOT NULL DEFAULT 2,
		minute       INTEGER NOT NULL DEFAULT 0,
		enabled      INTEGER NOT NULL DEFAULT 1,
		last_run     INTEGER DEFAULT 0,
		last_status  TEXT DEFAULT '',
		created_at   INTEGER NOT NULL
	);
	`
	_, err := DB.Exec(query)
	return err
}

func CreateScrubSchedule(s ScrubSchedule) (string, error) {
	id := uuid.New().String()
	query := `
	INSERT INTO scrub_schedules (id, pool, frequency, day_of_week, day_of_month, hour, minute, enabled, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	_, err := DB.Exec(query, id, s.Pool, s.Frequency, s.DayOfWeek, s.DayOfMonth, s.Hour, s.Minute, enabled, time.Now().Unix())
	if err != nil {
		return "", err
	}
	return id, nil
}

func ListScrubSchedules() ([]ScrubSchedule, error) {
	const query = `
	SELECT id, pool, frequency, day_of_week, day_of_month, hour, minute, enabled, last_run, last_status, created_at
	FROM scrub_schedules ORDER BY created_at DESC;
	`
	rows, err := DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := []ScrubSchedule{}
	for rows.Next() {
		var s ScrubSchedule
		var enabled int
		if err := rows.Scan(&s.ID, &s.Pool, &s.Frequency, &s.DayOfWeek, &s.DayOfMonth,
			&s.Hour, &s.Minute, &enabled, &s.LastRun, &s.LastStatus, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Enabled = enabled == 1
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedules, nil
}

func UpdateScrubRun(id string, lastRun int64, lastStatus string) error {
	_, err := DB.Exec(`UPDATE scrub_schedules SET last_run = ?, last_status = ? WHERE id = ?;`, lastRun, lastStatus, id)
	return err
}

func SetScrubEnabled(id string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	_, err := DB.Exec(`UPDATE scrub_schedules SET enabled = ? WHERE id = ?;`, v, id)
	return err
}

func DeleteScrubSchedule(id string) error {
	_, err := DB.Exec(`DELETE FROM scrub_schedules WHERE id = ?;`, id)
	return err
}
