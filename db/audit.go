package db

import "time"

type AuditEntry struct {
	ID        int    `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	Detail    string `json:"detail"`
	Success   bool   `json:"success"`
}

func CreateAuditTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		username  TEXT NOT NULL,
		action    TEXT NOT NULL,
		target    TEXT NOT NULL,
		detail    TEXT DEFAULT '',
		success   INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	`
	_, err := DB.Exec(query)
	return err
}

func AuditLog(username, action, target string) error {
	return AuditLogDetail(username, action, target, "", true)
}

func AuditLogDetail(username, action, target, detail string, success bool) error {
	query := `
	INSERT INTO audit_log (timestamp, username, action, target, detail, success)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	ok := 0
	if success {
		ok = 1
	}
	_, err := DB.Exec(query, time.Now().Unix(), username, action, target, detail, ok)
	return err
}

func GetAuditLog(limit, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
	SELECT id, timestamp, username, action, target, detail, success
	FROM audit_log ORDER BY timestamp DESC LIMIT ? OFFSET ?;
	`
	rows, err := DB.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var ok int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Username, &e.Action, &e.Target, &e.Detail, &ok); err != nil {
			return nil, err
		}
		e.Success = ok == 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
