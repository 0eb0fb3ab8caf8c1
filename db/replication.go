package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type ReplicationJob struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Direction   string `json:"direction"` // local, ssh
	SSHHost     string `json:"ssh_host"`
	SSHUser     string `json:"ssh_user"`
	Recursive   bool   `json:"recursive"`
	RawSend     bool   `json:"raw_send"`
	Compressed  bool   `json:"compressed"`
	Schedule    string `json:"schedule"` // empty for manual-only
	Enabled     bool   `json:"enabled"`
	LastRun     int64  `json:"last_run"`
	LastStatus  string `json:"last_status"`
	LastBytes   int64  `json:"last_bytes"`
	CreatedAt   int64  `json:"created_at"`
}

func CreateReplicationTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS replication_jobs (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		source      TEXT NOT NULL,
		destination TEXT NOT NULL,
		direction   TEXT NOT NULL DEFAULT 'local',
		ssh_host    TEXT DEFAULT '',
		ssh_user    TEXT DEFAULT 'root',
		recursive   INTEGER NOT NULL DEFAULT 0,
		raw_send    INTEGER NOT NULL DEFAULT 0,
		compressed  INTEGER NOT NULL DEFAULT 0,
		schedule    TEXT NOT NULL DEFAULT '',
		enabled     INTEGER NOT NULL DEFAULT 1,
		last_run    INTEGER DEFAULT 0,
		last_status TEXT DEFAULT '',
		last_bytes  INTEGER DEFAULT 0,
		created_at  INTEGER NOT NULL
	);
	`
	_, err := DB.Exec(query)
	return err
}

func CreateReplicationJob(j ReplicationJob) (string, error) {
	id := uuid.New().String()
	query := `
	INSERT INTO replication_jobs
		(id, name, source, destination, direction, ssh_host, ssh_user, recursive, raw_send, compressed, schedule, enabled, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err := DB.Exec(query, id, j.Name, j.Source, j.Destination, j.Direction,
		j.SSHHost, j.SSHUser, boolInt(j.Recursive), boolInt(j.RawSend),
		boolInt(j.Compressed), j.Schedule, boolInt(j.Enabled), time.Now().Unix())
	if err != nil {
		return "", err
	}
	return id, nil
}

const replicationColumns = `
	id, name, source, destination, direction, ssh_host, ssh_user,
	recursive, raw_send, compressed, schedule, enabled, last_run, last_status, last_bytes, created_at
`

func ListReplicationJobs() ([]ReplicationJob, error) {
	rows, err := DB.Query(`SELECT ` + replicationColumns + ` FROM replication_jobs ORDER BY created_at DESC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []ReplicationJob{}
	for rows.Next() {
		j, err := scanReplicationJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetReplicationJob returns nil without error when the id is unknown.
func GetReplicationJob(id string) (*ReplicationJob, error) {
	row := DB.QueryRow(`SELECT `+replicationColumns+` FROM replication_jobs WHERE id = ?;`, id)
	j, err := scanReplicationJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateReplicationJob rewrites the editable fields of an existing job; the
// API layer loads the row and merges the patch before calling this.
func UpdateReplicationJob(j ReplicationJob) error {
	query := `
	UPDATE replication_jobs SET
		name = ?, source = ?, destination = ?, direction = ?, ssh_host = ?, ssh_user = ?,
		recursive = ?, raw_send = ?, compressed = ?, schedule = ?, enabled = ?
	WHERE id = ?;
	`
	_, err := DB.Exec(query, j.Name, j.Source, j.Destination, j.Direction,
		j.SSHHost, j.SSHUser, boolInt(j.Recursive), boolInt(j.RawSend),
		boolInt(j.Compressed), j.Schedule, boolInt(j.Enabled), j.ID)
	return err
}

func UpdateReplicationRun(id string, lastRun int64, lastStatus string, lastBytes int64) error {
	_, err := DB.Exec(`UPDATE replication_jobs SET last_run = ?, last_status = ?, last_bytes = ? WHERE id = ?;`,
		lastRun, lastStatus, lastBytes, id)
	return err
}

func DeleteReplicationJob(id string) error {
	_, err := DB.Exec(`DELETE FROM replication_jobs WHERE id = ?;`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReplicationJob(row rowScanner) (ReplicationJob, error) {
	var j ReplicationJob
	var recursive, rawSend, compressed, enabled int
	err := row.Scan(&j.ID, &j.Name, &j.Source, &j.Destination, &j.Direction,
		&j.SSHHost, &j.SSHUser, &recursive, &rawSend, &compressed,
		&j.Schedule, &enabled, &j.LastRun, &j.LastStatus, &j.LastBytes, &j.CreatedAt)
	if err != nil {
		return ReplicationJob{}, err
	}
	j.Recursive = recursive == 1
	j.RawSend = rawSend == 1
	j.Compressed = compressed == 1
	j.Enabled = enabled == 1
	return j, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
