package db

import (
	"database/sql"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID        int
	Username  string
	CreatedAt time.Time
}

func CreateUsersTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    INTEGER NOT NULL
	);
	`
	_, err := DB.Exec(query)
	return err
}

func CreateUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	query := `
	INSERT INTO users (username, password_hash, created_at)
	VALUES (?, ?, ?);
	`
	_, err = DB.Exec(query, username, string(hash), time.Now().Unix())
	return err
}

// CheckCredentials reports whether the username/password pair is valid.
func CheckCredentials(username, password string) (bool, error) {
	var hash string
	err := DB.QueryRow(`SELECT password_hash FROM users WHERE username = ?;`, username).Scan(&hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

func SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = DB.Exec(`UPDATE users SET password_hash = ? WHERE username = ?;`, string(hash), username)
	return err
}

func DeleteUser(username string) error {
	_, err := DB.Exec(`DELETE FROM users WHERE username = ?;`, username)
	return err
}

func ListUsers() ([]User, error) {
	rows, err := DB.Query(`SELECT id, username, created_at FROM users ORDER BY username;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var created int64
		if err := rows.Scan(&u.ID, &u.Username, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(created, 0)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func CountUsers() (int, error) {
	var count int
	err := DB.QueryRow(`SELECT COUNT(*) FROM users;`).Scan(&count)
	return count, err
}
