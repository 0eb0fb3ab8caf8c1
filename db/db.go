package db

import (
	"context"
	"database/sql"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

var DB *sql.DB

func InitDB(ctx context.Context, path string) {
	var err error
	// WAL allows concurrent readers during writes; the busy timeout waits on
	// locks instead of failing immediately.
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=15000&cache=shared&_foreign_keys=on"
	DB, err = sql.Open("sqlite3", dsn)
	if err != nil {
		log.Fatal(err)
	}
	DB.SetMaxOpenConns(8)
	DB.SetMaxIdleConns(4)
	if err := DB.PingContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func Close() error {
	if DB == nil {
		return nil
	}
	return DB.Close()
}
