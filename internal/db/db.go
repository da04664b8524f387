// Package db keeps the local job and callback ledger in SQLite.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat matches the strftime default used by the schema.
const timeFormat = "2006-01-02T15:04:05.000Z"

// Open creates <dataDir>/db/deepscan.db if needed and applies connection
// pragmas.
func Open(dataDir string) (*sql.DB, error) {
	dbDir := filepath.Join(dataDir, "db")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return OpenPath(filepath.Join(dbDir, "deepscan.db"))
}

func OpenPath(dbPath string) (*sql.DB, error) {
	database, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := database.Exec(p); err != nil {
			database.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	database.SetMaxOpenConns(1)
	return database, nil
}

// SQLiteTime scans timestamps that the driver may hand back as TEXT,
// time.Time or unix seconds.
type SQLiteTime struct {
	Time  time.Time
	Valid bool
}

func (st *SQLiteTime) Scan(src interface{}) error {
	st.Valid = src != nil
	switch v := src.(type) {
	case nil:
		st.Time = time.Time{}
	case string:
		for _, f := range []string{timeFormat, time.RFC3339Nano, "2006-01-02 15:04:05"} {
			t, err := time.Parse(f, v)
			if err == nil {
				st.Time = t
				return nil
			}
		}
		return fmt.Errorf("SQLiteTime: cannot parse %q", v)
	case time.Time:
		st.Time = v
	case int64:
		st.Time = time.Unix(v, 0)
	default:
		return fmt.Errorf("SQLiteTime: unsupported type %T", src)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
