package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS torrents (
	id TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	rd_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	rd_status INTEGER NOT NULL DEFAULT 0,
	rd_status_raw TEXT NOT NULL DEFAULT '',
	rd_progress REAL NOT NULL DEFAULT 0,
	added TEXT NOT NULL,
	files_selected TEXT,
	completed TEXT,
	retry TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	torrent_retry_attempts INTEGER NOT NULL DEFAULT 0,
	download_retry_attempts INTEGER NOT NULL DEFAULT 0,
	lifetime INTEGER NOT NULL DEFAULT 0,
	delete_on_error INTEGER NOT NULL DEFAULT 0,
	finished_action INTEGER NOT NULL DEFAULT 0,
	host_download_action INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	torrent_id TEXT NOT NULL REFERENCES torrents(id) ON DELETE CASCADE,
	file_name TEXT NOT NULL DEFAULT '',
	restricted_link TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL DEFAULT '',
	remote_id TEXT NOT NULL DEFAULT '',
	bytes_total INTEGER NOT NULL DEFAULT 0,
	bytes_done INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	download_queued TEXT NOT NULL,
	download_started TEXT,
	download_finished TEXT,
	unpacking_queued TEXT,
	unpacking_started TEXT,
	unpacking_finished TEXT,
	completed TEXT
);
CREATE INDEX IF NOT EXISTS idx_downloads_torrent ON downloads(torrent_id);
`

// DB owns the sqlite handle shared by the torrent and download repositories.
type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	conn.SetMaxOpenConns(1) // sqlite: single writer
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Torrents() *TorrentRepo {
	return &TorrentRepo{db: db.conn}
}

func (db *DB) Downloads() *DownloadRepo {
	return &DownloadRepo{db: db.conn}
}

// Time columns are stored as RFC3339Nano strings; NULL maps to a nil pointer.

func timeToCol(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func colToTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
