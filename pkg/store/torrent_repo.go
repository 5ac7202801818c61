package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

// TorrentRepo persists torrent rows. The reconciliation core only mutates
// status fields; rows are created and destroyed via the torrents facade.
type TorrentRepo struct {
	db *sql.DB
}

const torrentCols = `id, hash, rd_id, name, category, rd_status, rd_status_raw, rd_progress,
	added, files_selected, completed, retry, retry_count, torrent_retry_attempts,
	download_retry_attempts, lifetime, delete_on_error, finished_action,
	host_download_action, error`

func scanTorrent(row interface{ Scan(...any) error }) (*Torrent, error) {
	var t Torrent
	var added string
	var filesSelected, completed, retry sql.NullString
	err := row.Scan(
		&t.ID, &t.Hash, &t.RdID, &t.Name, &t.Category, &t.RdStatus, &t.RdStatusRaw, &t.RdProgress,
		&added, &filesSelected, &completed, &retry, &t.RetryCount, &t.TorrentRetryAttempts,
		&t.DownloadRetryAttempts, &t.Lifetime, &t.DeleteOnError, &t.FinishedAction,
		&t.HostDownloadAction, &t.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, added); err == nil {
		t.Added = ts
	}
	t.FilesSelected = colToTime(filesSelected)
	t.Completed = colToTime(completed)
	t.Retry = colToTime(retry)
	return &t, nil
}

func (r *TorrentRepo) Add(t *Torrent) error {
	_, err := r.db.Exec(`INSERT INTO torrents (`+torrentCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Hash, t.RdID, t.Name, t.Category, t.RdStatus, t.RdStatusRaw, t.RdProgress,
		t.Added.UTC().Format(time.RFC3339Nano), timeToCol(t.FilesSelected), timeToCol(t.Completed),
		timeToCol(t.Retry), t.RetryCount, t.TorrentRetryAttempts, t.DownloadRetryAttempts,
		t.Lifetime, t.DeleteOnError, t.FinishedAction, t.HostDownloadAction, t.Error,
	)
	return err
}

func (r *TorrentRepo) Get(id string) (*Torrent, error) {
	row := r.db.QueryRow(`SELECT `+torrentCols+` FROM torrents WHERE id = ?`, id)
	return scanTorrent(row)
}

func (r *TorrentRepo) All() ([]*Torrent, error) {
	rows, err := r.db.Query(`SELECT ` + torrentCols + ` FROM torrents ORDER BY added`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var torrents []*Torrent
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}
		torrents = append(torrents, t)
	}
	return torrents, rows.Err()
}

// UpdateRdInfo refreshes the remote-status snapshot cached on the row.
func (r *TorrentRepo) UpdateRdInfo(id string, status RdStatus, raw string, progress float64, name string) error {
	_, err := r.db.Exec(`UPDATE torrents SET rd_status = ?, rd_status_raw = ?, rd_progress = ?,
		name = CASE WHEN ? != '' THEN ? ELSE name END WHERE id = ?`,
		status, raw, progress, name, name, id)
	return err
}

func (r *TorrentRepo) UpdateRetry(id string, retry *time.Time, retryCount int) error {
	_, err := r.db.Exec(`UPDATE torrents SET retry = ?, retry_count = ? WHERE id = ?`,
		timeToCol(retry), retryCount, id)
	return err
}

func (r *TorrentRepo) UpdateRdID(id, rdID string) error {
	_, err := r.db.Exec(`UPDATE torrents SET rd_id = ? WHERE id = ?`, rdID, id)
	return err
}

func (r *TorrentRepo) UpdateFilesSelected(id string, ts time.Time) error {
	_, err := r.db.Exec(`UPDATE torrents SET files_selected = ? WHERE id = ?`,
		ts.UTC().Format(time.RFC3339Nano), id)
	return err
}

func (r *TorrentRepo) UpdateError(id, msg string) error {
	_, err := r.db.Exec(`UPDATE torrents SET error = ? WHERE id = ?`, msg, id)
	return err
}

// UpdateComplete marks the torrent terminal. A terminal completion also
// clears the retry marker so the retry step cannot resubmit the torrent.
func (r *TorrentRepo) UpdateComplete(id string, errMsg *string, ts time.Time, terminal bool) error {
	msg := ""
	if errMsg != nil {
		msg = *errMsg
	}
	if terminal {
		_, err := r.db.Exec(`UPDATE torrents SET completed = ?, error = ?, retry = NULL WHERE id = ?`,
			ts.UTC().Format(time.RFC3339Nano), msg, id)
		return err
	}
	_, err := r.db.Exec(`UPDATE torrents SET completed = ?, error = ? WHERE id = ?`,
		ts.UTC().Format(time.RFC3339Nano), msg, id)
	return err
}

func (r *TorrentRepo) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM torrents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("torrent %s: %w", id, ErrNotFound)
	}
	return nil
}
