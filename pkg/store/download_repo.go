package store

import (
	"database/sql"
	"errors"
	"time"
)

// DownloadRepo persists download rows and their stage timestamps. Writes
// never clear a timestamp whose successor is already set, except for the
// explicit Reset and rewind paths.
type DownloadRepo struct {
	db *sql.DB
}

const downloadCols = `id, torrent_id, file_name, restricted_link, link, remote_id,
	bytes_total, bytes_done, retry_count, error, download_queued, download_started,
	download_finished, unpacking_queued, unpacking_started, unpacking_finished, completed`

func scanDownload(row interface{ Scan(...any) error }) (*Download, error) {
	var d Download
	var queued string
	var started, finished, upQueued, upStarted, upFinished, completed sql.NullString
	err := row.Scan(
		&d.ID, &d.TorrentID, &d.FileName, &d.RestrictedLink, &d.Link, &d.RemoteID,
		&d.BytesTotal, &d.BytesDone, &d.RetryCount, &d.Error, &queued, &started,
		&finished, &upQueued, &upStarted, &upFinished, &completed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, queued); err == nil {
		d.DownloadQueued = ts
	}
	d.DownloadStarted = colToTime(started)
	d.DownloadFinished = colToTime(finished)
	d.UnpackingQueued = colToTime(upQueued)
	d.UnpackingStarted = colToTime(upStarted)
	d.UnpackingFinished = colToTime(upFinished)
	d.Completed = colToTime(completed)
	return &d, nil
}

func (r *DownloadRepo) Add(d *Download) error {
	_, err := r.db.Exec(`INSERT INTO downloads (`+downloadCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TorrentID, d.FileName, d.RestrictedLink, d.Link, d.RemoteID,
		d.BytesTotal, d.BytesDone, d.RetryCount, d.Error,
		d.DownloadQueued.UTC().Format(time.RFC3339Nano), timeToCol(d.DownloadStarted),
		timeToCol(d.DownloadFinished), timeToCol(d.UnpackingQueued), timeToCol(d.UnpackingStarted),
		timeToCol(d.UnpackingFinished), timeToCol(d.Completed),
	)
	return err
}

func (r *DownloadRepo) Get(id string) (*Download, error) {
	row := r.db.QueryRow(`SELECT `+downloadCols+` FROM downloads WHERE id = ?`, id)
	return scanDownload(row)
}

func (r *DownloadRepo) ForTorrent(torrentID string) ([]*Download, error) {
	rows, err := r.db.Query(`SELECT `+downloadCols+` FROM downloads WHERE torrent_id = ? ORDER BY download_queued`, torrentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var downloads []*Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// UpdateDownloadStarted sets or, with a nil timestamp, rewinds the
// download-started stage (crash recovery).
func (r *DownloadRepo) UpdateDownloadStarted(id string, ts *time.Time) error {
	_, err := r.db.Exec(`UPDATE downloads SET download_started = ? WHERE id = ?`, timeToCol(ts), id)
	return err
}

// UpdateDownloadFinished promotes a finished download to the unpack queue in
// a single write.
func (r *DownloadRepo) UpdateDownloadFinished(id string, finished, unpackQueued time.Time) error {
	_, err := r.db.Exec(`UPDATE downloads SET download_finished = ?, unpacking_queued = ? WHERE id = ?`,
		finished.UTC().Format(time.RFC3339Nano), unpackQueued.UTC().Format(time.RFC3339Nano), id)
	return err
}

// UpdateUnpackingStarted sets or, with a nil timestamp, rewinds the
// unpacking-started stage.
func (r *DownloadRepo) UpdateUnpackingStarted(id string, ts *time.Time) error {
	_, err := r.db.Exec(`UPDATE downloads SET unpacking_started = ? WHERE id = ?`, timeToCol(ts), id)
	return err
}

// CompleteUnpack sets unpacking_finished and completed together.
func (r *DownloadRepo) CompleteUnpack(id string, ts time.Time) error {
	col := ts.UTC().Format(time.RFC3339Nano)
	_, err := r.db.Exec(`UPDATE downloads SET unpacking_finished = ?, completed = ? WHERE id = ?`, col, col, id)
	return err
}

// SkipUnpack records the no-archive case: started, finished and completed in
// one write triple.
func (r *DownloadRepo) SkipUnpack(id string, ts time.Time) error {
	col := ts.UTC().Format(time.RFC3339Nano)
	_, err := r.db.Exec(`UPDATE downloads SET unpacking_started = ?, unpacking_finished = ?, completed = ? WHERE id = ?`,
		col, col, col, id)
	return err
}

func (r *DownloadRepo) UpdateError(id, msg string) error {
	_, err := r.db.Exec(`UPDATE downloads SET error = ? WHERE id = ?`, msg, id)
	return err
}

func (r *DownloadRepo) UpdateCompleted(id string, ts time.Time) error {
	_, err := r.db.Exec(`UPDATE downloads SET completed = ? WHERE id = ?`,
		ts.UTC().Format(time.RFC3339Nano), id)
	return err
}

func (r *DownloadRepo) UpdateRetryCount(id string, count int) error {
	_, err := r.db.Exec(`UPDATE downloads SET retry_count = ? WHERE id = ?`, count, id)
	return err
}

func (r *DownloadRepo) UpdateLink(id, link string) error {
	_, err := r.db.Exec(`UPDATE downloads SET link = ? WHERE id = ?`, link, id)
	return err
}

func (r *DownloadRepo) UpdateProgress(id string, done, total int64) error {
	_, err := r.db.Exec(`UPDATE downloads SET bytes_done = ?, bytes_total = ? WHERE id = ?`, done, total, id)
	return err
}

// DeleteForTorrent drops every download of a torrent. Used when the whole
// torrent is resubmitted and its links are no longer valid.
func (r *DownloadRepo) DeleteForTorrent(torrentID string) error {
	_, err := r.db.Exec(`DELETE FROM downloads WHERE torrent_id = ?`, torrentID)
	return err
}

// Reset clears every stage timestamp past queued, plus the error, so the
// download is re-picked by the work starter on a later tick.
func (r *DownloadRepo) Reset(id string) error {
	_, err := r.db.Exec(`UPDATE downloads SET download_started = NULL, download_finished = NULL,
		unpacking_queued = NULL, unpacking_started = NULL, unpacking_finished = NULL,
		completed = NULL, error = '', remote_id = '', bytes_done = 0 WHERE id = ?`, id)
	return err
}

// UpdateRemoteIDRange records worker-assigned remote ids in one transaction.
func (r *DownloadRepo) UpdateRemoteIDRange(ids map[string]string) error {
	if len(ids) == 0 {
		return nil
	}
	return execInTx(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE downloads SET remote_id = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, remoteID := range ids {
			if _, err := stmt.Exec(remoteID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateErrorRange records start failures in one transaction.
func (r *DownloadRepo) UpdateErrorRange(errs map[string]string) error {
	if len(errs) == 0 {
		return nil
	}
	return execInTx(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`UPDATE downloads SET error = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, msg := range errs {
			if _, err := stmt.Exec(msg, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func execInTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
