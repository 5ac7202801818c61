package runner

import (
	"errors"

	"github.com/laster13/rdt-client/pkg/store"
)

// sweepDownloads promotes finished download workers. A clean finish moves
// the download to the unpack queue in one write; a failed one is reset and
// re-queued until the retry budget is spent, then recorded terminally.
func (r *Runner) sweepDownloads() {
	now := r.now().UTC()
	for id, entry := range r.registry.SnapshotDownloads() {
		if !entry.worker.Finished() {
			continue
		}
		d, err := r.downloads.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				r.registry.RemoveDownload(id)
				continue
			}
			r.logger.Error().Err(err).Str("download", id).Msg("failed to load download")
			continue
		}

		if msg := entry.worker.Err(); msg != "" {
			attempts := 0
			if t, err := r.torrents.Find(d.TorrentID); err == nil {
				attempts = t.DownloadRetryAttempts
			}
			if d.RetryCount < attempts {
				if err := r.torrents.RetryDownload(d, msg); err != nil {
					r.logger.Error().Err(err).Str("download", id).Msg("failed to reset download")
				}
			} else {
				r.logger.Error().Str("download", id).Str("error", msg).Msg("download failed, retry attempts exhausted")
				if err := r.downloads.UpdateError(id, msg); err != nil {
					r.logger.Error().Err(err).Str("download", id).Msg("failed to record download error")
				}
				if err := r.downloads.UpdateCompleted(id, now); err != nil {
					r.logger.Error().Err(err).Str("download", id).Msg("failed to complete download")
				}
			}
		} else {
			if err := r.downloads.UpdateDownloadFinished(id, now, now); err != nil {
				r.logger.Error().Err(err).Str("download", id).Msg("failed to finish download")
			}
		}
		r.registry.RemoveDownload(id)
	}
}

// sweepUnpacks promotes finished unpack workers. Unpack failures are
// terminal; no retry policy applies.
func (r *Runner) sweepUnpacks() {
	now := r.now().UTC()
	for id, entry := range r.registry.SnapshotUnpacks() {
		if !entry.worker.Finished() {
			continue
		}
		if msg := entry.worker.Err(); msg != "" {
			r.logger.Error().Str("download", id).Str("error", msg).Msg("unpack failed")
			if err := r.downloads.UpdateError(id, msg); err != nil {
				r.logger.Error().Err(err).Str("download", id).Msg("failed to record unpack error")
			}
			if err := r.downloads.UpdateCompleted(id, now); err != nil {
				r.logger.Error().Err(err).Str("download", id).Msg("failed to complete download")
			}
		} else {
			if err := r.downloads.CompleteUnpack(id, now); err != nil {
				r.logger.Error().Err(err).Str("download", id).Msg("failed to finish unpack")
			}
		}
		r.registry.RemoveUnpack(id)
	}
}
