package runner

import (
	"context"
	"fmt"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/pkg/store"
)

// reconcile runs the per-torrent state machine. Steps run in a fixed
// order and each either advances the torrent, short-circuits the rest, or
// records a terminal failure and moves on.
func (r *Runner) reconcile(ctx context.Context, t *store.Torrent, downloadLimit, unpackLimit int) {
	// Remote-side failure is terminal; the raw provider status is the
	// only diagnostic available.
	if t.RdStatus == store.RdStatusError {
		msg := t.RdStatusRaw
		if msg == "" {
			msg = "provider reported an error"
		}
		r.fail(t, msg)
		return
	}

	// Later steps act on the state observed at tick start: a selection or
	// download set written by an earlier step becomes visible on the next
	// tick, not within this one.
	filesSelected := t.FilesSelected
	downloads := t.Downloads

	// File selection: tell the provider which files to fetch. Selecting
	// everything is the only supported mode.
	if (t.RdStatus == store.RdStatusWaitingForFileSelection || t.RdStatus == store.RdStatusFinished) &&
		filesSelected == nil && len(downloads) == 0 {
		if err := r.torrents.SelectFiles(t); err != nil {
			r.fail(t, fmt.Sprintf("selecting files: %v", err))
			return
		}
	}

	// Download creation, once the provider has every selected file.
	if t.RdStatus == store.RdStatusFinished && len(downloads) == 0 &&
		filesSelected != nil && t.HostDownloadAction == config.HostDownloadActionAll {
		if _, err := r.torrents.CreateDownloads(t); err != nil {
			r.fail(t, fmt.Sprintf("creating downloads: %v", err))
			return
		}
	}

	if err := r.startDownloads(ctx, t, downloads, downloadLimit); err != nil {
		r.fail(t, fmt.Sprintf("starting downloads: %v", err))
		return
	}
	if err := r.startUnpacks(ctx, t, downloads, unpackLimit); err != nil {
		r.fail(t, fmt.Sprintf("starting unpacks: %v", err))
		return
	}

	r.aggregate(t, downloads)
}

// aggregate computes torrent-level progress and, when every download is
// terminal, completes the torrent and applies its finished action.
func (r *Runner) aggregate(t *store.Torrent, downloads []*store.Download) {
	if len(downloads) == 0 && !(t.RdStatus == store.RdStatusFinished && t.HostDownloadAction == config.HostDownloadActionNone) {
		return
	}

	complete := 0
	var totalBytes, doneBytes int64
	for _, d := range downloads {
		if d.IsCompleted() {
			complete++
		}
		totalBytes += d.BytesTotal
		doneBytes += d.BytesDone
	}
	if totalBytes > 0 {
		r.logger.Debug().Str("torrent", t.ID).Int64("pct", doneBytes*100/totalBytes).Msg("download progress")
	}
	if complete != len(downloads) {
		return
	}

	r.logger.Info().Str("torrent", t.ID).Str("name", t.Name).Msg("torrent complete")
	if err := r.torrents.UpdateComplete(t, nil, r.now().UTC(), true); err != nil {
		r.logger.Error().Err(err).Str("torrent", t.ID).Msg("failed to complete torrent")
		return
	}

	var err error
	switch t.FinishedAction {
	case config.FinishedActionRemoveAllTorrents:
		err = r.torrents.Delete(t.ID, true, true, false)
	case config.FinishedActionRemoveRealDebrid:
		err = r.torrents.Delete(t.ID, false, true, false)
	case config.FinishedActionRemoveClient:
		err = r.torrents.Delete(t.ID, true, false, false)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("torrent", t.ID).Msg("finished action failed")
	}

	r.torrents.RunTorrentComplete(t)
}
