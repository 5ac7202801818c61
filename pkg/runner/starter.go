package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/pkg/downloader"
	"github.com/laster13/rdt-client/pkg/store"
)

// startDownloads dispatches workers for this torrent's queued downloads,
// oldest first, until the global download cap is hit. Starts fan out so
// their link-resolution round trips overlap; results are joined and
// persisted in two batch writes.
func (r *Runner) startDownloads(ctx context.Context, t *store.Torrent, downloads []*store.Download, limit int) error {
	path := r.downloadPath(t)

	var (
		mu        sync.Mutex
		remoteIDs = make(map[string]string)
		startErrs = make(map[string]string)
	)
	g, gctx := errgroup.WithContext(ctx)

	for _, d := range downloads {
		if d.IsCompleted() || d.DownloadStarted != nil || d.Error != "" {
			continue
		}
		if r.registry.DownloadCount() >= limit {
			break
		}
		if r.registry.HasDownload(d.ID) {
			// A queued download already in the registry means the store
			// and the registry disagree; stop touching this torrent.
			r.logger.Warn().Str("download", d.ID).Msg("queued download already has an active worker")
			break
		}

		if d.Link == "" {
			if err := r.torrents.UnrestrictLink(d); err != nil {
				r.logger.Error().Err(err).Str("download", d.ID).Msg("failed to unrestrict link")
				if uerr := r.downloads.UpdateError(d.ID, err.Error()); uerr != nil {
					return uerr
				}
				if uerr := r.downloads.UpdateCompleted(d.ID, r.now().UTC()); uerr != nil {
					return uerr
				}
				break
			}
		}

		r.startLimiter.Take()

		now := r.now().UTC()
		if err := r.downloads.UpdateDownloadStarted(d.ID, &now); err != nil {
			return err
		}
		d.DownloadStarted = &now

		worker, err := r.newDownloader(r.cfg, d, t, path, r.progressFunc(d.ID))
		if err != nil {
			return err
		}
		r.registry.AddDownload(d.ID, worker, d)
		r.logger.Info().Str("download", d.ID).Str("file", d.FileName).Str("client", string(worker.Type())).Msg("starting download")

		g.Go(func() error {
			remoteID, err := worker.Start(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				startErrs[d.ID] = err.Error()
				r.registry.RemoveDownload(d.ID)
				return nil
			}
			if remoteID != "" {
				remoteIDs[d.ID] = remoteID
			}
			return nil
		})
	}

	_ = g.Wait()

	if err := r.downloads.UpdateRemoteIDRange(remoteIDs); err != nil {
		return err
	}
	return r.downloads.UpdateErrorRange(startErrs)
}

// startUnpacks dispatches unpack workers for downloads whose transfer has
// finished. Unlike the download path, hitting the cap moves on to the
// next download instead of breaking out.
func (r *Runner) startUnpacks(ctx context.Context, t *store.Torrent, downloads []*store.Download, limit int) error {
	path := r.downloadPath(t)

	for _, d := range downloads {
		if d.IsCompleted() || d.UnpackingQueued == nil || d.UnpackingStarted != nil || d.Error != "" {
			continue
		}

		if d.Link == "" {
			if err := r.failDownload(d.ID, "Download Link cannot be null"); err != nil {
				return err
			}
			continue
		}
		if downloader.ArchiveExt(d.Link) == "" {
			// Not an archive: the unpack stage collapses into one write.
			if err := r.downloads.SkipUnpack(d.ID, r.now().UTC()); err != nil {
				return err
			}
			continue
		}
		if r.cfg.DownloadClient.Client == config.DownloadClientSymlink {
			// A symlinked archive only exists on the mount; there is
			// nothing local to extract.
			if err := r.failDownload(d.ID, "Will not unzip with SymlinkDownloader!"); err != nil {
				return err
			}
			continue
		}
		if r.registry.UnpackCount() >= limit {
			continue
		}
		if r.registry.HasUnpack(d.ID) {
			continue
		}

		now := r.now().UTC()
		if err := r.downloads.UpdateUnpackingStarted(d.ID, &now); err != nil {
			return err
		}
		worker := r.newUnpacker(d, path)
		r.registry.AddUnpack(d.ID, worker, d)
		r.logger.Info().Str("download", d.ID).Str("file", d.FileName).Msg("starting unpack")
		if err := worker.Start(ctx); err != nil {
			r.registry.RemoveUnpack(d.ID)
			if uerr := r.failDownload(d.ID, err.Error()); uerr != nil {
				return uerr
			}
		}
	}
	return nil
}

func (r *Runner) failDownload(id, msg string) error {
	r.logger.Error().Str("download", id).Str("error", msg).Msg("download failed")
	if err := r.downloads.UpdateError(id, msg); err != nil {
		return err
	}
	return r.downloads.UpdateCompleted(id, r.now().UTC())
}

func (r *Runner) progressFunc(id string) downloader.ProgressFunc {
	return func(done, total int64) {
		if err := r.downloads.UpdateProgress(id, done, total); err != nil {
			r.logger.Warn().Err(err).Str("download", id).Msg("failed to persist progress")
		}
	}
}
