// Package runner is the reconciliation core: a periodic tick that drives
// every torrent through its lifecycle by comparing the provider status,
// the persisted stage timestamps and the in-memory worker registry, and
// advancing whichever of the three is behind.
package runner

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/logger"
	"github.com/laster13/rdt-client/pkg/downloader"
	"github.com/laster13/rdt-client/pkg/store"
	"github.com/laster13/rdt-client/pkg/torrents"
)

// TorrentFacade is the torrent-side surface the runner drives. Implemented
// by torrents.Facade.
type TorrentFacade interface {
	All() ([]*store.Torrent, error)
	Get(id string) (*store.Torrent, error)
	Find(id string) (*store.Torrent, error)
	UnrestrictLink(d *store.Download) error
	RetryTorrent(t *store.Torrent, reason string) error
	RetryDownload(d *store.Download, reason string) error
	UpdateRetry(t *store.Torrent, retry *time.Time) error
	SelectFiles(t *store.Torrent) error
	CreateDownloads(t *store.Torrent) (int, error)
	UpdateError(t *store.Torrent, msg string) error
	UpdateComplete(t *store.Torrent, errMsg *string, ts time.Time, terminal bool) error
	Delete(id string, removeRemote, removeLocal, removeFiles bool) error
	RunTorrentComplete(t *store.Torrent)
}

// DownloadStore is the download-row surface the runner writes through.
// Implemented by store.DownloadRepo.
type DownloadStore interface {
	Get(id string) (*store.Download, error)
	UpdateDownloadStarted(id string, ts *time.Time) error
	UpdateDownloadFinished(id string, finished, unpackQueued time.Time) error
	UpdateUnpackingStarted(id string, ts *time.Time) error
	CompleteUnpack(id string, ts time.Time) error
	SkipUnpack(id string, ts time.Time) error
	UpdateError(id, msg string) error
	UpdateCompleted(id string, ts time.Time) error
	UpdateProgress(id string, done, total int64) error
	UpdateRemoteIDRange(ids map[string]string) error
	UpdateErrorRange(errs map[string]string) error
}

// ProgressReporter receives the end-of-tick state push.
type ProgressReporter interface {
	Update()
}

// BulkStatusClient is the aria2-style batched status endpoint.
type BulkStatusClient interface {
	TellAll() ([]downloader.Aria2Status, error)
}

// Runner owns the registries and executes ticks. Tick must not be invoked
// concurrently with itself; the external driver serializes invocations.
type Runner struct {
	cfg       *config.Config
	torrents  TorrentFacade
	downloads DownloadStore
	registry  *Registry
	progress  ProgressReporter
	bulk      BulkStatusClient
	logger    zerolog.Logger

	newDownloader func(cfg *config.Config, d *store.Download, t *store.Torrent, path string, progress downloader.ProgressFunc) (downloader.Downloader, error)
	newUnpacker   func(d *store.Download, path string) downloader.Unpacker

	// startLimiter enforces the spacing between successive worker starts,
	// protecting the provider's link-issuance API.
	startLimiter ratelimit.Limiter
	now          func() time.Time
}

func New(cfg *config.Config, facade TorrentFacade, downloads DownloadStore, progress ProgressReporter) *Runner {
	r := &Runner{
		cfg:           cfg,
		torrents:      facade,
		downloads:     downloads,
		registry:      NewRegistry(),
		progress:      progress,
		logger:        logger.New("runner"),
		newDownloader: downloader.New,
		newUnpacker:   downloader.NewUnpacker,
		startLimiter:  ratelimit.New(10), // 100ms between starts
		now:           time.Now,
	}
	if cfg.DownloadClient.Client == config.DownloadClientAria2c {
		r.bulk = downloader.NewAria2Client(cfg.DownloadClient.Aria2cURL, cfg.DownloadClient.Aria2cSecret)
	}
	return r
}

// Registry exposes the active-worker tables, read-only for callers.
func (r *Runner) Registry() *Registry { return r.registry }

// Tick runs one full reconciliation pass. Nothing propagates past its
// boundary; every failure is logged or recorded on the affected row so the
// driver can always schedule the next tick.
func (r *Runner) Tick(ctx context.Context) {
	started := r.now()

	downloadLimit, unpackLimit, ok := r.validate()
	if !ok {
		return
	}
	// The end-of-tick push happens even when a store error aborts the
	// pass, so subscribers still see the last known snapshots.
	defer r.progress.Update()

	r.pollBulkStatus()
	r.sweepDownloads()
	r.sweepUnpacks()

	all, err := r.torrents.All()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list torrents")
		return
	}
	remaining := r.processRetries(all)
	remaining = r.processErrorTTL(remaining)
	r.processLifetime(remaining)

	for _, stale := range remaining {
		if stale.IsCompleted() {
			continue
		}
		t, err := r.torrents.Get(stale.ID)
		if err != nil {
			r.logger.Error().Err(err).Str("torrent", stale.ID).Msg("failed to load torrent")
			continue
		}
		if t.IsCompleted() {
			continue
		}
		r.reconcile(ctx, t, downloadLimit, unpackLimit)
	}

	if elapsed := r.now().Sub(started); elapsed > time.Second {
		r.logger.Warn().Dur("elapsed", elapsed).Msg("tick took longer than 1 second")
	}
}

// validate checks the tick preconditions and returns the clamped limits.
func (r *Runner) validate() (downloadLimit, unpackLimit int, ok bool) {
	if r.cfg.Provider.APIKey == "" {
		r.logger.Debug().Msg("provider api key not set, skipping tick")
		return 0, 0, false
	}
	dc := r.cfg.DownloadClient
	if dc.Client == config.DownloadClientSymlink {
		if _, err := os.Stat(dc.RcloneMountPath); err != nil {
			r.logger.Warn().Str("mount", dc.RcloneMountPath).Msg("rclone mount path does not exist, skipping tick")
			return 0, 0, false
		}
	}
	if dc.DownloadPath == "" {
		r.logger.Error().Msg("download path is not configured")
		return 0, 0, false
	}
	downloadLimit = max(r.cfg.General.DownloadLimit, 1)
	unpackLimit = max(r.cfg.General.UnpackLimit, 1)
	return downloadLimit, unpackLimit, true
}

func (r *Runner) downloadPath(t *store.Torrent) string {
	return torrents.DownloadPath(r.cfg, t)
}
