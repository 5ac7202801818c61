// Package torrents owns the lifecycle of a torrent outside the tick loop:
// submission, provider bookkeeping, download creation, retries and removal.
// The runner core drives state transitions through this facade so that it
// never talks to the provider or the database directly.
package torrents

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/logger"
	"github.com/laster13/rdt-client/internal/utils"
	"github.com/laster13/rdt-client/pkg/provider"
	"github.com/laster13/rdt-client/pkg/store"
)

// Provider is the debrid-service surface the facade depends on.
type Provider interface {
	AddMagnet(magnet string) (string, error)
	AddTorrentFile(torrent []byte) (string, error)
	Info(torrentID string) (*provider.TorrentInfo, error)
	Torrents() ([]*provider.TorrentInfo, error)
	SelectFiles(torrentID string, fileIDs []string) error
	Unrestrict(link string) (string, error)
	Delete(torrentID string) error
}

// remoteCacheTTL bounds how often a tick refreshes the provider torrent
// list. One Torrents() call covers every Get of the same tick.
const remoteCacheTTL = time.Second

type Facade struct {
	cfg      *config.Config
	db       *store.DB
	provider Provider
	logger   zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	remote      map[string]*provider.TorrentInfo // keyed by provider id
	remoteAsOf  time.Time
	remoteStale bool
}

func New(cfg *config.Config, db *store.DB, prov Provider) *Facade {
	return &Facade{
		cfg:      cfg,
		db:       db,
		provider: prov,
		logger:   logger.New("torrents"),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (f *Facade) SetClock(now func() time.Time) { f.now = now }

// All returns every torrent with downloads attached. Remote statuses are
// the last persisted snapshot, not refreshed.
func (f *Facade) All() ([]*store.Torrent, error) {
	torrents, err := f.db.Torrents().All()
	if err != nil {
		return nil, err
	}
	for _, t := range torrents {
		downloads, err := f.db.Downloads().ForTorrent(t.ID)
		if err != nil {
			return nil, err
		}
		t.Downloads = downloads
	}
	return torrents, nil
}

// Get loads a torrent with downloads and refreshes its provider-side
// status from the cached remote snapshot.
func (f *Facade) Get(id string) (*store.Torrent, error) {
	t, err := f.db.Torrents().Get(id)
	if err != nil {
		return nil, err
	}
	downloads, err := f.db.Downloads().ForTorrent(id)
	if err != nil {
		return nil, err
	}
	t.Downloads = downloads

	if t.RdID == "" {
		return t, nil
	}
	info, err := f.remoteInfo(t.RdID)
	if err != nil {
		// A stale status is better than failing the whole tick step.
		f.logger.Warn().Err(err).Str("torrent", t.ID).Msg("failed to refresh provider status")
		return t, nil
	}
	if info == nil {
		return t, nil
	}
	status := MapRdStatus(info.Status)
	if status != t.RdStatus || info.Status != t.RdStatusRaw || info.Progress != t.RdProgress || (info.Filename != "" && info.Filename != t.Name) {
		if err := f.db.Torrents().UpdateRdInfo(t.ID, status, info.Status, info.Progress, info.Filename); err != nil {
			return nil, err
		}
	}
	t.RdStatus = status
	t.RdStatusRaw = info.Status
	t.RdProgress = info.Progress
	if info.Filename != "" {
		t.Name = info.Filename
	}
	return t, nil
}

func (f *Facade) remoteInfo(rdID string) (*provider.TorrentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil || f.remoteStale || f.now().Sub(f.remoteAsOf) > remoteCacheTTL {
		list, err := f.provider.Torrents()
		if err != nil {
			return nil, err
		}
		f.remote = make(map[string]*provider.TorrentInfo, len(list))
		for _, info := range list {
			f.remote[info.ID] = info
		}
		f.remoteAsOf = f.now()
		f.remoteStale = false
	}
	return f.remote[rdID], nil
}

func (f *Facade) invalidateRemote() {
	f.mu.Lock()
	f.remoteStale = true
	f.mu.Unlock()
}

// AddMagnet submits a magnet link, or an http URL resolving to a .torrent
// file, and creates the local torrent row.
func (f *Facade) AddMagnet(uri, category string) (*store.Torrent, error) {
	magnet, err := utils.GetMagnetFromUrl(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing magnet: %w", err)
	}
	var rdID string
	if magnet.IsTorrent() {
		rdID, err = f.provider.AddTorrentFile(magnet.File)
	} else {
		rdID, err = f.provider.AddMagnet(magnet.Link)
	}
	if err != nil {
		return nil, err
	}
	return f.createTorrent(magnet.InfoHash, magnet.Name, category, rdID)
}

// AddTorrentFile submits raw .torrent bytes and creates the local row.
func (f *Facade) AddTorrentFile(data []byte, category string) (*store.Torrent, error) {
	magnet, err := utils.GetMagnetFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parsing torrent file: %w", err)
	}
	rdID, err := f.provider.AddTorrentFile(data)
	if err != nil {
		return nil, err
	}
	return f.createTorrent(magnet.InfoHash, magnet.Name, category, rdID)
}

func (f *Facade) createTorrent(hash, name, category, rdID string) (*store.Torrent, error) {
	defaults := f.cfg.TorrentDefaults(category)
	t := &store.Torrent{
		ID:                    uuid.NewString(),
		Hash:                  strings.ToLower(hash),
		RdID:                  rdID,
		Name:                  name,
		Category:              category,
		Added:                 f.now().UTC(),
		TorrentRetryAttempts:  defaults.TorrentRetryAttempts,
		DownloadRetryAttempts: defaults.DownloadRetryAttempts,
		Lifetime:              defaults.TorrentLifetime,
		DeleteOnError:         defaults.DeleteOnError,
		FinishedAction:        defaults.FinishedAction,
		HostDownloadAction:    defaults.HostDownloadAction,
	}
	if err := f.db.Torrents().Add(t); err != nil {
		return nil, err
	}
	f.invalidateRemote()
	f.logger.Info().Str("torrent", t.ID).Str("hash", t.Hash).Str("name", t.Name).Msg("torrent added")
	return t, nil
}

// SelectFiles asks the provider to start downloading every file of the
// torrent and records the selection timestamp.
func (f *Facade) SelectFiles(t *store.Torrent) error {
	if err := f.provider.SelectFiles(t.RdID, nil); err != nil {
		return err
	}
	ts := f.now().UTC()
	if err := f.db.Torrents().UpdateFilesSelected(t.ID, ts); err != nil {
		return err
	}
	t.FilesSelected = &ts
	f.invalidateRemote()
	return nil
}

// CreateDownloads creates download rows for provider links that do not
// have one yet. Returns the number of rows created.
func (f *Facade) CreateDownloads(t *store.Torrent) (int, error) {
	if t.HostDownloadAction == config.HostDownloadActionNone {
		return 0, nil
	}
	info, err := f.provider.Info(t.RdID)
	if err != nil {
		return 0, err
	}
	existing := make(map[string]bool, len(t.Downloads))
	for _, d := range t.Downloads {
		existing[d.RestrictedLink] = true
	}
	created := 0
	for _, link := range info.Links {
		if link == "" || existing[link] {
			continue
		}
		d := &store.Download{
			ID:             uuid.NewString(),
			TorrentID:      t.ID,
			FileName:       utils.FilenameFromURL(link),
			RestrictedLink: link,
			DownloadQueued: f.now().UTC(),
		}
		if err := f.db.Downloads().Add(d); err != nil {
			return created, err
		}
		t.Downloads = append(t.Downloads, d)
		created++
	}
	if created > 0 {
		f.logger.Info().Str("torrent", t.ID).Int("downloads", created).Msg("downloads created")
	}
	return created, nil
}

// UnrestrictLink resolves the direct download URL for a download and
// persists it.
func (f *Facade) UnrestrictLink(d *store.Download) error {
	link, err := f.provider.Unrestrict(d.RestrictedLink)
	if err != nil {
		return err
	}
	if err := f.db.Downloads().UpdateLink(d.ID, link); err != nil {
		return err
	}
	d.Link = link
	return nil
}

// UpdateRetry moves the retry marker without touching the retry count.
func (f *Facade) UpdateRetry(t *store.Torrent, retry *time.Time) error {
	if err := f.db.Torrents().UpdateRetry(t.ID, retry, t.RetryCount); err != nil {
		return err
	}
	t.Retry = retry
	return nil
}

// RetryTorrent resubmits the torrent to the provider from scratch: the
// remote torrent and all local downloads are dropped, the retry count is
// incremented and a fresh magnet is submitted.
func (f *Facade) RetryTorrent(t *store.Torrent, reason string) error {
	f.logger.Warn().Str("torrent", t.ID).Int("retry", t.RetryCount+1).Str("reason", reason).Msg("retrying torrent")

	if t.RdID != "" {
		if err := f.provider.Delete(t.RdID); err != nil && !errors.Is(err, provider.ErrTorrentNotFound) {
			return err
		}
	}
	if err := f.db.Downloads().DeleteForTorrent(t.ID); err != nil {
		return err
	}
	t.Downloads = nil

	rdID, err := f.provider.AddMagnet(utils.ConstructMagnet(t.Hash, t.Name).Link)
	if err != nil {
		return err
	}
	if err := f.db.Torrents().UpdateRdID(t.ID, rdID); err != nil {
		return err
	}
	t.RdID = rdID

	t.RetryCount++
	if err := f.db.Torrents().UpdateRetry(t.ID, nil, t.RetryCount); err != nil {
		return err
	}
	t.Retry = nil
	f.invalidateRemote()
	return nil
}

// RetryDownload rewinds a failed download so the work starter picks it up
// again, and increments its retry count.
func (f *Facade) RetryDownload(d *store.Download, reason string) error {
	f.logger.Warn().Str("download", d.ID).Int("retry", d.RetryCount+1).Str("reason", reason).Msg("retrying download")
	if err := f.db.Downloads().Reset(d.ID); err != nil {
		return err
	}
	d.DownloadStarted = nil
	d.DownloadFinished = nil
	d.UnpackingQueued = nil
	d.UnpackingStarted = nil
	d.UnpackingFinished = nil
	d.Completed = nil
	d.Error = ""
	d.RemoteID = ""
	d.BytesDone = 0
	d.RetryCount++
	return f.db.Downloads().UpdateRetryCount(d.ID, d.RetryCount)
}

// UpdateError records a non-terminal error on the torrent.
func (f *Facade) UpdateError(t *store.Torrent, msg string) error {
	if err := f.db.Torrents().UpdateError(t.ID, msg); err != nil {
		return err
	}
	t.Error = msg
	return nil
}

// UpdateComplete marks the torrent complete. A terminal completion clears
// the retry marker so the torrent can never be resubmitted.
func (f *Facade) UpdateComplete(t *store.Torrent, errMsg *string, ts time.Time, terminal bool) error {
	if err := f.db.Torrents().UpdateComplete(t.ID, errMsg, ts, terminal); err != nil {
		return err
	}
	completed := ts
	t.Completed = &completed
	if errMsg != nil {
		t.Error = *errMsg
	} else {
		t.Error = ""
	}
	if terminal {
		t.Retry = nil
	}
	return nil
}

// Find loads a torrent row without downloads and without touching the
// provider. Used where a stale status snapshot is acceptable.
func (f *Facade) Find(id string) (*store.Torrent, error) {
	return f.db.Torrents().Get(id)
}

// Delete removes the torrent. The provider copy, the local row (with its
// downloads) and the downloaded files are each removed only on request.
func (f *Facade) Delete(id string, removeRemote, removeLocal, removeFiles bool) error {
	t, err := f.db.Torrents().Get(id)
	if err != nil {
		return err
	}
	if removeRemote && t.RdID != "" {
		if err := f.provider.Delete(t.RdID); err != nil && !errors.Is(err, provider.ErrTorrentNotFound) {
			f.logger.Warn().Err(err).Str("torrent", id).Msg("failed to delete provider torrent")
		}
	}
	if removeFiles {
		path := DownloadPath(f.cfg, t)
		if path != f.cfg.DownloadClient.DownloadPath {
			if err := os.RemoveAll(path); err != nil {
				f.logger.Warn().Err(err).Str("torrent", id).Str("path", path).Msg("failed to remove files")
			}
		}
	}
	if removeLocal {
		if err := f.db.Torrents().Delete(id); err != nil {
			return err
		}
	}
	f.logger.Info().Str("torrent", id).Str("name", t.Name).Bool("remote", removeRemote).Bool("local", removeLocal).Bool("files", removeFiles).Msg("torrent deleted")
	return nil
}

// RunTorrentComplete runs the configured external command for a torrent
// whose downloads all finished. Failures are logged, never propagated.
func (f *Facade) RunTorrentComplete(t *store.Torrent) {
	command := f.cfg.General.RunOnTorrentComplete
	if command == "" {
		return
	}
	cmd := exec.Command("sh", "-c", command)
	cmd.Env = append(os.Environ(),
		"RDT_TORRENT_ID="+t.ID,
		"RDT_TORRENT_NAME="+t.Name,
		"RDT_TORRENT_HASH="+t.Hash,
		"RDT_TORRENT_CATEGORY="+t.Category,
		"RDT_TORRENT_PATH="+DownloadPath(f.cfg, t),
		"RDT_TORRENT_DOWNLOADS="+strconv.Itoa(len(t.Downloads)),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		f.logger.Error().Err(err).Str("torrent", t.ID).Str("output", string(out)).Msg("torrent-complete command failed")
	}
}

// DownloadPath is where a torrent's files land: the configured download
// root, the category when set, then the torrent name.
func DownloadPath(cfg *config.Config, t *store.Torrent) string {
	parts := []string{cfg.DownloadClient.DownloadPath}
	if t.Category != "" {
		parts = append(parts, strings.ToLower(t.Category))
	}
	if t.Name != "" {
		parts = append(parts, t.Name)
	}
	return filepath.Join(parts...)
}

// MapRdStatus normalizes the provider status string.
func MapRdStatus(raw string) store.RdStatus {
	switch raw {
	case "queued", "magnet_conversion":
		return store.RdStatusQueued
	case "waiting_files_selection":
		return store.RdStatusWaitingForFileSelection
	case "downloading", "compressing":
		return store.RdStatusDownloading
	case "uploading":
		return store.RdStatusUploading
	case "downloaded":
		return store.RdStatusFinished
	case "error", "magnet_error", "virus", "dead":
		return store.RdStatusError
	}
	return store.RdStatusQueued
}
