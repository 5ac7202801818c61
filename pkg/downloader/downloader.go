// Package downloader provides the worker backends that move a debrid
// download to local storage: in-process HTTP transfer, delegation to an
// aria2c daemon, or symlinking into an rclone mount. It also provides the
// unpack worker for archived downloads.
package downloader

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/utils"
	"github.com/laster13/rdt-client/pkg/store"
)

// Downloader is one running download transfer. Start returns once the
// transfer has been dispatched; completion is observed through Finished and
// Err. The remote id is only meaningful for backends that delegate to an
// external daemon.
type Downloader interface {
	Type() config.DownloadClient
	Start(ctx context.Context) (remoteID string, err error)
	Finished() bool
	Err() string
}

// BulkUpdatable is implemented by backends whose status is refreshed by a
// single batched query instead of per-worker polling.
type BulkUpdatable interface {
	Update(statuses []Aria2Status)
}

// ProgressFunc receives byte progress for persistence.
type ProgressFunc func(done, total int64)

// New constructs the worker matching the configured download client.
func New(cfg *config.Config, download *store.Download, torrent *store.Torrent, downloadPath string, progress ProgressFunc) (Downloader, error) {
	switch cfg.DownloadClient.Client {
	case config.DownloadClientInternal:
		return newHTTPDownloader(download, downloadPath, progress), nil
	case config.DownloadClientAria2c:
		rpc := NewAria2Client(cfg.DownloadClient.Aria2cURL, cfg.DownloadClient.Aria2cSecret)
		return newAria2Downloader(rpc, download, downloadPath), nil
	case config.DownloadClientSymlink:
		return newSymlinkDownloader(download, torrent, cfg.DownloadClient.RcloneMountPath, downloadPath), nil
	}
	return nil, fmt.Errorf("unknown download client %q", cfg.DownloadClient.Client)
}

// ArchiveExt returns the lower-cased archive extension of a download link's
// filename, or "" when the file is not an archive we unpack.
func ArchiveExt(link string) string {
	ext := strings.ToLower(path.Ext(utils.FilenameFromURL(link)))
	switch ext {
	case ".rar", ".zip":
		return ext
	}
	return ""
}

// state is the shared Finished/Err bookkeeping embedded by every worker.
type state struct {
	mu       sync.RWMutex
	finished bool
	errMsg   string
}

func (s *state) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished
}

func (s *state) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

func (s *state) finish(errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.errMsg = errMsg
}
