package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/utils"
	"github.com/laster13/rdt-client/pkg/store"
)

const symlinkWaitTimeout = 30 * time.Minute

// symlinkDownloader materializes the download as a symlink into an
// externally managed rclone mount. No bytes are transferred locally.
type symlinkDownloader struct {
	state
	download  *store.Download
	torrent   *store.Torrent
	mountPath string
	path      string
}

func newSymlinkDownloader(download *store.Download, torrent *store.Torrent, mountPath, downloadPath string) *symlinkDownloader {
	return &symlinkDownloader{
		download:  download,
		torrent:   torrent,
		mountPath: mountPath,
		path:      downloadPath,
	}
}

func (s *symlinkDownloader) Type() config.DownloadClient {
	return config.DownloadClientSymlink
}

func (s *symlinkDownloader) Start(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.path, os.ModePerm); err != nil {
		return "", err
	}
	go s.waitAndLink(ctx)
	return "", nil
}

// waitAndLink polls the mount until the file shows up, then links it. The
// mount is filled by the rclone daemon at its own pace.
func (s *symlinkDownloader) waitAndLink(ctx context.Context) {
	filename := utils.FilenameFromURL(s.download.Link)
	candidates := []string{
		filepath.Join(s.mountPath, s.torrent.Name, filename),
		filepath.Join(s.mountPath, filename),
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(symlinkWaitTimeout)

	for {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err().Error())
			return
		case <-timeout:
			s.finish(fmt.Sprintf("timeout waiting for %s to appear in mount", filename))
			return
		case <-ticker.C:
			for _, source := range candidates {
				if _, err := os.Stat(source); err != nil {
					continue
				}
				target := filepath.Join(s.path, filename)
				if err := os.Symlink(source, target); err != nil && !os.IsExist(err) {
					s.finish(fmt.Sprintf("failed to create symlink %s: %v", target, err))
					return
				}
				s.finish("")
				return
			}
		}
	}
}
