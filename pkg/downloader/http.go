package downloader

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliergopher/grab/v3"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/utils"
	"github.com/laster13/rdt-client/pkg/store"
)

// httpDownloader transfers the unrestricted link with grab, reporting byte
// progress through the progress callback.
type httpDownloader struct {
	state
	download *store.Download
	path     string
	progress ProgressFunc
	client   *grab.Client
}

func newHTTPDownloader(download *store.Download, downloadPath string, progress ProgressFunc) *httpDownloader {
	return &httpDownloader{
		download: download,
		path:     downloadPath,
		progress: progress,
		client: &grab.Client{
			UserAgent: "rdt-client",
			HTTPClient: &http.Client{
				Transport: &http.Transport{
					Proxy: http.ProxyFromEnvironment,
				},
			},
		},
	}
}

func (h *httpDownloader) Type() config.DownloadClient {
	return config.DownloadClientInternal
}

// Start dispatches the transfer and returns immediately; the transfer runs
// on its own goroutine until Finished flips.
func (h *httpDownloader) Start(ctx context.Context) (string, error) {
	if err := os.MkdirAll(h.path, os.ModePerm); err != nil {
		return "", err
	}
	filename := filepath.Join(h.path, utils.FilenameFromURL(h.download.Link))
	req, err := grab.NewRequest(filename, h.download.Link)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	resp := h.client.Do(req)

	go h.monitor(resp)
	return "", nil
}

func (h *httpDownloader) monitor(resp *grab.Response) {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if h.progress != nil {
				h.progress(resp.BytesComplete(), resp.Size())
			}
		case <-resp.Done:
			if h.progress != nil {
				h.progress(resp.BytesComplete(), resp.Size())
			}
			if err := resp.Err(); err != nil {
				h.finish(err.Error())
			} else {
				h.finish("")
			}
			return
		}
	}
}
