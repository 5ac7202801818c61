package store

import (
	"time"

	"github.com/laster13/rdt-client/internal/config"
)

// RdStatus is the debrid-side status of a torrent, normalized from the raw
// provider status string.
type RdStatus int

const (
	RdStatusQueued RdStatus = iota
	RdStatusDownloading
	RdStatusWaitingForFileSelection
	RdStatusFinished
	RdStatusUploading
	RdStatusError
)

func (s RdStatus) String() string {
	switch s {
	case RdStatusQueued:
		return "queued"
	case RdStatusDownloading:
		return "downloading"
	case RdStatusWaitingForFileSelection:
		return "waiting_files_selection"
	case RdStatusFinished:
		return "finished"
	case RdStatusUploading:
		return "uploading"
	case RdStatusError:
		return "error"
	}
	return "unknown"
}

// Torrent is one user-submitted item, owning an ordered set of downloads.
type Torrent struct {
	ID       string `json:"id"`
	Hash     string `json:"hash"`
	RdID     string `json:"rd_id"` // id assigned by the debrid service
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`

	RdStatus    RdStatus `json:"rd_status"`
	RdStatusRaw string   `json:"rd_status_raw,omitempty"`
	RdProgress  float64  `json:"rd_progress"`

	Added         time.Time  `json:"added"`
	FilesSelected *time.Time `json:"files_selected,omitempty"`
	Completed     *time.Time `json:"completed,omitempty"`
	Retry         *time.Time `json:"retry,omitempty"`

	RetryCount            int `json:"retry_count"`
	TorrentRetryAttempts  int `json:"torrent_retry_attempts"`
	DownloadRetryAttempts int `json:"download_retry_attempts"`
	Lifetime              int `json:"lifetime"`        // minutes after Added, 0 disables
	DeleteOnError         int `json:"delete_on_error"` // minutes after Completed, 0 disables

	FinishedAction     config.FinishedAction     `json:"finished_action"`
	HostDownloadAction config.HostDownloadAction `json:"host_download_action"`

	Error string `json:"error,omitempty"`

	Downloads []*Download `json:"downloads,omitempty"`
}

// IsCompleted reports whether the torrent is terminal.
func (t *Torrent) IsCompleted() bool {
	return t.Completed != nil
}

// Download is one restricted-link fetch to local storage, plus an optional
// unpack. Stage timestamps are monotonic once set.
type Download struct {
	ID        string `json:"id"`
	TorrentID string `json:"torrent_id"`
	FileName  string `json:"file_name"`

	// RestrictedLink is the debrid share URL assigned at creation;
	// Link is the direct URL resolved lazily via the provider.
	RestrictedLink string `json:"restricted_link"`
	Link           string `json:"link,omitempty"`
	RemoteID       string `json:"remote_id,omitempty"`

	BytesTotal int64 `json:"bytes_total"`
	BytesDone  int64 `json:"bytes_done"`

	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`

	DownloadQueued    time.Time  `json:"download_queued"`
	DownloadStarted   *time.Time `json:"download_started,omitempty"`
	DownloadFinished  *time.Time `json:"download_finished,omitempty"`
	UnpackingQueued   *time.Time `json:"unpacking_queued,omitempty"`
	UnpackingStarted  *time.Time `json:"unpacking_started,omitempty"`
	UnpackingFinished *time.Time `json:"unpacking_finished,omitempty"`
	Completed         *time.Time `json:"completed,omitempty"`
}

// IsCompleted reports whether the download is terminal.
func (d *Download) IsCompleted() bool {
	return d.Completed != nil
}
