package provider

import "errors"

var (
	ErrTorrentNotFound        = errors.New("torrent not found")
	ErrTooManyActiveDownloads = errors.New("too many active downloads")
)

// TorrentInfo is the provider-side view of a torrent.
type TorrentInfo struct {
	ID               string   `json:"id"`
	Filename         string   `json:"filename"`
	OriginalFilename string   `json:"original_filename"`
	Hash             string   `json:"hash"`
	Bytes            int64    `json:"bytes"`
	Progress         float64  `json:"progress"`
	Status           string   `json:"status"`
	Added            string   `json:"added"`
	Links            []string `json:"links"`
	Files            []File   `json:"files"`
}

// File is one file inside a remote torrent.
type File struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

type addMagnetResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type unrestrictResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Download string `json:"download"`
}

type apiError struct {
	Error     string `json:"error"`
	ErrorCode int    `json:"error_code"`
}
