// Package web exposes the management API: submitting torrents, listing
// their state, requesting retries and deleting them. It is a thin layer
// over the torrents facade; all lifecycle decisions stay in the runner.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/laster13/rdt-client/internal/logger"
	"github.com/laster13/rdt-client/pkg/store"
)

// TorrentService is the facade surface the API needs. Implemented by
// torrents.Facade.
type TorrentService interface {
	All() ([]*store.Torrent, error)
	Get(id string) (*store.Torrent, error)
	AddMagnet(uri, category string) (*store.Torrent, error)
	AddTorrentFile(data []byte, category string) (*store.Torrent, error)
	UpdateRetry(t *store.Torrent, retry *time.Time) error
	Delete(id string, removeRemote, removeLocal, removeFiles bool) error
}

type Web struct {
	logger   zerolog.Logger
	torrents TorrentService
}

func New(torrents TorrentService) *Web {
	return &Web{
		logger:   logger.New("web"),
		torrents: torrents,
	}
}

func (wb *Web) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		wb.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (wb *Web) sendJSONError(w http.ResponseWriter, message string, status int) {
	wb.sendJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}
