package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/pkg/store"
	"github.com/laster13/rdt-client/pkg/version"
)

// AddRequest submits a magnet link or a .torrent file (multipart upload).
type AddRequest struct {
	URL      string `json:"url"`
	Category string `json:"category"`
}

func (wb *Web) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	wb.sendJSON(w, http.StatusOK, version.GetInfo())
}

func (wb *Web) handleHealth(w http.ResponseWriter, r *http.Request) {
	wb.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (wb *Web) handleGetTorrents(w http.ResponseWriter, r *http.Request) {
	torrents, err := wb.torrents.All()
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if torrents == nil {
		torrents = []*store.Torrent{}
	}
	wb.sendJSON(w, http.StatusOK, torrents)
}

func (wb *Web) handleGetTorrent(w http.ResponseWriter, r *http.Request) {
	t, err := wb.torrents.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			wb.sendJSONError(w, "torrent not found", http.StatusNotFound)
			return
		}
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	wb.sendJSON(w, http.StatusOK, t)
}

func (wb *Web) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	// Multipart: a .torrent file upload with an optional category field.
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			wb.sendJSONError(w, "invalid multipart request", http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			wb.sendJSONError(w, "missing torrent file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			wb.sendJSONError(w, "failed to read torrent file", http.StatusBadRequest)
			return
		}
		t, err := wb.torrents.AddTorrentFile(data, r.FormValue("category"))
		if err != nil {
			wb.sendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		wb.sendJSON(w, http.StatusCreated, t)
		return
	}

	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		wb.sendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		wb.sendJSONError(w, "url is required", http.StatusBadRequest)
		return
	}
	t, err := wb.torrents.AddMagnet(req.URL, req.Category)
	if err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wb.sendJSON(w, http.StatusCreated, t)
}

func (wb *Web) handleRetryTorrent(w http.ResponseWriter, r *http.Request) {
	t, err := wb.torrents.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			wb.sendJSONError(w, "torrent not found", http.StatusNotFound)
			return
		}
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Setting the marker is enough; the next tick resubmits.
	now := time.Now().UTC()
	if err := wb.torrents.UpdateRetry(t, &now); err != nil {
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	wb.sendJSON(w, http.StatusAccepted, t)
}

func (wb *Web) handleDeleteTorrent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removeRemote := r.URL.Query().Get("remote") == "true"
	removeFiles := r.URL.Query().Get("files") == "true"

	if err := wb.torrents.Delete(id, removeRemote, true, removeFiles); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			wb.sendJSONError(w, "torrent not found", http.StatusNotFound)
			return
		}
		wb.sendJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetConfig returns the active configuration with secrets masked.
func (wb *Web) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := config.Get()
	sanitized := *cfg
	if sanitized.Provider.APIKey != "" {
		sanitized.Provider.APIKey = "********"
	}
	sanitized.Web.APIToken = ""
	sanitized.DownloadClient.Aria2cSecret = ""
	wb.sendJSON(w, http.StatusOK, sanitized)
}
