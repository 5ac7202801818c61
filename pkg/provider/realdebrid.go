package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	gourl "net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/logger"
	"github.com/laster13/rdt-client/internal/request"
)

// RealDebrid is the debrid-service client used by the torrents facade.
type RealDebrid struct {
	Host   string
	client *request.Client
	logger zerolog.Logger
}

func New(pc config.Provider) *RealDebrid {
	rl := request.ParseRateLimit(pc.RateLimit)
	headers := map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", pc.APIKey),
	}
	_log := logger.New("realdebrid")
	return &RealDebrid{
		Host: "https://api.real-debrid.com/rest/1.0",
		client: request.New(
			request.WithHeaders(headers),
			request.WithRateLimiter(rl),
			request.WithLogger(_log),
			request.WithMaxRetries(10),
			request.WithRetryableStatus(429, 502),
			request.WithProxy(pc.Proxy),
		),
		logger: _log,
	}
}

// AddMagnet submits a magnet link and returns the provider torrent id.
func (r *RealDebrid) AddMagnet(magnet string) (string, error) {
	u := fmt.Sprintf("%s/torrents/addMagnet", r.Host)
	payload := gourl.Values{"magnet": {magnet}}
	req, _ := http.NewRequest(http.MethodPost, u, strings.NewReader(payload.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var data addMagnetResponse
	if err := r.decode(resp, http.StatusCreated, &data); err != nil {
		return "", err
	}
	return data.ID, nil
}

// AddTorrentFile submits raw .torrent bytes and returns the provider torrent id.
func (r *RealDebrid) AddTorrentFile(torrent []byte) (string, error) {
	u := fmt.Sprintf("%s/torrents/addTorrent", r.Host)
	req, err := http.NewRequest(http.MethodPut, u, bytes.NewReader(torrent))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-bittorrent")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var data addMagnetResponse
	if err := r.decode(resp, http.StatusCreated, &data); err != nil {
		return "", err
	}
	return data.ID, nil
}

// Info fetches the provider torrent, including file list and links.
func (r *RealDebrid) Info(torrentID string) (*TorrentInfo, error) {
	u := fmt.Sprintf("%s/torrents/info/%s", r.Host, torrentID)
	req, _ := http.NewRequest(http.MethodGet, u, nil)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var data TorrentInfo
	if err := r.decode(resp, http.StatusOK, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Torrents lists the account's torrents. Used for the per-tick status refresh.
func (r *RealDebrid) Torrents() ([]*TorrentInfo, error) {
	torrents := make([]*TorrentInfo, 0)
	for offset := 0; ; offset += 100 {
		u := fmt.Sprintf("%s/torrents?limit=100&offset=%d", r.Host, offset)
		req, _ := http.NewRequest(http.MethodGet, u, nil)
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusNoContent {
			_ = resp.Body.Close()
			break
		}
		var page []*TorrentInfo
		err = r.decode(resp, http.StatusOK, &page)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}
		torrents = append(torrents, page...)
		if len(page) < 100 {
			break
		}
	}
	return torrents, nil
}

// SelectFiles selects the given file ids, or every file when none are given.
func (r *RealDebrid) SelectFiles(torrentID string, fileIDs []string) error {
	files := "all"
	if len(fileIDs) > 0 {
		files = strings.Join(fileIDs, ",")
	}
	u := fmt.Sprintf("%s/torrents/selectFiles/%s", r.Host, torrentID)
	payload := gourl.Values{"files": {files}}
	req, _ := http.NewRequest(http.MethodPost, u, strings.NewReader(payload.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return r.asError(resp)
	}
	return nil
}

// Unrestrict converts a restricted share link into a direct download URL.
func (r *RealDebrid) Unrestrict(link string) (string, error) {
	u := fmt.Sprintf("%s/unrestrict/link", r.Host)
	payload := gourl.Values{"link": {link}}
	req, _ := http.NewRequest(http.MethodPost, u, strings.NewReader(payload.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var data unrestrictResponse
	if err := r.decode(resp, http.StatusOK, &data); err != nil {
		return "", err
	}
	if data.Download == "" {
		return "", fmt.Errorf("unrestrict returned no download url for %s", link)
	}
	return data.Download, nil
}

// Delete removes the torrent from the provider.
func (r *RealDebrid) Delete(torrentID string) error {
	u := fmt.Sprintf("%s/torrents/delete/%s", r.Host, torrentID)
	req, _ := http.NewRequest(http.MethodDelete, u, nil)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrTorrentNotFound
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return r.asError(resp)
	}
	return nil
}

func (r *RealDebrid) decode(resp *http.Response, okStatus int, out any) error {
	if resp.StatusCode != okStatus && resp.StatusCode != http.StatusOK {
		return r.asError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("realdebrid: decoding response: %w", err)
	}
	return nil
}

func (r *RealDebrid) asError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrTorrentNotFound
	}
	if resp.StatusCode == 509 {
		return ErrTooManyActiveDownloads
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("realdebrid API error: %s (code %d, status %d)", apiErr.Error, apiErr.ErrorCode, resp.StatusCode)
	}
	return fmt.Errorf("realdebrid API error: status %d: %s", resp.StatusCode, string(body))
}
