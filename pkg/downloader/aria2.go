package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/request"
	"github.com/laster13/rdt-client/internal/utils"
	"github.com/laster13/rdt-client/pkg/store"
)

// Aria2Status is one entry of a bulk aria2.tell* response. aria2 encodes
// byte counts as decimal strings.
type Aria2Status struct {
	GID             string `json:"gid"`
	Status          string `json:"status"` // active, waiting, paused, error, complete, removed
	TotalLength     string `json:"totalLength"`
	CompletedLength string `json:"completedLength"`
	ErrorMessage    string `json:"errorMessage"`
}

func (s Aria2Status) Total() int64 {
	n, _ := strconv.ParseInt(s.TotalLength, 10, 64)
	return n
}

func (s Aria2Status) Completed() int64 {
	n, _ := strconv.ParseInt(s.CompletedLength, 10, 64)
	return n
}

// Aria2Client is a minimal JSON-RPC client for an external aria2c daemon.
type Aria2Client struct {
	url    string
	secret string
	client *request.Client
}

func NewAria2Client(url, secret string) *Aria2Client {
	return &Aria2Client{
		url:    url,
		secret: secret,
		// Bulk status polls must not stall the tick.
		client: request.New(request.WithTimeout(10 * time.Second)),
	}
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Aria2Client) call(method string, params []any, out any) error {
	if c.secret != "" {
		params = append([]any{"token:" + c.secret}, params...)
	}
	body, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: "rdtclient", Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	respBody, err := c.client.MakeRequest(req)
	if err != nil {
		return fmt.Errorf("aria2 %s: %w", method, err)
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("aria2 %s: decoding response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("aria2 %s: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if out != nil {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}

// AddURI enqueues a download and returns its GID.
func (c *Aria2Client) AddURI(uri, dir, filename string) (string, error) {
	opts := map[string]string{"dir": dir}
	if filename != "" {
		opts["out"] = filename
	}
	var gid string
	if err := c.call("aria2.addUri", []any{[]string{uri}, opts}, &gid); err != nil {
		return "", err
	}
	return gid, nil
}

// TellAll returns active, waiting and stopped downloads in one pass.
func (c *Aria2Client) TellAll() ([]Aria2Status, error) {
	var all []Aria2Status

	var active []Aria2Status
	if err := c.call("aria2.tellActive", nil, &active); err != nil {
		return nil, err
	}
	all = append(all, active...)

	var waiting []Aria2Status
	if err := c.call("aria2.tellWaiting", []any{0, 1000}, &waiting); err != nil {
		return nil, err
	}
	all = append(all, waiting...)

	var stopped []Aria2Status
	if err := c.call("aria2.tellStopped", []any{0, 1000}, &stopped); err != nil {
		return nil, err
	}
	all = append(all, stopped...)

	return all, nil
}

// RemoveResult drops a stopped download from aria2's bookkeeping.
func (c *Aria2Client) RemoveResult(gid string) error {
	return c.call("aria2.removeDownloadResult", []any{gid}, nil)
}

// aria2Downloader delegates the transfer to the external daemon; progress
// and completion arrive through the bulk status poll.
type aria2Downloader struct {
	state
	rpc      *Aria2Client
	download *store.Download
	path     string

	gid string
}

func newAria2Downloader(rpc *Aria2Client, download *store.Download, downloadPath string) *aria2Downloader {
	return &aria2Downloader{
		rpc:      rpc,
		download: download,
		path:     downloadPath,
	}
}

func (a *aria2Downloader) Type() config.DownloadClient {
	return config.DownloadClientAria2c
}

func (a *aria2Downloader) Start(ctx context.Context) (string, error) {
	gid, err := a.rpc.AddURI(a.download.Link, a.path, utils.FilenameFromURL(a.download.Link))
	if err != nil {
		return "", err
	}
	a.gid = gid
	return gid, nil
}

// Update consumes the bulk poll result. Worker state only advances; a GID
// missing from the batch leaves the worker untouched.
func (a *aria2Downloader) Update(statuses []Aria2Status) {
	gid := a.gid
	if gid == "" {
		gid = a.download.RemoteID
	}
	if gid == "" {
		return
	}
	for _, s := range statuses {
		if s.GID != gid {
			continue
		}
		a.download.BytesDone = s.Completed()
		a.download.BytesTotal = s.Total()
		switch s.Status {
		case "complete":
			a.finish("")
			_ = a.rpc.RemoveResult(gid)
		case "error":
			msg := s.ErrorMessage
			if msg == "" {
				msg = "aria2 reported an error"
			}
			a.finish(msg)
			_ = a.rpc.RemoveResult(gid)
		case "removed":
			a.finish("aria2 download was removed")
		}
		return
	}
}
