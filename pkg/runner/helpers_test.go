package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/ratelimit"

	"github.com/laster13/rdt-client/internal/config"
	"github.com/laster13/rdt-client/internal/utils"
	"github.com/laster13/rdt-client/pkg/downloader"
	"github.com/laster13/rdt-client/pkg/store"
)

// fakeBackend implements TorrentFacade and DownloadStore over in-memory
// rows. Reads hand out copies, writes mutate the canonical rows, so a
// tick observes state as of its start, like with the real database.
type fakeBackend struct {
	mu       sync.Mutex
	now      time.Time
	torrents map[string]*store.Torrent
	order    []string

	// pendingLinks feeds CreateDownloads, per torrent id.
	pendingLinks map[string][]string

	unrestrictErr error
	allErr        error

	selectCalls   []string
	createCalls   []string
	retryTorrents []string
	retryReasons  []string
	deletes       []deleteCall
	completeHooks []string
}

type deleteCall struct {
	id                         string
	remote, local, removeFiles bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		now:          time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		torrents:     make(map[string]*store.Torrent),
		pendingLinks: make(map[string][]string),
	}
}

func (f *fakeBackend) addTorrent(t *store.Torrent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torrents[t.ID] = t
	f.order = append(f.order, t.ID)
}

func (f *fakeBackend) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *fakeBackend) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeBackend) torrent(id string) *store.Torrent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.torrents[id]
}

func (f *fakeBackend) download(id string) *store.Download {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findDownload(id)
}

func (f *fakeBackend) findDownload(id string) *store.Download {
	for _, t := range f.torrents {
		for _, d := range t.Downloads {
			if d.ID == id {
				return d
			}
		}
	}
	return nil
}

func copyDownload(d *store.Download) *store.Download {
	c := *d
	return &c
}

func copyTorrent(t *store.Torrent) *store.Torrent {
	c := *t
	c.Downloads = make([]*store.Download, 0, len(t.Downloads))
	for _, d := range t.Downloads {
		c.Downloads = append(c.Downloads, copyDownload(d))
	}
	return &c
}

// TorrentFacade

func (f *fakeBackend) All() ([]*store.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allErr != nil {
		return nil, f.allErr
	}
	out := make([]*store.Torrent, 0, len(f.order))
	for _, id := range f.order {
		if t, ok := f.torrents[id]; ok {
			out = append(out, copyTorrent(t))
		}
	}
	return out, nil
}

func (f *fakeBackend) Get(id string) (*store.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.torrents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyTorrent(t), nil
}

func (f *fakeBackend) Find(id string) (*store.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.torrents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *t
	c.Downloads = nil
	return &c, nil
}

func (f *fakeBackend) UnrestrictLink(d *store.Download) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unrestrictErr != nil {
		return f.unrestrictErr
	}
	link := "https://files.example/" + d.FileName
	if row := f.findDownload(d.ID); row != nil {
		row.Link = link
	}
	d.Link = link
	return nil
}

func (f *fakeBackend) RetryTorrent(t *store.Torrent, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryTorrents = append(f.retryTorrents, t.ID)
	f.retryReasons = append(f.retryReasons, reason)
	row := f.torrents[t.ID]
	row.RetryCount++
	row.Retry = nil
	row.Downloads = nil
	t.RetryCount = row.RetryCount
	t.Retry = nil
	t.Downloads = nil
	return nil
}

func (f *fakeBackend) RetryDownload(d *store.Download, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.findDownload(d.ID)
	if row == nil {
		return store.ErrNotFound
	}
	for _, target := range []*store.Download{row, d} {
		target.DownloadStarted = nil
		target.DownloadFinished = nil
		target.UnpackingQueued = nil
		target.UnpackingStarted = nil
		target.UnpackingFinished = nil
		target.Completed = nil
		target.Error = ""
		target.RemoteID = ""
		target.BytesDone = 0
	}
	row.RetryCount++
	d.RetryCount = row.RetryCount
	return nil
}

func (f *fakeBackend) UpdateRetry(t *store.Torrent, retry *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.torrents[t.ID]
	row.Retry = retry
	row.RetryCount = t.RetryCount
	t.Retry = retry
	return nil
}

func (f *fakeBackend) SelectFiles(t *store.Torrent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCalls = append(f.selectCalls, t.ID)
	ts := f.now
	f.torrents[t.ID].FilesSelected = &ts
	t.FilesSelected = &ts
	return nil
}

func (f *fakeBackend) CreateDownloads(t *store.Torrent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, t.ID)
	row := f.torrents[t.ID]
	created := 0
	for _, link := range f.pendingLinks[t.ID] {
		d := &store.Download{
			ID:             fmt.Sprintf("%s-d%d", t.ID, len(row.Downloads)+1),
			TorrentID:      t.ID,
			FileName:       utils.FilenameFromURL(link),
			RestrictedLink: link,
			DownloadQueued: f.now,
		}
		row.Downloads = append(row.Downloads, d)
		t.Downloads = append(t.Downloads, copyDownload(d))
		created++
	}
	f.pendingLinks[t.ID] = nil
	return created, nil
}

func (f *fakeBackend) UpdateError(t *store.Torrent, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torrents[t.ID].Error = msg
	t.Error = msg
	return nil
}

func (f *fakeBackend) UpdateComplete(t *store.Torrent, errMsg *string, ts time.Time, terminal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.torrents[t.ID]
	completed := ts
	row.Completed = &completed
	if errMsg != nil {
		row.Error = *errMsg
	} else {
		row.Error = ""
	}
	if terminal {
		row.Retry = nil
	}
	t.Completed = row.Completed
	t.Error = row.Error
	t.Retry = row.Retry
	return nil
}

func (f *fakeBackend) Delete(id string, removeRemote, removeLocal, removeFiles bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, deleteCall{id: id, remote: removeRemote, local: removeLocal, removeFiles: removeFiles})
	if removeLocal {
		delete(f.torrents, id)
		for i, oid := range f.order {
			if oid == id {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (f *fakeBackend) RunTorrentComplete(t *store.Torrent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeHooks = append(f.completeHooks, t.ID)
}

// DownloadStore

func (f *fakeBackend) GetDownload(id string) (*store.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.findDownload(id)
	if row == nil {
		return nil, store.ErrNotFound
	}
	return copyDownload(row), nil
}

func (f *fakeBackend) updateDownload(id string, fn func(d *store.Download)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.findDownload(id)
	if row == nil {
		return store.ErrNotFound
	}
	fn(row)
	return nil
}

func (f *fakeBackend) UpdateDownloadStarted(id string, ts *time.Time) error {
	return f.updateDownload(id, func(d *store.Download) { d.DownloadStarted = ts })
}

func (f *fakeBackend) UpdateDownloadFinished(id string, finished, unpackQueued time.Time) error {
	return f.updateDownload(id, func(d *store.Download) {
		d.DownloadFinished = &finished
		d.UnpackingQueued = &unpackQueued
	})
}

func (f *fakeBackend) UpdateUnpackingStarted(id string, ts *time.Time) error {
	return f.updateDownload(id, func(d *store.Download) { d.UnpackingStarted = ts })
}

func (f *fakeBackend) CompleteUnpack(id string, ts time.Time) error {
	return f.updateDownload(id, func(d *store.Download) {
		d.UnpackingFinished = &ts
		d.Completed = &ts
	})
}

func (f *fakeBackend) SkipUnpack(id string, ts time.Time) error {
	return f.updateDownload(id, func(d *store.Download) {
		d.UnpackingStarted = &ts
		d.UnpackingFinished = &ts
		d.Completed = &ts
	})
}

func (f *fakeBackend) UpdateDownloadError(id, msg string) error {
	return f.updateDownload(id, func(d *store.Download) { d.Error = msg })
}

func (f *fakeBackend) UpdateCompleted(id string, ts time.Time) error {
	return f.updateDownload(id, func(d *store.Download) { d.Completed = &ts })
}

func (f *fakeBackend) UpdateProgress(id string, done, total int64) error {
	return f.updateDownload(id, func(d *store.Download) {
		d.BytesDone = done
		d.BytesTotal = total
	})
}

func (f *fakeBackend) UpdateRemoteIDRange(ids map[string]string) error {
	for id, remoteID := range ids {
		if err := f.updateDownload(id, func(d *store.Download) { d.RemoteID = remoteID }); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) UpdateErrorRange(errs map[string]string) error {
	for id, msg := range errs {
		if err := f.updateDownload(id, func(d *store.Download) { d.Error = msg }); err != nil {
			return err
		}
	}
	return nil
}

// downloadStoreAdapter renames the store methods whose names collide with
// the facade surface on fakeBackend.
type downloadStoreAdapter struct {
	*fakeBackend
}

func (a downloadStoreAdapter) Get(id string) (*store.Download, error) {
	return a.GetDownload(id)
}

func (a downloadStoreAdapter) UpdateError(id, msg string) error {
	return a.UpdateDownloadError(id, msg)
}

// countingLimiter records how often the inter-start spacing was taken.
type countingLimiter struct {
	mu    sync.Mutex
	takes int
}

func (l *countingLimiter) Take() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.takes++
	return time.Time{}
}

func (l *countingLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.takes
}

type fakeReporter struct {
	mu     sync.Mutex
	pushes int
}

func (f *fakeReporter) Update() {
	f.mu.Lock()
	f.pushes++
	f.mu.Unlock()
}

// fakeWorker is a download worker the test finishes by hand.
type fakeWorker struct {
	mu       sync.Mutex
	finished bool
	errMsg   string
	remoteID string
	startErr error
	starts   int
}

func (w *fakeWorker) Type() config.DownloadClient { return config.DownloadClientInternal }

func (w *fakeWorker) Start(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	if w.startErr != nil {
		return "", w.startErr
	}
	return w.remoteID, nil
}

func (w *fakeWorker) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

func (w *fakeWorker) Err() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errMsg
}

func (w *fakeWorker) finish(errMsg string) {
	w.mu.Lock()
	w.finished = true
	w.errMsg = errMsg
	w.mu.Unlock()
}

type fakeUnpacker struct {
	mu       sync.Mutex
	finished bool
	errMsg   string
	starts   int
}

func (w *fakeUnpacker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	return nil
}

func (w *fakeUnpacker) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

func (w *fakeUnpacker) Err() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errMsg
}

func (w *fakeUnpacker) finish(errMsg string) {
	w.mu.Lock()
	w.finished = true
	w.errMsg = errMsg
	w.mu.Unlock()
}

// env wires a Runner to the fakes with an injectable clock and worker
// factories.
type env struct {
	backend     *fakeBackend
	reporter    *fakeReporter
	runner      *Runner
	workers     map[string]*fakeWorker
	unpackers   map[string]*fakeUnpacker
	startTotals map[string]int
	workerMu    sync.Mutex
}

func newEnv(t *testing.T, cfg *config.Config) *env {
	t.Helper()
	backend := newFakeBackend()
	reporter := &fakeReporter{}
	r := New(cfg, backend, downloadStoreAdapter{backend}, reporter)
	e := &env{
		backend:     backend,
		reporter:    reporter,
		runner:      r,
		workers:     make(map[string]*fakeWorker),
		unpackers:   make(map[string]*fakeUnpacker),
		startTotals: make(map[string]int),
	}
	r.now = backend.clock
	r.startLimiter = ratelimit.NewUnlimited()
	r.newDownloader = func(_ *config.Config, d *store.Download, _ *store.Torrent, _ string, _ downloader.ProgressFunc) (downloader.Downloader, error) {
		e.workerMu.Lock()
		defer e.workerMu.Unlock()
		e.startTotals[d.ID]++
		w, ok := e.workers[d.ID]
		if !ok || w.Finished() {
			w = &fakeWorker{}
			e.workers[d.ID] = w
		}
		return w, nil
	}
	r.newUnpacker = func(d *store.Download, _ string) downloader.Unpacker {
		e.workerMu.Lock()
		defer e.workerMu.Unlock()
		w, ok := e.unpackers[d.ID]
		if !ok {
			w = &fakeUnpacker{}
			e.unpackers[d.ID] = w
		}
		return w
	}
	return e
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Provider: config.Provider{APIKey: "test-key"},
		DownloadClient: config.DownloadClientConfig{
			Client:       config.DownloadClientInternal,
			DownloadPath: t.TempDir(),
		},
		General: config.General{
			DownloadLimit: 3,
			UnpackLimit:   1,
		},
	}
}

func (e *env) tick() {
	e.runner.Tick(context.Background())
}

func (e *env) worker(id string) *fakeWorker {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	return e.workers[id]
}

func (e *env) unpacker(id string) *fakeUnpacker {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	return e.unpackers[id]
}

func ptrTime(t time.Time) *time.Time { return &t }
