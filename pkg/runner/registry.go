package runner

import (
	"sync"

	"github.com/laster13/rdt-client/pkg/downloader"
	"github.com/laster13/rdt-client/pkg/store"
)

// downloadEntry pairs a running worker with the row it was started from.
// The worker mutates the row's byte counters in place; the poller persists
// them.
type downloadEntry struct {
	worker   downloader.Downloader
	download *store.Download
}

type unpackEntry struct {
	worker   downloader.Unpacker
	download *store.Download
}

// Registry tracks the workers running right now, keyed by download id.
// The download and unpack maps are disjoint by id: a download is in at
// most one phase at a time.
type Registry struct {
	mu        sync.RWMutex
	downloads map[string]downloadEntry
	unpacks   map[string]unpackEntry
}

func NewRegistry() *Registry {
	return &Registry{
		downloads: make(map[string]downloadEntry),
		unpacks:   make(map[string]unpackEntry),
	}
}

func (r *Registry) AddDownload(id string, worker downloader.Downloader, d *store.Download) {
	r.mu.Lock()
	r.downloads[id] = downloadEntry{worker: worker, download: d}
	r.mu.Unlock()
}

func (r *Registry) RemoveDownload(id string) {
	r.mu.Lock()
	delete(r.downloads, id)
	r.mu.Unlock()
}

func (r *Registry) HasDownload(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.downloads[id]
	return ok
}

func (r *Registry) DownloadCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.downloads)
}

// SnapshotDownloads returns a copy safe to iterate while workers are
// added and removed.
func (r *Registry) SnapshotDownloads() map[string]downloadEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]downloadEntry, len(r.downloads))
	for id, entry := range r.downloads {
		snapshot[id] = entry
	}
	return snapshot
}

func (r *Registry) AddUnpack(id string, worker downloader.Unpacker, d *store.Download) {
	r.mu.Lock()
	r.unpacks[id] = unpackEntry{worker: worker, download: d}
	r.mu.Unlock()
}

func (r *Registry) RemoveUnpack(id string) {
	r.mu.Lock()
	delete(r.unpacks, id)
	r.mu.Unlock()
}

func (r *Registry) HasUnpack(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.unpacks[id]
	return ok
}

func (r *Registry) UnpackCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.unpacks)
}

func (r *Registry) SnapshotUnpacks() map[string]unpackEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]unpackEntry, len(r.unpacks))
	for id, entry := range r.unpacks {
		snapshot[id] = entry
	}
	return snapshot
}
