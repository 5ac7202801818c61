package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/laster13/rdt-client/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "rdtclient.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleTorrent(id string) *Torrent {
	return &Torrent{
		ID:                    id,
		Hash:                  "aabbccddeeff00112233445566778899aabbccdd",
		Name:                  "sample",
		Category:              "movies",
		RdStatus:              RdStatusQueued,
		Added:                 time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		TorrentRetryAttempts:  3,
		DownloadRetryAttempts: 2,
		Lifetime:              120,
		DeleteOnError:         5,
		FinishedAction:        config.FinishedActionRemoveRealDebrid,
		HostDownloadAction:    config.HostDownloadActionAll,
	}
}

func sampleDownload(id, torrentID string, queued time.Time) *Download {
	return &Download{
		ID:             id,
		TorrentID:      torrentID,
		FileName:       "sample.mkv",
		RestrictedLink: "https://rd.example/dl/sample.mkv",
		DownloadQueued: queued,
	}
}

func TestTorrentRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := db.Torrents()

	want := sampleTorrent("t1")
	if err := repo.Add(want); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := repo.Get("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Hash != want.Hash || got.Name != want.Name || got.Category != want.Category {
		t.Fatalf("identity fields differ: %+v", got)
	}
	if !got.Added.Equal(want.Added) {
		t.Fatalf("added %v, want %v", got.Added, want.Added)
	}
	if got.FinishedAction != config.FinishedActionRemoveRealDebrid {
		t.Fatalf("finished action %v", got.FinishedAction)
	}
	if got.FilesSelected != nil || got.Completed != nil || got.Retry != nil {
		t.Fatal("fresh torrent has stage timestamps set")
	}

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTorrentAllOrdersByAdded(t *testing.T) {
	db := openTestDB(t)
	repo := db.Torrents()

	newer := sampleTorrent("newer")
	newer.Added = newer.Added.Add(time.Hour)
	if err := repo.Add(newer); err != nil {
		t.Fatalf("add: %v", err)
	}
	older := sampleTorrent("older")
	if err := repo.Add(older); err != nil {
		t.Fatalf("add: %v", err)
	}

	all, err := repo.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 || all[0].ID != "older" || all[1].ID != "newer" {
		t.Fatalf("unexpected order: %v, %v", all[0].ID, all[1].ID)
	}
}

func TestTorrentUpdateRdInfo(t *testing.T) {
	db := openTestDB(t)
	repo := db.Torrents()
	if err := repo.Add(sampleTorrent("t1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := repo.UpdateRdInfo("t1", RdStatusDownloading, "downloading", 42.5, "resolved name"); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.Get("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RdStatus != RdStatusDownloading || got.RdProgress != 42.5 || got.Name != "resolved name" {
		t.Fatalf("remote info not applied: %+v", got)
	}

	// An empty name from the provider must not wipe the stored one.
	if err := repo.UpdateRdInfo("t1", RdStatusFinished, "downloaded", 100, ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = repo.Get("t1")
	if got.Name != "resolved name" {
		t.Fatalf("empty provider name overwrote stored name: %q", got.Name)
	}
}

func TestTorrentCompleteTerminalClearsRetry(t *testing.T) {
	db := openTestDB(t)
	repo := db.Torrents()
	if err := repo.Add(sampleTorrent("t1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	marker := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	if err := repo.UpdateRetry("t1", &marker, 1); err != nil {
		t.Fatalf("update retry: %v", err)
	}

	msg := "lifetime reached"
	done := marker.Add(time.Minute)
	if err := repo.UpdateComplete("t1", &msg, done, true); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := repo.Get("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Completed == nil || got.Error != msg {
		t.Fatalf("completion not recorded: %+v", got)
	}
	if got.Retry != nil {
		t.Fatal("terminal completion left the retry marker set")
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count changed: %d", got.RetryCount)
	}
}

func TestTorrentDeleteCascades(t *testing.T) {
	db := openTestDB(t)
	if err := db.Torrents().Add(sampleTorrent("t1")); err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	d := sampleDownload("d1", "t1", time.Now())
	if err := db.Downloads().Add(d); err != nil {
		t.Fatalf("add download: %v", err)
	}

	if err := db.Torrents().Delete("t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Downloads().Get("d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cascade delete, got %v", err)
	}
	if err := db.Torrents().Delete("t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestDownloadStageWrites(t *testing.T) {
	db := openTestDB(t)
	if err := db.Torrents().Add(sampleTorrent("t1")); err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	repo := db.Downloads()
	queued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Add(sampleDownload("d1", "t1", queued)); err != nil {
		t.Fatalf("add: %v", err)
	}

	started := queued.Add(time.Minute)
	if err := repo.UpdateDownloadStarted("d1", &started); err != nil {
		t.Fatalf("start: %v", err)
	}
	finished := started.Add(time.Minute)
	if err := repo.UpdateDownloadFinished("d1", finished, finished); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := repo.Get("d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DownloadStarted == nil || !got.DownloadStarted.Equal(started) {
		t.Fatalf("started %v, want %v", got.DownloadStarted, started)
	}
	if got.DownloadFinished == nil || got.UnpackingQueued == nil {
		t.Fatal("finish write did not queue unpacking")
	}

	// Rewind for crash recovery.
	if err := repo.UpdateDownloadStarted("d1", nil); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	got, _ = repo.Get("d1")
	if got.DownloadStarted != nil {
		t.Fatal("rewind did not clear the started stage")
	}
}

func TestDownloadSkipUnpackTriple(t *testing.T) {
	db := openTestDB(t)
	if err := db.Torrents().Add(sampleTorrent("t1")); err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	repo := db.Downloads()
	if err := repo.Add(sampleDownload("d1", "t1", time.Now())); err != nil {
		t.Fatalf("add: %v", err)
	}

	ts := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	if err := repo.SkipUnpack("d1", ts); err != nil {
		t.Fatalf("skip: %v", err)
	}
	got, err := repo.Get("d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for name, field := range map[string]*time.Time{
		"unpacking_started":  got.UnpackingStarted,
		"unpacking_finished": got.UnpackingFinished,
		"completed":          got.Completed,
	} {
		if field == nil || !field.Equal(ts) {
			t.Fatalf("%s = %v, want %v", name, field, ts)
		}
	}
}

func TestDownloadReset(t *testing.T) {
	db := openTestDB(t)
	if err := db.Torrents().Add(sampleTorrent("t1")); err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	repo := db.Downloads()
	if err := repo.Add(sampleDownload("d1", "t1", time.Now())); err != nil {
		t.Fatalf("add: %v", err)
	}

	ts := time.Now().UTC()
	if err := repo.UpdateDownloadStarted("d1", &ts); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := repo.UpdateError("d1", "io error"); err != nil {
		t.Fatalf("error: %v", err)
	}
	if err := repo.UpdateProgress("d1", 10, 100); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := repo.UpdateRetryCount("d1", 1); err != nil {
		t.Fatalf("retry count: %v", err)
	}

	if err := repo.Reset("d1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := repo.Get("d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DownloadStarted != nil || got.Completed != nil || got.Error != "" || got.RemoteID != "" {
		t.Fatalf("reset left state behind: %+v", got)
	}
	if got.BytesDone != 0 {
		t.Fatalf("reset kept progress: %d", got.BytesDone)
	}
	if got.RetryCount != 1 {
		t.Fatalf("reset cleared the retry count: %d", got.RetryCount)
	}
	if got.BytesTotal != 100 {
		t.Fatalf("reset cleared the known size: %d", got.BytesTotal)
	}
}

func TestDownloadForTorrentOrder(t *testing.T) {
	db := openTestDB(t)
	if err := db.Torrents().Add(sampleTorrent("t1")); err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	repo := db.Downloads()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Add(sampleDownload("later", "t1", base.Add(time.Minute))); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.Add(sampleDownload("earlier", "t1", base)); err != nil {
		t.Fatalf("add: %v", err)
	}

	downloads, err := repo.ForTorrent("t1")
	if err != nil {
		t.Fatalf("for torrent: %v", err)
	}
	if len(downloads) != 2 || downloads[0].ID != "earlier" || downloads[1].ID != "later" {
		t.Fatalf("unexpected order: %+v", downloads)
	}
}

func TestDownloadBatchWrites(t *testing.T) {
	db := openTestDB(t)
	if err := db.Torrents().Add(sampleTorrent("t1")); err != nil {
		t.Fatalf("add torrent: %v", err)
	}
	repo := db.Downloads()
	now := time.Now()
	for _, id := range []string{"d1", "d2", "d3"} {
		if err := repo.Add(sampleDownload(id, "t1", now)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	if err := repo.UpdateRemoteIDRange(map[string]string{"d1": "gid-1", "d2": "gid-2"}); err != nil {
		t.Fatalf("remote ids: %v", err)
	}
	if err := repo.UpdateErrorRange(map[string]string{"d3": "start failed"}); err != nil {
		t.Fatalf("errors: %v", err)
	}
	if err := repo.UpdateRemoteIDRange(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}

	d1, _ := repo.Get("d1")
	d3, _ := repo.Get("d3")
	if d1.RemoteID != "gid-1" {
		t.Fatalf("remote id %q", d1.RemoteID)
	}
	if d1.Error != "" {
		t.Fatalf("unexpected error on d1: %q", d1.Error)
	}
	if d3.Error != "start failed" {
		t.Fatalf("error %q", d3.Error)
	}

	if err := repo.DeleteForTorrent("t1"); err != nil {
		t.Fatalf("delete for torrent: %v", err)
	}
	if _, err := repo.Get("d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
