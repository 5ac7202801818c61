package runner

import "github.com/laster13/rdt-client/pkg/downloader"

// pollBulkStatus refreshes every worker whose backend supports batched
// status with a single query, instead of one request per worker. Byte
// counters the workers pick up from the batch are persisted here.
func (r *Runner) pollBulkStatus() {
	if r.bulk == nil {
		return
	}

	var entries []downloadEntry
	for _, entry := range r.registry.SnapshotDownloads() {
		if _, ok := entry.worker.(downloader.BulkUpdatable); ok {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return
	}

	statuses, err := r.bulk.TellAll()
	if err != nil {
		r.logger.Warn().Err(err).Msg("bulk status poll failed")
		return
	}
	for _, entry := range entries {
		entry.worker.(downloader.BulkUpdatable).Update(statuses)
		d := entry.download
		if err := r.downloads.UpdateProgress(d.ID, d.BytesDone, d.BytesTotal); err != nil {
			r.logger.Warn().Err(err).Str("download", d.ID).Msg("failed to persist progress")
		}
	}
}
