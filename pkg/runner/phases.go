package runner

import (
	"fmt"
	"time"

	"github.com/laster13/rdt-client/pkg/store"
)

// processRetries handles explicit retry markers. A marker set past the
// retry budget is cleared without resubmitting; otherwise the facade
// resubmits the torrent and owns the retry-count increment. Returns the
// torrents still alive for the following phases.
func (r *Runner) processRetries(all []*store.Torrent) []*store.Torrent {
	for _, t := range all {
		if t.Retry == nil {
			continue
		}
		if t.RetryCount > t.TorrentRetryAttempts {
			r.logger.Warn().Str("torrent", t.ID).Int("retries", t.RetryCount).Msg("torrent retry attempts exhausted")
			if err := r.torrents.UpdateRetry(t, nil); err != nil {
				r.logger.Error().Err(err).Str("torrent", t.ID).Msg("failed to clear retry marker")
			}
			continue
		}
		if err := r.torrents.RetryTorrent(t, "retry requested"); err != nil {
			r.fail(t, fmt.Sprintf("retry failed: %v", err))
		}
	}
	return all
}

// processErrorTTL deletes failed torrents whose error retention window has
// passed. The delete removes the provider copy, the local rows and the
// downloaded files.
func (r *Runner) processErrorTTL(all []*store.Torrent) []*store.Torrent {
	now := r.now()
	remaining := all[:0]
	for _, t := range all {
		if t.Error == "" || t.DeleteOnError <= 0 || t.Completed == nil {
			remaining = append(remaining, t)
			continue
		}
		deadline := t.Completed.Add(time.Duration(t.DeleteOnError) * time.Minute)
		if now.Before(deadline) {
			remaining = append(remaining, t)
			continue
		}
		r.logger.Info().Str("torrent", t.ID).Int("minutes", t.DeleteOnError).Msg("error retention reached, deleting torrent")
		if err := r.torrents.Delete(t.ID, true, true, true); err != nil {
			r.logger.Error().Err(err).Str("torrent", t.ID).Msg("failed to delete torrent")
			remaining = append(remaining, t)
		}
	}
	return remaining
}

// processLifetime expires torrents that produced no downloads within their
// configured lifetime. The retry budget is burned so the expiry is final.
func (r *Runner) processLifetime(all []*store.Torrent) {
	now := r.now()
	for _, t := range all {
		if len(t.Downloads) > 0 || t.Completed != nil || t.Lifetime <= 0 {
			continue
		}
		deadline := t.Added.Add(time.Duration(t.Lifetime) * time.Minute)
		if now.Before(deadline) {
			continue
		}
		t.RetryCount = t.TorrentRetryAttempts
		if err := r.torrents.UpdateRetry(t, nil); err != nil {
			r.logger.Error().Err(err).Str("torrent", t.ID).Msg("failed to burn retry budget")
		}
		msg := fmt.Sprintf("Torrent lifetime of %d minutes reached", t.Lifetime)
		r.logger.Warn().Str("torrent", t.ID).Msg(msg)
		if err := r.torrents.UpdateComplete(t, &msg, now.UTC(), true); err != nil {
			r.logger.Error().Err(err).Str("torrent", t.ID).Msg("failed to expire torrent")
		}
	}
}

// fail records a reconciliation failure terminally on the torrent so the
// tick can move on to the next one.
func (r *Runner) fail(t *store.Torrent, msg string) {
	r.logger.Error().Str("torrent", t.ID).Str("error", msg).Msg("torrent failed")
	if err := r.torrents.UpdateComplete(t, &msg, r.now().UTC(), true); err != nil {
		r.logger.Error().Err(err).Str("torrent", t.ID).Msg("failed to record torrent failure")
	}
}
