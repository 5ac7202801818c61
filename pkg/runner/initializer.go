package runner

// Initialize rewinds stages left mid-flight by a previous process: a
// started timestamp with no matching finish means the worker died with the
// process, so clearing it re-queues the stage for the next tick. Running
// it again without intervening ticks is a no-op.
func (r *Runner) Initialize() error {
	all, err := r.torrents.All()
	if err != nil {
		return err
	}
	for _, t := range all {
		if t.IsCompleted() {
			continue
		}
		for _, d := range t.Downloads {
			if d.IsCompleted() || d.Error != "" {
				continue
			}
			if d.DownloadStarted != nil && d.DownloadFinished == nil {
				r.logger.Info().Str("download", d.ID).Msg("rewinding interrupted download")
				if err := r.downloads.UpdateDownloadStarted(d.ID, nil); err != nil {
					return err
				}
			}
			if d.UnpackingStarted != nil && d.UnpackingFinished == nil {
				r.logger.Info().Str("download", d.ID).Msg("rewinding interrupted unpack")
				if err := r.downloads.UpdateUnpackingStarted(d.ID, nil); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
