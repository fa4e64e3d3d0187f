package terminal

import "time"

// reap periodically destroys sessions that have been idle past the
// configured timeout or whose process has already died. It iterates a
// snapshot, so the table may grow or shrink while a sweep is in progress.
func (r *Registry) reap() {
	defer close(r.reaperDone)

	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.reaperStop:
			return
		case <-ticker.C:
		}

		for _, info := range r.List() {
			reason := ""
			switch {
			case !info.Active:
				reason = "dead"
			case time.Since(info.LastActivity) > r.cfg.IdleTimeout:
				reason = "idle"
			default:
				continue
			}
			if err := r.Destroy(info.ID); err == nil {
				r.log.Info().
					Str("session", info.ID).
					Str("reason", reason).
					Msg("session reaped")
			}
		}
	}
}
