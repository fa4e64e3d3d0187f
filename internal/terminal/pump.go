package terminal

import (
	"errors"
	"io"
)

// pump drains one session's terminal output until the session is destroyed
// or the process dies. It is the only goroutine that reads from the handle.
//
// The loop never blocks longer than one poll interval, so a stop signal
// from Destroy is observed promptly. "No data" is a normal condition and is
// absorbed here; any other read or poll failure is logged once and ends the
// session the same way process exit does.
func (r *Registry) pump(s *session) {
	defer close(s.pumpDone)

	logger := r.log.With().Str("session", s.id).Logger()
	buf := make([]byte, r.cfg.ReadChunkBytes)

	for {
		select {
		case <-s.stop:
			// Destroy owns termination and handle cleanup from here.
			return
		default:
		}

		ready, err := s.handle.Poll(r.cfg.PollTimeout)
		if err != nil {
			logger.Error().Err(err).Msg("poll failed")
			r.retire(s, "poll error")
			return
		}
		if !ready {
			if !s.handle.Alive() {
				r.retire(s, "process died")
				return
			}
			continue
		}

		n, err := s.handle.Read(buf)
		if n > 0 {
			s.touch()
			// Subscribers may retain the chunk beyond the callback, and
			// buf is reused on the next read.
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.fanout(chunk)
		}

		switch {
		case err == nil, errors.Is(err, ErrNoData):
		case errors.Is(err, io.EOF):
			r.retire(s, "eof")
			return
		default:
			logger.Error().Err(err).Msg("read failed")
			r.retire(s, "read error")
			return
		}
	}
}

// retire handles session death observed by the pump: the session goes
// inactive, the handle is released, and subscribers get their one close
// notification. The id stays in the table until Destroy or the reaper
// removes it; callers see ErrSessionNotFound on input either way.
func (r *Registry) retire(s *session, reason string) {
	s.markInactive()
	_ = s.handle.Close()
	s.notifyClosed()
	r.log.Debug().Str("session", s.id).Str("reason", reason).Msg("session ended")
}
