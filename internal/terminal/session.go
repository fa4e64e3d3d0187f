package terminal

import (
	"sync"
	"time"
)

// SessionInfo is a read-only snapshot of session metadata. It never carries
// the backend handle.
type SessionInfo struct {
	ID           string
	Command      string
	Args         []string
	Cwd          string
	Rows         int
	Cols         int
	PID          int
	CreatedAt    time.Time
	LastActivity time.Time
	Active       bool
}

// Subscription identifies one registered output callback. Pass it to
// Unsubscribe to stop delivery.
type Subscription struct {
	session string
	seq     uint64
}

// subscriber is one registered output sink. Subscribers are kept in
// registration order; output fan-out walks the slice front to back.
type subscriber struct {
	seq      uint64
	onData   func([]byte)
	onClosed func()
}

// session is one running shell process and its PTY handle. The handle is
// owned exclusively by the session: only the pump and the registry's
// destroy path touch it, serialized through the stop channel and pumpDone.
type session struct {
	id      string
	command string
	args    []string
	cwd     string
	handle  Handle

	mu           sync.Mutex
	rows         int
	cols         int
	createdAt    time.Time
	lastActivity time.Time
	active       bool
	subs         []*subscriber
	nextSeq      uint64

	// stop tells the pump to exit; the destroyer then owns handle cleanup.
	stop     chan struct{}
	stopOnce sync.Once

	// pumpDone is closed when the pump goroutine has exited.
	pumpDone chan struct{}

	// closedOnce guards the one-time close notification to subscribers.
	closedOnce sync.Once
}

func newSession(id string, spec StartSpec, handle Handle) *session {
	now := time.Now()
	return &session{
		id:           id,
		command:      spec.Command,
		args:         spec.Args,
		cwd:          spec.Dir,
		handle:       handle,
		rows:         spec.Rows,
		cols:         spec.Cols,
		createdAt:    now,
		lastActivity: now,
		active:       true,
		stop:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
	}
}

// info returns a metadata snapshot.
func (s *session) info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:           s.id,
		Command:      s.command,
		Args:         s.args,
		Cwd:          s.cwd,
		Rows:         s.rows,
		Cols:         s.cols,
		PID:          s.handle.PID(),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Active:       s.active,
	}
}

// touch records activity on the session.
func (s *session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *session) markInactive() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

func (s *session) setSize(rows, cols int) {
	s.mu.Lock()
	s.rows = rows
	s.cols = cols
	s.mu.Unlock()
}

// signalStop tells the pump to exit. Idempotent.
func (s *session) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// addSub registers an output callback and returns its sequence number.
// Returns false when the session is no longer active.
func (s *session) addSub(onData func([]byte), onClosed func()) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return 0, false
	}
	s.nextSeq++
	s.subs = append(s.subs, &subscriber{seq: s.nextSeq, onData: onData, onClosed: onClosed})
	return s.nextSeq, true
}

func (s *session) removeSub(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.seq == seq {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// fanout delivers output to every subscriber in registration order. The
// subscriber list is copied under the lock; callbacks run outside it so
// they may call back into the registry.
func (s *session) fanout(data []byte) {
	s.mu.Lock()
	subs := make([]*subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.onData != nil {
			sub.onData(data)
		}
	}
}

// notifyClosed fires every subscriber's close callback exactly once per
// session and clears the subscriber list.
func (s *session) notifyClosed() {
	s.closedOnce.Do(func() {
		s.mu.Lock()
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()

		for _, sub := range subs {
			if sub.onClosed != nil {
				sub.onClosed()
			}
		}
	})
}
