package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds the tunables of a Registry. Zero values are replaced with
// the documented defaults by NewRegistry.
type Config struct {
	// MaxSessions caps the number of concurrently active sessions
	// (default 20).
	MaxSessions int

	// IdleTimeout is how long a session may go without activity before the
	// reaper destroys it (default 15m).
	IdleTimeout time.Duration

	// ReapInterval is how often the reaper sweeps (default 60s).
	ReapInterval time.Duration

	// ReadChunkBytes is the maximum bytes read from a backend per call
	// (default 20480).
	ReadChunkBytes int

	// PollTimeout bounds each pump poll, and therefore how quickly a pump
	// observes its stop signal (default 10ms).
	PollTimeout time.Duration

	// TerminateGrace is how long Terminate waits between the graceful
	// request and the forceful kill (default 100ms).
	TerminateGrace time.Duration

	// DefaultShell is used when Create is called with an empty command
	// (defaults to $SHELL, then /bin/sh).
	DefaultShell string

	// DefaultRows and DefaultCols are used when Create is called with
	// non-positive dimensions (default 24x80).
	DefaultRows int
	DefaultCols int
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 20
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
	if c.ReadChunkBytes <= 0 {
		c.ReadChunkBytes = 20480
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Millisecond
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = 100 * time.Millisecond
	}
	if c.DefaultShell == "" {
		c.DefaultShell = os.Getenv("SHELL")
		if c.DefaultShell == "" {
			c.DefaultShell = "/bin/sh"
		}
	}
	if c.DefaultRows <= 0 {
		c.DefaultRows = 24
	}
	if c.DefaultCols <= 0 {
		c.DefaultCols = 80
	}
	return c
}

// Registry owns the session table. It is the only surface transports call:
// it creates and destroys sessions, enforces the session cap, and mediates
// all input, resize, and subscription traffic.
type Registry struct {
	cfg     Config
	backend Backend
	log     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	closed atomic.Bool

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackend overrides the platform backend. Used by tests and callers
// embedding a custom process driver.
func WithBackend(b Backend) Option {
	return func(r *Registry) {
		r.backend = b
	}
}

// WithLogger sets the registry logger. Defaults to a disabled logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = logger
	}
}

// NewRegistry creates a session registry and starts its idle reaper.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		cfg:        cfg.withDefaults(),
		backend:    NewBackend(),
		log:        zerolog.Nop(),
		sessions:   make(map[string]*session),
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With().Str("module", "terminal").Logger()
	go r.reap()
	return r
}

// Create spawns a new session and returns its id.
//
// The capacity check, the backend start, and the table insert happen under
// one lock so two concurrent calls cannot both pass the check at the cap.
// On spawn failure nothing is registered and every resource the backend
// opened has been released.
func (r *Registry) Create(command string, args []string, cwd string, rows, cols int) (string, error) {
	if r.closed.Load() {
		return "", ErrRegistryClosed
	}
	if command == "" {
		command = r.cfg.DefaultShell
	}
	if rows <= 0 {
		rows = r.cfg.DefaultRows
	}
	if cols <= 0 {
		cols = r.cfg.DefaultCols
	}

	spec := StartSpec{Command: command, Args: args, Dir: cwd, Rows: rows, Cols: cols}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return "", ErrRegistryClosed
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		return "", ErrMaxSessions
	}

	handle, err := r.backend.Start(spec)
	if err != nil {
		return "", fmt.Errorf("spawn session: %w", err)
	}

	s := newSession(uuid.NewString(), spec, handle)
	r.sessions[s.id] = s
	go r.pump(s)

	r.log.Info().
		Str("session", s.id).
		Str("command", command).
		Int("pid", handle.PID()).
		Msg("session created")
	return s.id, nil
}

// Destroy tears down a session: it signals the pump to stop, waits a
// bounded time for it to exit, terminates the process, releases the
// backend handle, and removes the id from the table. A second call for the
// same id returns ErrSessionNotFound.
func (r *Registry) Destroy(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	r.teardown(s)
	r.log.Info().Str("session", id).Msg("session destroyed")
	return nil
}

// teardown runs the destroy sequence for a session already removed from
// the table. Safe on sessions whose pump has already exited.
func (r *Registry) teardown(s *session) {
	s.signalStop()
	select {
	case <-s.pumpDone:
	case <-time.After(r.pumpExitWait()):
		r.log.Warn().Str("session", s.id).Msg("pump did not exit in time")
	}
	s.markInactive()
	_ = s.handle.Terminate(r.cfg.TerminateGrace)
	_ = s.handle.Close()
	s.notifyClosed()
}

// pumpExitWait bounds how long Destroy waits for a pump to observe its
// stop signal. A pump blocks at most one poll interval.
func (r *Registry) pumpExitWait() time.Duration {
	wait := 10 * r.cfg.PollTimeout
	if wait < 100*time.Millisecond {
		wait = 100 * time.Millisecond
	}
	return wait
}

// Get returns a metadata snapshot for the session.
func (r *Registry) Get(id string) (SessionInfo, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return s.info(), nil
}

// List returns a snapshot of all sessions.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// Count returns the number of sessions in the table.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// WriteInput sends raw bytes to the session's terminal and records the
// activity. A dead session reports ErrSessionNotFound, same as a destroyed
// one.
func (r *Registry) WriteInput(id string, data []byte) error {
	s, err := r.lookupActive(id)
	if err != nil {
		return err
	}
	if _, err := s.handle.Write(data); err != nil {
		if errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("write input: %w", err)
	}
	s.touch()
	return nil
}

// Resize validates and propagates new terminal dimensions.
func (r *Registry) Resize(id string, rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return ErrInvalidDimensions
	}
	s, err := r.lookupActive(id)
	if err != nil {
		return err
	}
	if err := s.handle.Resize(rows, cols); err != nil {
		return fmt.Errorf("resize session: %w", err)
	}
	s.setSize(rows, cols)
	return nil
}

// Subscribe registers output callbacks for a session. onData receives
// output chunks in the order the process produced them; onClosed fires
// exactly once when the session dies or is destroyed.
func (r *Registry) Subscribe(id string, onData func([]byte), onClosed func()) (Subscription, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Subscription{}, ErrSessionNotFound
	}
	seq, ok := s.addSub(onData, onClosed)
	if !ok {
		return Subscription{}, ErrSessionNotFound
	}
	return Subscription{session: id, seq: seq}, nil
}

// Unsubscribe removes a subscription. Safe to call with a subscription
// whose session is already gone.
func (r *Registry) Unsubscribe(sub Subscription) {
	r.mu.RLock()
	s, ok := r.sessions[sub.session]
	r.mu.RUnlock()
	if ok {
		s.removeSub(sub.seq)
	}
}

// lookupActive returns the session if it exists and its process is still
// running.
func (r *Registry) lookupActive(id string) (*session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || !s.isActive() {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Shutdown destroys every session and stops the reaper. It waits up to
// timeout for all teardowns to finish.
func (r *Registry) Shutdown(timeout time.Duration) {
	if r.closed.Swap(true) {
		return
	}

	close(r.reaperStop)
	<-r.reaperDone

	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if len(sessions) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			r.teardown(s)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		r.log.Warn().Msg("shutdown timed out waiting for session teardown")
	}
}
