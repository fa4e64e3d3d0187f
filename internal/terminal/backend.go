package terminal

import "time"

// StartSpec describes the process a backend should launch.
type StartSpec struct {
	// Command is the executable to run.
	Command string

	// Args are additional arguments to pass to the command.
	Args []string

	// Dir is the working directory for the process.
	Dir string

	// Env are additional environment variables appended to the inherited
	// environment.
	Env []string

	// Rows and Cols are the initial terminal dimensions. Both must be
	// positive.
	Rows int
	Cols int
}

// Backend launches processes attached to a platform pseudo-terminal.
//
// Exactly one implementation exists per platform: a fork+PTY driver on Unix
// and a ConPTY driver on Windows. The platform choice happens once in
// NewBackend; nothing else in the package branches on the host OS.
type Backend interface {
	// Start creates a pseudo-terminal and launches the process attached to
	// it. Start is atomic: on any partial failure every resource opened so
	// far is released before the error is returned.
	Start(spec StartSpec) (Handle, error)
}

// Handle is the exclusive reference to one running process and its
// pseudo-terminal. A handle is owned by a single session; only that
// session's pump and the registry's destroy path ever touch it.
type Handle interface {
	// Read copies buffered process output into p without blocking.
	// It returns ErrNoData when nothing is buffered, io.EOF when the
	// process has exited and all output has been drained, and other
	// errors for genuine I/O failures. On Windows, CRLF sequences in the
	// output are normalized to LF before being returned.
	Read(p []byte) (int, error)

	// Write sends raw bytes to the terminal input. Safe to call from a
	// different goroutine than the reader.
	Write(p []byte) (int, error)

	// Resize propagates new terminal dimensions to the child process.
	Resize(rows, cols int) error

	// Alive reports whether the process is still running. Non-destructive.
	Alive() bool

	// Terminate requests graceful termination and escalates to a forceful
	// kill if the process has not exited within grace.
	Terminate(grace time.Duration) error

	// Close releases all OS resources held by the handle. Idempotent;
	// calls after the first are no-ops.
	Close() error

	// Poll blocks until output is available to read or timeout elapses.
	// It returns true when a subsequent Read will not return ErrNoData.
	Poll(timeout time.Duration) (bool, error)

	// PID returns the process id, or -1 if unavailable.
	PID() int
}

// NewBackend returns the pseudo-terminal backend for the host platform.
func NewBackend() Backend {
	return newPlatformBackend()
}

// normalizeCRLF rewrites CRLF pairs in data to a single LF, returning the
// normalized bytes and whether data ended with a bare CR that may be half of
// a CRLF pair split across reads. When pendingCR is true the previous chunk
// ended with such a CR; it is emitted here unless consumed by a leading LF.
func normalizeCRLF(data []byte, pendingCR bool) ([]byte, bool) {
	if len(data) == 0 {
		return nil, pendingCR
	}
	out := make([]byte, 0, len(data)+1)
	if pendingCR {
		if len(data) > 0 && data[0] != '\n' {
			out = append(out, '\r')
		}
		// A leading LF consumes the carried CR into a single LF.
	}
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == '\r' {
			if i == len(data)-1 {
				return out, true
			}
			if data[i+1] == '\n' {
				continue
			}
		}
		out = append(out, b)
	}
	return out, false
}
