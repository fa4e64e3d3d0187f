//go:build !windows

package terminal

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// newPlatformBackend returns the fork+PTY backend used on Unix systems.
func newPlatformBackend() Backend {
	return unixBackend{}
}

// unixBackend launches processes on a Unix pseudo-terminal pair.
type unixBackend struct{}

func (unixBackend) Start(spec StartSpec) (Handle, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(spec.Rows),
		Cols: uint16(spec.Cols),
	})
	if err != nil {
		// pty.StartWithSize closes both PTY ends on failure; nothing to
		// release here.
		return nil, err
	}

	h := &unixHandle{
		ptmx: ptmx,
		fd:   int(ptmx.Fd()),
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go h.waitLoop()
	return h, nil
}

// unixHandle wraps the PTY master fd and the child process.
type unixHandle struct {
	ptmx *os.File
	fd   int
	cmd  *exec.Cmd

	// done is closed once the child has been reaped.
	done chan struct{}

	closeOnce sync.Once
}

func (h *unixHandle) waitLoop() {
	_ = h.cmd.Wait()
	close(h.done)
}

func (h *unixHandle) Read(p []byte) (int, error) {
	n, err := h.ptmx.Read(p)
	if err != nil {
		switch {
		case errors.Is(err, syscall.EAGAIN):
			return n, ErrNoData
		case errors.Is(err, syscall.EIO), errors.Is(err, os.ErrClosed), errors.Is(err, io.EOF):
			// Linux reports EIO on the master once the slave side is gone.
			return n, io.EOF
		default:
			return n, err
		}
	}
	return n, nil
}

func (h *unixHandle) Write(p []byte) (int, error) {
	n, err := h.ptmx.Write(p)
	if err != nil && errors.Is(err, os.ErrClosed) {
		return n, io.EOF
	}
	return n, err
}

func (h *unixHandle) Resize(rows, cols int) error {
	return pty.Setsize(h.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (h *unixHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *unixHandle) Terminate(grace time.Duration) error {
	if !h.Alive() {
		return nil
	}
	_ = h.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}
	_ = h.cmd.Process.Kill()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		// The wait loop will still reap the child once the kernel delivers
		// SIGKILL; don't block the caller further.
	}
	return nil
}

func (h *unixHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.ptmx.Close()
	})
	return err
}

func (h *unixHandle) Poll(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(h.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		if errors.Is(err, unix.EBADF) {
			// The fd was closed; report ready so the pump's Read observes
			// the terminal error instead of spinning.
			return true, nil
		}
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
}

func (h *unixHandle) PID() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}
