//go:build windows

package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// newPlatformBackend returns the ConPTY backend used on Windows.
func newPlatformBackend() Backend {
	return windowsBackend{}
}

// windowsBackend launches processes attached to a Windows pseudoconsole.
type windowsBackend struct{}

func (windowsBackend) Start(spec StartSpec) (Handle, error) {
	var inRead, inWrite, outRead, outWrite windows.Handle
	if err := windows.CreatePipe(&inRead, &inWrite, nil, 0); err != nil {
		return nil, fmt.Errorf("create input pipe: %w", err)
	}
	if err := windows.CreatePipe(&outRead, &outWrite, nil, 0); err != nil {
		windows.CloseHandle(inRead)
		windows.CloseHandle(inWrite)
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	size := windows.Coord{X: int16(spec.Cols), Y: int16(spec.Rows)}
	var hpc windows.Handle
	if err := windows.CreatePseudoConsole(size, inRead, outWrite, 0, &hpc); err != nil {
		windows.CloseHandle(inRead)
		windows.CloseHandle(inWrite)
		windows.CloseHandle(outRead)
		windows.CloseHandle(outWrite)
		return nil, fmt.Errorf("create pseudoconsole: %w", err)
	}
	// The console owns duplicates of the child-side pipe ends.
	windows.CloseHandle(inRead)
	windows.CloseHandle(outWrite)

	cleanup := func() {
		windows.ClosePseudoConsole(hpc)
		windows.CloseHandle(inWrite)
		windows.CloseHandle(outRead)
	}

	attrs, err := windows.NewProcThreadAttributeList(1)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create attribute list: %w", err)
	}
	defer attrs.Delete()

	if err := attrs.Update(
		windows.PROC_THREAD_ATTRIBUTE_PSEUDOCONSOLE,
		unsafe.Pointer(hpc),
		unsafe.Sizeof(hpc),
	); err != nil {
		cleanup()
		return nil, fmt.Errorf("set pseudoconsole attribute: %w", err)
	}

	cmdline := windows.ComposeCommandLine(append([]string{spec.Command}, spec.Args...))
	cmdlinePtr, err := windows.UTF16PtrFromString(cmdline)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("encode command line: %w", err)
	}
	var dirPtr *uint16
	if spec.Dir != "" {
		dirPtr, err = windows.UTF16PtrFromString(spec.Dir)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("encode working directory: %w", err)
		}
	}

	si := new(windows.StartupInfoEx)
	si.Cb = uint32(unsafe.Sizeof(*si))
	si.ProcThreadAttributeList = attrs.List()

	var pi windows.ProcessInformation
	flags := uint32(windows.EXTENDED_STARTUPINFO_PRESENT | windows.CREATE_UNICODE_ENVIRONMENT)
	if err := windows.CreateProcess(
		nil, cmdlinePtr, nil, nil, false, flags, nil, dirPtr, &si.StartupInfo, &pi,
	); err != nil {
		cleanup()
		return nil, fmt.Errorf("create process: %w", err)
	}
	windows.CloseHandle(pi.Thread)

	h := &windowsHandle{
		hpc:    hpc,
		proc:   pi.Process,
		pid:    int(pi.ProcessId),
		in:     inWrite,
		out:    outRead,
		done:   make(chan struct{}),
		dataCh: make(chan struct{}, 1),
	}
	go h.waitLoop()
	go h.readLoop()
	return h, nil
}

// windowsHandle wraps a ConPTY and its attached process. Reads from the
// console output pipe block, so a dedicated goroutine drains the pipe into
// an internal buffer and Read/Poll operate on that buffer, giving the same
// non-blocking semantics as the Unix backend.
type windowsHandle struct {
	hpc  windows.Handle
	proc windows.Handle
	pid  int
	in   windows.Handle
	out  windows.Handle

	mu        sync.Mutex
	buf       []byte
	pendingCR bool
	readErr   error

	// dataCh receives a token whenever the buffer or readErr changes.
	dataCh chan struct{}

	// done is closed when the process has exited.
	done chan struct{}

	consoleOnce sync.Once
	closeOnce   sync.Once
}

func (h *windowsHandle) waitLoop() {
	windows.WaitForSingleObject(h.proc, windows.INFINITE)
	close(h.done)
}

func (h *windowsHandle) readLoop() {
	chunk := make([]byte, 4096)
	for {
		var n uint32
		err := windows.ReadFile(h.out, chunk, &n, nil)
		if n > 0 {
			h.mu.Lock()
			normalized, pending := normalizeCRLF(chunk[:n], h.pendingCR)
			h.pendingCR = pending
			h.buf = append(h.buf, normalized...)
			h.mu.Unlock()
			h.notify()
		}
		if err != nil {
			// ERROR_BROKEN_PIPE means the console closed: treat as EOF.
			h.mu.Lock()
			if h.pendingCR {
				h.buf = append(h.buf, '\r')
				h.pendingCR = false
			}
			h.readErr = io.EOF
			h.mu.Unlock()
			h.notify()
			return
		}
	}
}

func (h *windowsHandle) notify() {
	select {
	case h.dataCh <- struct{}{}:
	default:
	}
}

func (h *windowsHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) == 0 {
		if h.readErr != nil {
			return 0, h.readErr
		}
		return 0, ErrNoData
	}
	n := copy(p, h.buf)
	h.buf = h.buf[n:]
	return n, nil
}

func (h *windowsHandle) Write(p []byte) (int, error) {
	var n uint32
	if err := windows.WriteFile(h.in, p, &n, nil); err != nil {
		return int(n), fmt.Errorf("write to console: %w", err)
	}
	return int(n), nil
}

func (h *windowsHandle) Resize(rows, cols int) error {
	size := windows.Coord{X: int16(cols), Y: int16(rows)}
	if err := windows.ResizePseudoConsole(h.hpc, size); err != nil {
		return fmt.Errorf("resize pseudoconsole: %w", err)
	}
	return nil
}

func (h *windowsHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *windowsHandle) Terminate(grace time.Duration) error {
	if !h.Alive() {
		return nil
	}
	// Closing the pseudoconsole is the graceful path: the child receives
	// console teardown the way it would on window close.
	h.closeConsole()
	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}
	_ = windows.TerminateProcess(h.proc, 1)
	select {
	case <-h.done:
	case <-time.After(time.Second):
	}
	return nil
}

func (h *windowsHandle) closeConsole() {
	h.consoleOnce.Do(func() {
		windows.ClosePseudoConsole(h.hpc)
	})
}

func (h *windowsHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeConsole()
		windows.CloseHandle(h.in)
		windows.CloseHandle(h.out)
		windows.CloseHandle(h.proc)
	})
	return nil
}

func (h *windowsHandle) Poll(timeout time.Duration) (bool, error) {
	h.mu.Lock()
	ready := len(h.buf) > 0 || h.readErr != nil
	h.mu.Unlock()
	if ready {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.dataCh:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func (h *windowsHandle) PID() int {
	return h.pid
}
