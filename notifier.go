//go:build linux

package sdlink

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// notifier is a one-shot wake-up primitive backed by a self-pipe. The read
// end is non-blocking and polled by the worker next to the socket; any
// goroutine writes a single byte to the write end to kick the loop.
// Multiple notifications coalesce into at least one wake.
type notifier struct {
	mu      sync.Mutex
	readFD  int
	writeFD int
}

func newNotifier() (*notifier, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPipeCreationFailed, err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, fmt.Errorf("%w: %v", ErrPipeCreationFailed, err)
	}
	return &notifier{readFD: fds[0], writeFD: fds[1]}, nil
}

// notify wakes the worker. Safe to call from any goroutine.
func (n *notifier) notify() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.writeFD < 0 {
		return ErrNotifyFailed
	}
	written, err := unix.Write(n.writeFD, []byte{0})
	if err != nil || written != 1 {
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}
	return nil
}

// drain clears accumulated notifications. Worker-side only. Reads until the
// pipe would block; any error other than EAGAIN is fatal for the caller.
func (n *notifier) drain() error {
	var buf [256]byte
	for {
		read, err := unix.Read(n.readFD, buf[:])
		if read > 0 {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		if err != nil {
			return err
		}
		// Zero read without error means the write end is gone.
		return unix.EPIPE
	}
}

// fd returns the pollable read descriptor.
func (n *notifier) fd() int {
	return n.readFD
}

// close releases both pipe ends. Idempotent.
func (n *notifier) close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var err error
	if n.readFD >= 0 {
		err = multierr.Append(err, unix.Close(n.readFD))
		n.readFD = -1
	}
	if n.writeFD >= 0 {
		err = multierr.Append(err, unix.Close(n.writeFD))
		n.writeFD = -1
	}
	return err
}
