package eventloop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Notifier is an eventfd that other goroutines signal to wake the loop.
// Signal and Clear do nothing once it is closed, so a late signal never
// reaches a descriptor number the kernel has handed out again.
type Notifier struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// NewNotifier creates a non-blocking eventfd.
func NewNotifier() (*Notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &Notifier{fd: fd}, nil
}

// Fd returns the readable descriptor.
func (n *Notifier) Fd() int {
	return n.fd
}

// Signal makes the descriptor readable.
func (n *Notifier) Signal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	// EAGAIN only happens when the counter is saturated, which is still readable.
	_, _ = unix.Write(n.fd, buf[:])
}

// Clear resets the descriptor to non-readable.
func (n *Notifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	var buf [8]byte
	for {
		_, err := unix.Read(n.fd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return
	}
}

// Close releases the descriptor.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return unix.Close(n.fd)
}
