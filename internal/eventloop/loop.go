// Package eventloop runs every compositor component on one goroutine that
// blocks in poll(2) over registered descriptors.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Token identifies a registered source.
type Token uint64

// Callback runs on the loop goroutine when its descriptor is readable.
type Callback func() error

type source struct {
	fd   int
	name string
	fn   Callback
}

// Loop multiplexes readiness of file descriptors onto one goroutine.
// Only Stop may be called from other goroutines.
type Loop struct {
	sources map[Token]*source
	next    Token

	wake    *Notifier
	stopped atomic.Bool
}

// New creates a loop with its internal wake-up descriptor.
func New() (*Loop, error) {
	wake, err := NewNotifier()
	if err != nil {
		return nil, fmt.Errorf("failed to create wake notifier: %w", err)
	}

	l := &Loop{
		sources: make(map[Token]*source),
		wake:    wake,
	}
	l.Add("wake", wake.Fd(), func() error {
		wake.Clear()
		return nil
	})
	return l, nil
}

// Add registers fd and returns a token for Remove.
func (l *Loop) Add(name string, fd int, fn Callback) Token {
	l.next++
	l.sources[l.next] = &source{fd: fd, name: name, fn: fn}
	return l.next
}

// Remove unregisters a source. Readiness already collected for it in the
// current iteration is discarded.
func (l *Loop) Remove(t Token) {
	delete(l.sources, t)
}

// Len returns the number of registered sources, the wake source included.
func (l *Loop) Len() int {
	return len(l.sources)
}

// Stop makes Run return after the current iteration. Safe from any goroutine.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	l.wake.Signal()
}

// Stopped reports whether Stop was called.
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}

// Run dispatches until Stop is called or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	release := context.AfterFunc(ctx, l.Stop)
	defer release()

	for !l.stopped.Load() {
		if err := l.Dispatch(-1); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch waits up to timeout for readiness and runs the ready callbacks in
// registration order. A negative timeout blocks indefinitely.
func (l *Loop) Dispatch(timeout time.Duration) error {
	tokens := make([]Token, 0, len(l.sources))
	for t := range l.sources {
		tokens = append(tokens, t)
	}
	slices.Sort(tokens)

	fds := make([]unix.PollFd, len(tokens))
	for i, t := range tokens {
		fds[i] = unix.PollFd{Fd: int32(l.sources[t].fd), Events: unix.POLLIN}
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return fmt.Errorf("poll failed: %w", err)
	}
	if n == 0 {
		return nil
	}

	for i, t := range tokens {
		if fds[i].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
			continue
		}
		src, ok := l.sources[t]
		if !ok {
			continue
		}
		if err := src.fn(); err != nil {
			return fmt.Errorf("source %s: %w", src.name, err)
		}
	}
	return nil
}

// Close releases the wake descriptor. Registered sources are not closed.
func (l *Loop) Close() error {
	return l.wake.Close()
}
