// Package session grants exclusive access to display and input devices and
// reports when that access is revoked by a VT switch.
package session

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bnema/anvil/internal/logger"
	"golang.org/x/sys/unix"
)

var (
	// ErrInactive is returned by device operations while the session is
	// switched away.
	ErrInactive = errors.New("session inactive")
	// ErrUnavailable means no session facility could be used.
	ErrUnavailable = errors.New("no session facility available")
)

// Guard is the liveness flag every device access goes through. Pause and
// resume take the write lock, so an operation started under Do finishes
// before the session is marked inactive.
type Guard struct {
	mu     sync.RWMutex
	active bool
}

// NewGuard returns a guard in the given state.
func NewGuard(active bool) *Guard {
	return &Guard{active: active}
}

// Active reports the current state.
func (g *Guard) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// Do runs fn only while the session is active.
func (g *Guard) Do(fn func() error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.active {
		return ErrInactive
	}
	return fn()
}

// Set changes the state and reports whether it changed.
func (g *Guard) Set(active bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == active {
		return false
	}
	g.active = active
	return true
}

// EventKind classifies session notifications.
type EventKind int

const (
	Paused EventKind = iota
	Resumed
	DevicePaused
	DeviceResumed
	DeviceGone
)

func (k EventKind) String() string {
	switch k {
	case Paused:
		return "paused"
	case Resumed:
		return "resumed"
	case DevicePaused:
		return "device-paused"
	case DeviceResumed:
		return "device-resumed"
	case DeviceGone:
		return "device-gone"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a session notification. Device is set for the device kinds.
type Event struct {
	Kind   EventKind
	Device *Device
}

// Device is a device file held through the session. Its descriptor may be
// replaced when the session hands out a fresh one after a resume.
type Device struct {
	Path         string
	Major, Minor uint32

	mu     sync.Mutex
	file   *os.File
	paused bool
}

// File returns the current descriptor, or false while the device is paused.
func (d *Device) File() (*os.File, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused || d.file == nil {
		return nil, false
	}
	return d.file, true
}

func (d *Device) pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// resume installs a new descriptor. The previous one is closed unless it
// is the same file.
func (d *Device) resume(f *os.File) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f != nil && f != d.file {
		if d.file != nil {
			_ = d.file.Close()
		}
		d.file = f
	}
	d.paused = false
}

func (d *Device) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// Session is an acquired seat.
type Session interface {
	Kind() string
	Seat() string
	Guard() *Guard
	// Open takes a device. Opening a path twice returns the same Device.
	Open(path string) (*Device, error)
	// Release gives a device back.
	Release(d *Device) error
	SwitchVT(vt int) error
	Events() <-chan Event
	Close() error
}

// Options selects and configures the session facility.
type Options struct {
	// Kind is "auto", "logind" or "direct".
	Kind string
	Seat string
}

// Open acquires a session. "auto" tries logind first and falls back to
// direct VT control.
func Open(opts Options) (Session, error) {
	log := logger.With("session")
	if opts.Seat == "" {
		opts.Seat = "seat0"
	}

	switch opts.Kind {
	case "logind":
		return OpenLogind(opts.Seat)
	case "direct":
		return OpenDirect(opts.Seat)
	case "", "auto":
		s, err := OpenLogind(opts.Seat)
		if err == nil {
			return s, nil
		}
		log.Debug("logind unavailable, trying direct session", "err", err)
		d, derr := OpenDirect(opts.Seat)
		if derr != nil {
			return nil, fmt.Errorf("%w: logind: %v, direct: %v", ErrUnavailable, err, derr)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown session type %q", opts.Kind)
	}
}

// devnum returns the major and minor numbers of a device node.
func devnum(path string) (uint32, uint32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return 0, 0, fmt.Errorf("%s is not a character device", path)
	}
	rdev := uint64(st.Rdev)
	return unix.Major(rdev), unix.Minor(rdev), nil
}
