package eventloop

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer is a monotonic timerfd.
type Timer struct {
	fd int
}

// NewTimer creates a disarmed timer.
func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("timerfd_create: %w", err)
	}
	return &Timer{fd: fd}, nil
}

// Fd returns the readable descriptor.
func (t *Timer) Fd() int {
	return t.fd
}

// Arm fires once after d.
func (t *Timer) Arm(d time.Duration) error {
	return t.set(d, 0)
}

// ArmPeriodic fires every d, starting after d.
func (t *Timer) ArmPeriodic(d time.Duration) error {
	return t.set(d, d)
}

// Disarm stops the timer.
func (t *Timer) Disarm() error {
	return t.set(0, 0)
}

func (t *Timer) set(value, interval time.Duration) error {
	if value < 0 || interval < 0 {
		return fmt.Errorf("negative timer duration")
	}
	// A zero value disarms, so round the first expiry up.
	if value == 0 && interval > 0 {
		value = interval
	}
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(value.Nanoseconds()),
		Interval: unix.NsecToTimespec(interval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd_settime: %w", err)
	}
	return nil
}

// Expirations consumes and returns the number of expirations since the last
// call. Zero means the timer has not fired.
func (t *Timer) Expirations() uint64 {
	var buf [8]byte
	for {
		n, err := unix.Read(t.fd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n != 8 {
			return 0
		}
		return binary.NativeEndian.Uint64(buf[:])
	}
}

// Close releases the descriptor.
func (t *Timer) Close() error {
	return unix.Close(t.fd)
}
