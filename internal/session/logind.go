package session

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/bnema/anvil/internal/logger"
	"github.com/charmbracelet/log"
	"github.com/godbus/dbus/v5"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

const (
	logindDest   = "org.freedesktop.login1"
	logindPath   = dbus.ObjectPath("/org/freedesktop/login1")
	managerIface = "org.freedesktop.login1.Manager"
	sessionIface = "org.freedesktop.login1.Session"
	seatIface    = "org.freedesktop.login1.Seat"
	propsIface   = "org.freedesktop.DBus.Properties"
)

// busObject is the part of dbus.BusObject the session uses.
type busObject interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Logind is a session managed by systemd-logind over the system bus.
type Logind struct {
	conn    *dbus.Conn
	session busObject
	seatObj busObject
	path    dbus.ObjectPath
	seat    string
	guard   *Guard
	log     *log.Logger

	mu      sync.Mutex
	devices map[uint64]*Device

	signals chan *dbus.Signal
	events  chan Event
	done    chan struct{}
	wg      conc.WaitGroup
}

// OpenLogind finds the caller's logind session and takes control of it.
func OpenLogind(seat string) (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	path, err := findSession(conn.Object(logindDest, logindPath))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	session := conn.Object(logindDest, path)

	v, err := session.GetProperty(sessionIface + ".Active")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	active, _ := v.Value().(bool)

	if err := session.Call(sessionIface+".TakeControl", 0, false).Err; err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to take control of session %s: %w", path, err)
	}

	l := newLogind(session, path, seat, active)
	l.conn = conn
	l.seatObj = conn.Object(logindDest, dbus.ObjectPath("/org/freedesktop/login1/seat/"+seat))

	if err := conn.AddMatchSignal(dbus.WithMatchObjectPath(path), dbus.WithMatchInterface(sessionIface)); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to watch session signals: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to watch session properties: %w", err)
	}
	conn.Signal(l.signals)
	l.wg.Go(l.listen)

	l.log.Info("took control of logind session", "path", path, "seat", seat, "active", active)
	return l, nil
}

func newLogind(session busObject, path dbus.ObjectPath, seat string, active bool) *Logind {
	return &Logind{
		session: session,
		path:    path,
		seat:    seat,
		guard:   NewGuard(active),
		log:     logger.With("logind"),
		devices: make(map[uint64]*Device),
		signals: make(chan *dbus.Signal, 16),
		events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
}

func findSession(manager busObject) (dbus.ObjectPath, error) {
	var path dbus.ObjectPath
	var err error
	if id := os.Getenv("XDG_SESSION_ID"); id != "" {
		err = manager.Call(managerIface+".GetSession", 0, id).Store(&path)
	} else {
		err = manager.Call(managerIface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to find logind session: %w", err)
	}
	return path, nil
}

func (l *Logind) Kind() string         { return "logind" }
func (l *Logind) Seat() string         { return l.seat }
func (l *Logind) Guard() *Guard        { return l.guard }
func (l *Logind) Events() <-chan Event { return l.events }

func devKey(major, minor uint32) uint64 {
	return uint64(major)<<32 | uint64(minor)
}

// Open takes a device from logind. The returned descriptor is revoked by
// logind when the session is paused.
func (l *Logind) Open(path string) (*Device, error) {
	major, minor, err := devnum(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.devices[devKey(major, minor)]; ok {
		return d, nil
	}

	var fd dbus.UnixFD
	var inactive bool
	if err := l.session.Call(sessionIface+".TakeDevice", 0, major, minor).Store(&fd, &inactive); err != nil {
		return nil, fmt.Errorf("failed to take device %s: %w", path, err)
	}
	d := &Device{
		Path:   path,
		Major:  major,
		Minor:  minor,
		file:   os.NewFile(uintptr(fd), path),
		paused: inactive,
	}
	l.devices[devKey(major, minor)] = d
	l.log.Debug("took device", "path", path, "major", major, "minor", minor, "inactive", inactive)
	return d, nil
}

// Release hands a device back to logind.
func (l *Logind) Release(d *Device) error {
	l.mu.Lock()
	delete(l.devices, devKey(d.Major, d.Minor))
	l.mu.Unlock()

	err := l.session.Call(sessionIface+".ReleaseDevice", 0, d.Major, d.Minor).Err
	return multierr.Append(err, d.close())
}

// SwitchVT asks logind to activate another virtual terminal on the seat.
func (l *Logind) SwitchVT(vt int) error {
	if l.seatObj == nil {
		return fmt.Errorf("seat %s is not available", l.seat)
	}
	if err := l.seatObj.Call(seatIface+".SwitchTo", 0, uint32(vt)).Err; err != nil {
		return fmt.Errorf("failed to switch to vt%d: %w", vt, err)
	}
	return nil
}

func (l *Logind) device(major, minor uint32) *Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.devices[devKey(major, minor)]
}

func (l *Logind) listen() {
	for {
		select {
		case <-l.done:
			return
		case sig, ok := <-l.signals:
			if !ok {
				return
			}
			l.handleSignal(sig)
		}
	}
}

func (l *Logind) handleSignal(sig *dbus.Signal) {
	if sig.Path != l.path {
		return
	}

	switch sig.Name {
	case sessionIface + ".PauseDevice":
		var major, minor uint32
		var kind string
		if err := dbus.Store(sig.Body, &major, &minor, &kind); err != nil {
			l.log.Warn("malformed PauseDevice signal", "err", err)
			return
		}
		d := l.device(major, minor)
		if d == nil {
			return
		}
		d.pause()
		if kind == "gone" {
			l.emit(Event{Kind: DeviceGone, Device: d})
			return
		}
		// "force" pauses have already happened; "pause" waits for us.
		if kind == "pause" {
			if err := l.session.Call(sessionIface+".PauseDeviceComplete", 0, major, minor).Err; err != nil {
				l.log.Warn("failed to acknowledge device pause", "path", d.Path, "err", err)
			}
		}
		l.emit(Event{Kind: DevicePaused, Device: d})

	case sessionIface + ".ResumeDevice":
		var major, minor uint32
		var fd dbus.UnixFD
		if err := dbus.Store(sig.Body, &major, &minor, &fd); err != nil {
			l.log.Warn("malformed ResumeDevice signal", "err", err)
			return
		}
		d := l.device(major, minor)
		if d == nil {
			return
		}
		d.resume(os.NewFile(uintptr(fd), d.Path))
		l.emit(Event{Kind: DeviceResumed, Device: d})

	case propsIface + ".PropertiesChanged":
		var iface string
		var changed map[string]dbus.Variant
		var invalidated []string
		if err := dbus.Store(sig.Body, &iface, &changed, &invalidated); err != nil || iface != sessionIface {
			return
		}
		if v, ok := changed["Active"]; ok {
			if active, ok := v.Value().(bool); ok {
				l.setActive(active)
			}
			return
		}
		if slices.Contains(invalidated, "Active") {
			var v dbus.Variant
			if err := l.session.Call(propsIface+".Get", 0, sessionIface, "Active").Store(&v); err == nil {
				if active, ok := v.Value().(bool); ok {
					l.setActive(active)
				}
			}
		}
	}
}

func (l *Logind) setActive(active bool) {
	if !l.guard.Set(active) {
		return
	}
	if active {
		l.log.Info("session resumed")
		l.emit(Event{Kind: Resumed})
	} else {
		l.log.Info("session paused")
		l.emit(Event{Kind: Paused})
	}
}

func (l *Logind) emit(ev Event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// Close releases every device and gives up control of the session.
func (l *Logind) Close() error {
	select {
	case <-l.done:
		return nil
	default:
	}
	close(l.done)
	if l.conn != nil {
		l.conn.RemoveSignal(l.signals)
	}
	l.wg.Wait()

	var err error
	l.mu.Lock()
	devices := make([]*Device, 0, len(l.devices))
	for _, d := range l.devices {
		devices = append(devices, d)
	}
	l.mu.Unlock()
	for _, d := range devices {
		err = multierr.Append(err, l.Release(d))
	}

	err = multierr.Append(err, l.session.Call(sessionIface+".ReleaseControl", 0).Err)
	if l.conn != nil {
		err = multierr.Append(err, l.conn.Close())
	}
	return err
}
