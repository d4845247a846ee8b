// Package native drives a seat directly: DRM connectors for output
// discovery, a framebuffer device for scanout and evdev nodes for input,
// all held through a logind or VT session.
package native

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/render"
	"github.com/bnema/anvil/internal/session"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

const (
	outputID output.ID = 1

	connectorPollInterval = 2 * time.Second
	// hotplugSettle gives udev time to fix up permissions on new nodes.
	hotplugSettle = 100 * time.Millisecond
)

// Options configures the native backend.
type Options struct {
	// Session is used when set; otherwise one is opened from
	// SessionKind and Seat and closed with the backend.
	Session     session.Session
	SessionKind string
	Seat        string

	DRMPath     string // e.g. /sys/class/drm
	Framebuffer string // e.g. /dev/fb0
	InputGlob   string // e.g. /dev/input/event*
	InputSysfs  string // e.g. /sys/class/input
	RefreshMHz  int
}

// Backend is the native adapter. It always redraws whole frames.
type Backend struct {
	opts   Options
	log    *log.Logger
	events *backend.Queue

	sess      session.Session
	ownsSess  bool
	fb        *fbdev
	frame     *backend.Framebuffer
	watcher   *fsnotify.Watcher
	epoch     time.Time
	connector connector

	mu      sync.Mutex
	mode    output.Mode
	present bool
	devices map[string]*inputDevice
	nextID  input.DeviceID
	timers  map[*time.Timer]struct{}
	closing bool

	done chan struct{}
	wg   conc.WaitGroup
}

// New returns an unstarted native backend.
func New(opts Options) (*Backend, error) {
	if opts.RefreshMHz <= 0 {
		opts.RefreshMHz = 60000
	}
	if opts.DRMPath == "" {
		opts.DRMPath = "/sys/class/drm"
	}
	if opts.Framebuffer == "" {
		opts.Framebuffer = "/dev/fb0"
	}
	if opts.InputGlob == "" {
		opts.InputGlob = "/dev/input/event*"
	}
	if opts.InputSysfs == "" {
		opts.InputSysfs = "/sys/class/input"
	}
	events, err := backend.NewQueue()
	if err != nil {
		return nil, err
	}
	return &Backend{
		opts:    opts,
		log:     logger.With("native"),
		events:  events,
		devices: make(map[string]*inputDevice),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
	}, nil
}

func (b *Backend) Kind() backend.Kind            { return backend.KindNative }
func (b *Backend) Fd() int                       { return b.events.Fd() }
func (b *Backend) Poll() iter.Seq[backend.Event] { return b.events.Poll() }
func (b *Backend) PartialDamage() bool           { return false }

// Start acquires the session, maps the framebuffer and opens input devices.
func (b *Backend) Start(ctx context.Context) error {
	b.sess = b.opts.Session
	if b.sess == nil {
		s, err := session.Open(session.Options{Kind: b.opts.SessionKind, Seat: b.opts.Seat})
		if err != nil {
			return err
		}
		b.sess, b.ownsSess = s, true
	}
	b.log.Info("session acquired", "type", b.sess.Kind(), "seat", b.sess.Seat())

	fb, err := openFbdev(b.opts.Framebuffer)
	if err != nil {
		return err
	}
	b.fb = fb
	b.mode = output.Mode{Width: int32(fb.size.X), Height: int32(fb.size.Y), Refresh: int32(b.opts.RefreshMHz)}
	b.frame = backend.NewFramebuffer(outputID, fb.size)
	b.epoch = time.Now()

	conns, err := scanConnectors(b.opts.DRMPath)
	if err != nil {
		b.log.Warn("connector discovery failed, using framebuffer only", "err", err)
	}
	if c, ok := firstConnected(conns); ok {
		b.connector = c
		b.log.Info("scanning out connector", "card", c.Card, "connector", c.Name, "modes", len(c.Modes), "fb", fb.size)
	}
	b.present = true

	if err := ctx.Err(); err != nil {
		return err
	}

	paths, err := filepath.Glob(b.opts.InputGlob)
	if err != nil {
		return fmt.Errorf("bad input glob: %w", err)
	}
	for _, path := range paths {
		b.addDevice(path)
	}
	if err := b.watchInput(); err != nil {
		b.log.Warn("input hot-plug disabled", "err", err)
	}

	b.wg.Go(b.sessionEvents)
	b.wg.Go(b.pollConnectors)
	return nil
}

func (b *Backend) outputInfo() output.Info {
	name := "fb0"
	if b.connector.Name != "" {
		name = b.connector.Name
	}
	phys := b.connector.PhysMM
	if phys == [2]int{} {
		phys = b.fb.mmSize
	}
	return output.Info{
		ID:     outputID,
		Name:   name,
		Make:   b.connector.Card,
		Model:  "framebuffer",
		PhysMM: image.Pt(phys[0], phys[1]),
		Mode:   b.mode,
	}
}

// Outputs reports the scanned-out connector while it is connected.
func (b *Backend) Outputs() []output.Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.present || b.fb == nil {
		return nil
	}
	return []output.Info{b.outputInfo()}
}

// BeginFrame fails with ErrDeviceLost while the session is inactive.
func (b *Backend) BeginFrame(id output.ID) (*render.Target, error) {
	b.mu.Lock()
	present := b.present
	b.mu.Unlock()
	if id != outputID || !present {
		return nil, fmt.Errorf("%w: %d", backend.ErrUnknownOutput, id)
	}
	if !b.sess.Guard().Active() {
		return nil, backend.ErrDeviceLost
	}
	return b.frame.Target(), nil
}

// SubmitFrame copies the frame to scanout memory and reports presentation
// at the next refresh tick. Frames submitted while inactive are dropped.
func (b *Backend) SubmitFrame(t *render.Target, damage region.Region) error {
	err := b.sess.Guard().Do(func() error {
		b.fb.blit(t.Image, []image.Rectangle{t.Image.Bounds()})
		return nil
	})
	if errors.Is(err, session.ErrInactive) {
		b.log.Debug("dropping frame while session is inactive")
		return nil
	}
	if err != nil {
		return err
	}

	wait := nextRefresh(b.epoch, time.Now(), b.mode.Interval())
	b.after(wait, func() {
		b.events.Push(backend.FramePresented{Output: outputID, Time: time.Now()})
	})
	return nil
}

// after runs f once d has elapsed unless the backend is closed first.
func (b *Backend) after(d time.Duration, f func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closing {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		b.mu.Lock()
		_, pending := b.timers[t]
		delete(b.timers, t)
		b.mu.Unlock()
		if pending {
			f()
		}
	})
	b.timers[t] = struct{}{}
}

// nextRefresh returns how long until the next refresh tick of a clock
// that started at epoch.
func nextRefresh(epoch, now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	elapsed := now.Sub(epoch)
	return interval - elapsed%interval
}

// SwitchVT asks the session to change virtual terminal.
func (b *Backend) SwitchVT(vt int) error {
	return b.sess.SwitchVT(vt)
}

func (b *Backend) sessionEvents() {
	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-b.sess.Events():
			if !ok {
				return
			}
			b.handleSessionEvent(ev)
		}
	}
}

func (b *Backend) handleSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.Paused:
		b.log.Info("session paused")
		b.events.Push(backend.SessionPaused{})
	case session.Resumed:
		b.log.Info("session resumed")
		b.events.Push(backend.SessionResumed{})
	case session.DeviceResumed:
		if d := b.deviceFor(ev.Device); d != nil {
			b.startReader(d)
		}
	case session.DeviceGone:
		if d := b.deviceFor(ev.Device); d != nil {
			b.removeDevice(d.info.Path)
		}
	case session.DevicePaused:
		b.log.Debug("device paused", "path", ev.Device.Path)
	}
}

func (b *Backend) deviceFor(dev *session.Device) *inputDevice {
	if dev == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d.dev == dev {
			return d
		}
	}
	return nil
}

// pollConnectors reports the scanned-out connector going away and coming
// back. sysfs does not deliver inotify events, so it is polled.
func (b *Backend) pollConnectors() {
	if b.connector.Name == "" {
		return
	}
	ticker := time.NewTicker(connectorPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			conns, err := scanConnectors(b.opts.DRMPath)
			if err != nil {
				continue
			}
			b.updateConnector(conns)
		}
	}
}

func (b *Backend) updateConnector(conns []connector) {
	i := slices.IndexFunc(conns, func(c connector) bool {
		return c.Card == b.connector.Card && c.Name == b.connector.Name
	})
	connected := i >= 0 && conns[i].Connected

	b.mu.Lock()
	changed := connected != b.present
	b.present = connected
	info := b.outputInfo()
	b.mu.Unlock()

	switch {
	case !changed:
	case connected:
		b.log.Info("output connected", "connector", info.Name)
		b.events.Push(backend.OutputAdded{Info: info})
	default:
		b.log.Info("output disconnected", "connector", info.Name)
		b.events.Push(backend.OutputRemoved{ID: outputID})
	}
}

// Close releases devices, unmaps the framebuffer and closes the session if
// it was opened here.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	for t := range b.timers {
		t.Stop()
	}
	clear(b.timers)
	devices := make([]*inputDevice, 0, len(b.devices))
	for _, d := range b.devices {
		devices = append(devices, d)
	}
	clear(b.devices)
	b.mu.Unlock()

	close(b.done)
	var err error
	if b.watcher != nil {
		err = multierr.Append(err, b.watcher.Close())
	}
	for _, d := range devices {
		err = multierr.Append(err, b.sess.Release(d.dev))
	}
	b.wg.Wait()
	if b.fb != nil {
		err = multierr.Append(err, b.fb.close())
	}
	if b.ownsSess {
		err = multierr.Append(err, b.sess.Close())
	}
	return multierr.Append(err, b.events.Close())
}
