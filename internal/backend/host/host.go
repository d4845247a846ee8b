// Package host runs the compositor inside a window of a parent Wayland
// session.
package host

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/render"
	"github.com/charmbracelet/log"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	xdg_shell "github.com/rajveermalviya/go-wayland/wayland/stable/xdg-shell"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	outputID    output.ID      = 1
	pointerDev  input.DeviceID = 1
	keyboardDev input.DeviceID = 2
)

// Options configures the host window.
type Options struct {
	// Display is the parent WAYLAND_DISPLAY, empty for the environment's.
	Display    string
	Width      int
	Height     int
	Title      string
	RefreshMHz int
}

// Backend is a host window adapter. The host never revokes access, so it
// never pauses.
type Backend struct {
	opts   Options
	log    *log.Logger
	events *backend.Queue

	display    *client.Display
	wl         *client.Context
	registry   *client.Registry
	compositor *client.Compositor
	shm        *client.Shm
	seat       *client.Seat
	wmBase     *xdg_shell.WmBase
	surface    *client.Surface
	xdgSurface *xdg_shell.Surface
	toplevel   *xdg_shell.Toplevel

	mu         sync.Mutex
	mode       output.Mode
	configured bool
	frame      *backend.Framebuffer
	buffers    []*shmBuffer
	pointer    *client.Pointer
	keyboard   *client.Keyboard
	heldKeys   []uint32
	closing    bool

	wg conc.WaitGroup
}

// New returns an unconnected host backend.
func New(opts Options) (*Backend, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid host window size %dx%d", opts.Width, opts.Height)
	}
	if opts.RefreshMHz <= 0 {
		opts.RefreshMHz = 60000
	}
	if opts.Title == "" {
		opts.Title = "anvil"
	}
	events, err := backend.NewQueue()
	if err != nil {
		return nil, err
	}
	return &Backend{
		opts:   opts,
		log:    logger.With("host"),
		events: events,
		mode:   output.Mode{Width: int32(opts.Width), Height: int32(opts.Height), Refresh: int32(opts.RefreshMHz)},
		frame:  backend.NewFramebuffer(outputID, image.Pt(opts.Width, opts.Height)),
	}, nil
}

func (b *Backend) Kind() backend.Kind            { return backend.KindHost }
func (b *Backend) Fd() int                       { return b.events.Fd() }
func (b *Backend) Poll() iter.Seq[backend.Event] { return b.events.Poll() }
func (b *Backend) PartialDamage() bool           { return true }

// Start connects to the parent compositor and maps the window.
func (b *Backend) Start(ctx context.Context) error {
	display, err := client.Connect(b.opts.Display)
	if err != nil {
		return fmt.Errorf("failed to connect to Wayland display: %w", err)
	}
	b.display = display
	b.wl = display.Context()

	if err := b.bindGlobals(); err != nil {
		return err
	}
	if err := b.createWindow(); err != nil {
		return err
	}
	for !b.isConfigured() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.wl.Dispatch(); err != nil {
			return fmt.Errorf("waiting for window configure: %w", err)
		}
	}

	b.wg.Go(b.dispatch)
	b.log.Info("host window ready", "mode", b.mode, "title", b.opts.Title)
	return nil
}

func (b *Backend) isConfigured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.configured
}

func (b *Backend) bindGlobals() error {
	registry, err := b.display.GetRegistry()
	if err != nil {
		return fmt.Errorf("failed to get registry: %w", err)
	}
	b.registry = registry

	registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		var err error
		switch e.Interface {
		case client.CompositorInterfaceName:
			b.compositor = client.NewCompositor(b.wl)
			err = registry.Bind(e.Name, e.Interface, min(e.Version, 4), b.compositor)
		case client.ShmInterfaceName:
			b.shm = client.NewShm(b.wl)
			err = registry.Bind(e.Name, e.Interface, 1, b.shm)
		case xdg_shell.WmBaseInterfaceName:
			b.wmBase = xdg_shell.NewWmBase(b.wl)
			err = registry.Bind(e.Name, e.Interface, 1, b.wmBase)
			b.wmBase.SetPingHandler(func(e xdg_shell.WmBasePingEvent) {
				_ = b.wmBase.Pong(e.Serial)
			})
		case client.SeatInterfaceName:
			if b.seat != nil {
				return
			}
			b.seat = client.NewSeat(b.wl)
			err = registry.Bind(e.Name, e.Interface, min(e.Version, 5), b.seat)
			b.seat.SetCapabilitiesHandler(b.handleCapabilities)
		}
		if err != nil {
			b.log.Warn("failed to bind global", "interface", e.Interface, "err", err)
		}
	})

	if err := b.roundtrip(); err != nil {
		return err
	}
	switch {
	case b.compositor == nil:
		return errors.New("host has no wl_compositor")
	case b.shm == nil:
		return errors.New("host has no wl_shm")
	case b.wmBase == nil:
		return errors.New("host has no xdg_wm_base")
	}
	return nil
}

func (b *Backend) roundtrip() error {
	cb, err := b.display.Sync()
	if err != nil {
		return fmt.Errorf("failed to sync display: %w", err)
	}
	done := false
	cb.SetDoneHandler(func(client.CallbackDoneEvent) { done = true })
	for !done {
		if err := b.wl.Dispatch(); err != nil {
			return fmt.Errorf("roundtrip: %w", err)
		}
	}
	return nil
}

func (b *Backend) createWindow() error {
	var err error
	if b.surface, err = b.compositor.CreateSurface(); err != nil {
		return fmt.Errorf("failed to create surface: %w", err)
	}
	if b.xdgSurface, err = b.wmBase.GetXdgSurface(b.surface); err != nil {
		return fmt.Errorf("failed to create xdg surface: %w", err)
	}
	b.xdgSurface.SetConfigureHandler(func(e xdg_shell.SurfaceConfigureEvent) {
		_ = b.xdgSurface.AckConfigure(e.Serial)
		b.mu.Lock()
		b.configured = true
		b.mu.Unlock()
	})

	if b.toplevel, err = b.xdgSurface.GetToplevel(); err != nil {
		return fmt.Errorf("failed to create toplevel: %w", err)
	}
	b.toplevel.SetConfigureHandler(b.handleToplevelConfigure)
	b.toplevel.SetCloseHandler(func(xdg_shell.ToplevelCloseEvent) {
		b.log.Info("host window closed")
		b.events.Push(backend.CloseRequested{})
	})
	if err := b.toplevel.SetTitle(b.opts.Title); err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	if err := b.toplevel.SetAppId("anvil"); err != nil {
		return fmt.Errorf("failed to set app id: %w", err)
	}
	if err := b.surface.Commit(); err != nil {
		return fmt.Errorf("failed to commit surface: %w", err)
	}
	return nil
}

func (b *Backend) handleToplevelConfigure(e xdg_shell.ToplevelConfigureEvent) {
	// Zero means the host leaves the size to us.
	if e.Width <= 0 || e.Height <= 0 {
		return
	}
	b.mu.Lock()
	changed := e.Width != b.mode.Width || e.Height != b.mode.Height
	if changed {
		b.mode.Width, b.mode.Height = e.Width, e.Height
	}
	mode, started := b.mode, b.configured
	b.mu.Unlock()

	if changed && started {
		b.log.Debug("host window resized", "mode", mode)
		b.events.Push(backend.OutputModeChanged{ID: outputID, Mode: mode})
	}
}

func (b *Backend) dispatch() {
	for {
		err := b.wl.Dispatch()
		if err == nil {
			continue
		}
		b.mu.Lock()
		closing := b.closing
		b.mu.Unlock()
		if !closing {
			b.log.Error("lost connection to host compositor", "err", err)
			b.events.Push(backend.CloseRequested{})
		}
		return
	}
}

// Outputs reports the single window output.
func (b *Backend) Outputs() []output.Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []output.Info{{
		ID:    outputID,
		Name:  "host",
		Make:  "anvil",
		Model: "host window",
		Mode:  b.mode,
	}}
}

// BeginFrame returns the window frame sized to the current mode.
func (b *Backend) BeginFrame(id output.ID) (*render.Target, error) {
	if id != outputID {
		return nil, fmt.Errorf("%w: %d", backend.ErrUnknownOutput, id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame.Resize(b.mode.Size())
	return b.frame.Target(), nil
}

// SubmitFrame copies the damaged part of the frame into a free shm buffer
// and commits it. The host's frame callback completes the presentation.
func (b *Backend) SubmitFrame(t *render.Target, damage region.Region) error {
	b.mu.Lock()
	buf, err := b.freeBuffer(t.Image.Bounds().Size())
	if err != nil {
		b.mu.Unlock()
		return err
	}
	buf.stale.Union(damage)
	buf.copyFrom(t.Image, buf.stale.Take().Rects())
	for _, other := range b.buffers {
		if other != buf {
			other.stale.Union(damage)
		}
	}
	buf.busy = true
	b.mu.Unlock()

	if err := b.surface.Attach(buf.buffer, 0, 0); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	for _, r := range damage.Rects() {
		if err := b.surface.DamageBuffer(int32(r.Min.X), int32(r.Min.Y), int32(r.Dx()), int32(r.Dy())); err != nil {
			return fmt.Errorf("damage: %w", err)
		}
	}
	cb, err := b.surface.Frame()
	if err != nil {
		return fmt.Errorf("frame callback: %w", err)
	}
	cb.SetDoneHandler(func(client.CallbackDoneEvent) {
		b.events.Push(backend.FramePresented{Output: outputID, Time: time.Now()})
	})
	if err := b.surface.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// freeBuffer returns a released buffer of the given size, allocating one
// when all are in use. Called with b.mu held.
func (b *Backend) freeBuffer(size image.Point) (*shmBuffer, error) {
	b.buffers = slices.DeleteFunc(b.buffers, func(buf *shmBuffer) bool {
		if buf.size == size || buf.busy {
			return false
		}
		if err := buf.destroy(); err != nil {
			b.log.Debug("failed to destroy stale buffer", "err", err)
		}
		return true
	})
	for _, buf := range b.buffers {
		if !buf.busy && buf.size == size {
			return buf, nil
		}
	}

	buf, err := newShmBuffer(b.shm, size)
	if err != nil {
		return nil, err
	}
	buf.buffer.SetReleaseHandler(func(client.BufferReleaseEvent) {
		b.mu.Lock()
		buf.busy = false
		b.mu.Unlock()
	})
	b.buffers = append(b.buffers, buf)
	return buf, nil
}

func (b *Backend) handleCapabilities(e client.SeatCapabilitiesEvent) {
	hasPointer := e.Capabilities&uint32(client.SeatCapabilityPointer) != 0
	hasKeyboard := e.Capabilities&uint32(client.SeatCapabilityKeyboard) != 0

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case hasPointer && b.pointer == nil:
		p, err := b.seat.GetPointer()
		if err != nil {
			b.log.Warn("failed to get host pointer", "err", err)
			break
		}
		b.pointer = p
		b.setupPointer(p)
		b.events.Push(backend.InputDeviceAdded{Device: input.DeviceInfo{ID: pointerDev, Name: "host-pointer", Caps: input.CapPointer}})
	case !hasPointer && b.pointer != nil:
		_ = b.pointer.Release()
		b.pointer = nil
		b.events.Push(backend.InputDeviceRemoved{ID: pointerDev})
	}

	switch {
	case hasKeyboard && b.keyboard == nil:
		k, err := b.seat.GetKeyboard()
		if err != nil {
			b.log.Warn("failed to get host keyboard", "err", err)
			break
		}
		b.keyboard = k
		b.setupKeyboard(k)
		b.events.Push(backend.InputDeviceAdded{Device: input.DeviceInfo{ID: keyboardDev, Name: "host-keyboard", Caps: input.CapKeyboard}})
	case !hasKeyboard && b.keyboard != nil:
		_ = b.keyboard.Release()
		b.keyboard = nil
		b.heldKeys = nil
		b.events.Push(backend.InputDeviceRemoved{ID: keyboardDev})
	}
}

func (b *Backend) absolute(msec uint32, x, y float64) backend.Event {
	b.mu.Lock()
	w, h := b.mode.Width, b.mode.Height
	b.mu.Unlock()
	nx, ny := input.Normalize(x, y, float64(w), float64(h))
	return backend.Input{Event: input.PointerMotionAbsolute{
		Header: input.Header{Device: pointerDev, Msec: msec},
		Output: outputID,
		X:      nx,
		Y:      ny,
	}}
}

func (b *Backend) setupPointer(p *client.Pointer) {
	p.SetEnterHandler(func(e client.PointerEnterEvent) {
		// The compositor draws its own cursor.
		_ = p.SetCursor(e.Serial, nil, 0, 0)
		b.events.Push(b.absolute(0, e.SurfaceX, e.SurfaceY))
	})
	p.SetMotionHandler(func(e client.PointerMotionEvent) {
		b.events.Push(b.absolute(e.Time, e.SurfaceX, e.SurfaceY))
	})
	p.SetButtonHandler(func(e client.PointerButtonEvent) {
		b.events.Push(backend.Input{Event: input.PointerButton{
			Header:  input.Header{Device: pointerDev, Msec: e.Time},
			Button:  e.Button,
			Pressed: e.State == uint32(client.PointerButtonStatePressed),
		}})
	})
	p.SetAxisHandler(func(e client.PointerAxisEvent) {
		ev := input.PointerAxis{Header: input.Header{Device: pointerDev, Msec: e.Time}}
		if e.Axis == uint32(client.PointerAxisHorizontalScroll) {
			ev.Horizontal = e.Value
		} else {
			ev.Vertical = e.Value
		}
		b.events.Push(backend.Input{Event: ev})
	})
}

func (b *Backend) setupKeyboard(k *client.Keyboard) {
	k.SetKeymapHandler(func(e client.KeyboardKeymapEvent) {
		// Keys arrive as evdev codes; the host keymap is not needed.
		_ = unix.Close(e.Fd)
	})
	k.SetKeyHandler(func(e client.KeyboardKeyEvent) {
		pressed := e.State == uint32(client.KeyboardKeyStatePressed)
		b.mu.Lock()
		if pressed {
			b.heldKeys = append(b.heldKeys, e.Key)
		} else {
			b.heldKeys = slices.DeleteFunc(b.heldKeys, func(c uint32) bool { return c == e.Key })
		}
		b.mu.Unlock()
		b.events.Push(backend.Input{Event: input.Key{
			Header:  input.Header{Device: keyboardDev, Msec: e.Time},
			Code:    e.Key,
			Pressed: pressed,
		}})
	})
	k.SetLeaveHandler(func(client.KeyboardLeaveEvent) {
		// Keys released while unfocused are never reported.
		b.mu.Lock()
		held := b.heldKeys
		b.heldKeys = nil
		b.mu.Unlock()
		for _, code := range held {
			b.events.Push(backend.Input{Event: input.Key{
				Header: input.Header{Device: keyboardDev},
				Code:   code,
			}})
		}
	})
}

// Close destroys the window and disconnects.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closing = true
	buffers := b.buffers
	b.buffers = nil
	b.mu.Unlock()

	var err error
	if b.toplevel != nil {
		err = multierr.Append(err, b.toplevel.Destroy())
	}
	if b.xdgSurface != nil {
		err = multierr.Append(err, b.xdgSurface.Destroy())
	}
	if b.surface != nil {
		err = multierr.Append(err, b.surface.Destroy())
	}
	for _, buf := range buffers {
		err = multierr.Append(err, buf.destroy())
	}
	if b.wl != nil {
		err = multierr.Append(err, b.wl.Close())
	}
	b.wg.Wait()
	return multierr.Append(err, b.events.Close())
}
