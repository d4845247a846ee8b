// Package x11 runs the compositor inside a window of an X11 session.
package x11

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"sync"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/render"
	"github.com/bnema/anvil/internal/session"
	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

const (
	outputID    output.ID      = 1
	pointerDev  input.DeviceID = 1
	keyboardDev input.DeviceID = 2

	// putImageHeader is the fixed size of a PutImage request in bytes.
	putImageHeader = 24
)

const eventMask = xproto.EventMaskExposure |
	xproto.EventMaskKeyPress |
	xproto.EventMaskKeyRelease |
	xproto.EventMaskButtonPress |
	xproto.EventMaskButtonRelease |
	xproto.EventMaskPointerMotion |
	xproto.EventMaskStructureNotify |
	xproto.EventMaskFocusChange

// Options configures the nested window.
type Options struct {
	// Display is the X display, empty for $DISPLAY.
	Display    string
	Width      int
	Height     int
	Title      string
	RefreshMHz int
}

// Backend is a nested X11 adapter. Unmapping the window pauses output and
// losing the X connection is a device loss.
type Backend struct {
	opts   Options
	log    *log.Logger
	events *backend.Queue
	guard  *session.Guard

	conn        *xgb.Conn
	screen      *xproto.ScreenInfo
	window      xproto.Window
	gc          xproto.Gcontext
	maxRequest  int
	wmProtocols xproto.Atom
	wmDelete    xproto.Atom

	mu       sync.Mutex
	mode     output.Mode
	frame    *backend.Framebuffer
	lost     bool
	closing  bool
	heldKeys map[uint32]bool

	wg conc.WaitGroup
}

// New returns an unconnected X11 backend.
func New(opts Options) (*Backend, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid X11 window size %dx%d", opts.Width, opts.Height)
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
	mode := output.Mode{Width: int32(opts.Width), Height: int32(opts.Height), Refresh: int32(opts.RefreshMHz)}
	return &Backend{
		opts:     opts,
		log:      logger.With("x11"),
		events:   events,
		guard:    session.NewGuard(false),
		mode:     mode,
		frame:    backend.NewFramebuffer(outputID, mode.Size()),
		heldKeys: make(map[uint32]bool),
	}, nil
}

func (b *Backend) Kind() backend.Kind            { return backend.KindNestedX11 }
func (b *Backend) Fd() int                       { return b.events.Fd() }
func (b *Backend) Poll() iter.Seq[backend.Event] { return b.events.Poll() }
func (b *Backend) PartialDamage() bool           { return true }

// Start opens the display and creates the window.
func (b *Backend) Start(ctx context.Context) error {
	conn, err := xgb.NewConnDisplay(b.opts.Display)
	if err != nil {
		return fmt.Errorf("failed to connect to X display: %w", err)
	}
	b.conn = conn

	setup := xproto.Setup(conn)
	b.screen = setup.DefaultScreen(conn)
	b.maxRequest = int(setup.MaximumRequestLength) * 4
	if b.screen.RootDepth != 24 && b.screen.RootDepth != 32 {
		return fmt.Errorf("unsupported root depth %d", b.screen.RootDepth)
	}

	if err := b.createWindow(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.events.Push(
		backend.InputDeviceAdded{Device: input.DeviceInfo{ID: pointerDev, Name: "x11-pointer", Caps: input.CapPointer}},
		backend.InputDeviceAdded{Device: input.DeviceInfo{ID: keyboardDev, Name: "x11-keyboard", Caps: input.CapKeyboard}},
	)
	b.wg.Go(b.readEvents)
	b.log.Info("X11 window created", "window", b.window, "mode", b.mode)
	return nil
}

func (b *Backend) createWindow() error {
	wid, err := xproto.NewWindowId(b.conn)
	if err != nil {
		return fmt.Errorf("failed to allocate window id: %w", err)
	}
	b.window = wid

	err = xproto.CreateWindowChecked(
		b.conn,
		b.screen.RootDepth,
		wid,
		b.screen.Root,
		0, 0,
		uint16(b.mode.Width), uint16(b.mode.Height),
		0,
		xproto.WindowClassInputOutput,
		b.screen.RootVisual,
		xproto.CwBackPixel|xproto.CwEventMask,
		[]uint32{0, eventMask},
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if b.wmProtocols, err = b.atom("WM_PROTOCOLS"); err != nil {
		return err
	}
	if b.wmDelete, err = b.atom("WM_DELETE_WINDOW"); err != nil {
		return err
	}
	data := make([]byte, 4)
	xgb.Put32(data, uint32(b.wmDelete))
	xproto.ChangeProperty(b.conn, xproto.PropModeReplace, wid, b.wmProtocols, xproto.AtomAtom, 32, 1, data)
	xproto.ChangeProperty(b.conn, xproto.PropModeReplace, wid, xproto.AtomWmName, xproto.AtomString, 8,
		uint32(len(b.opts.Title)), []byte(b.opts.Title))

	if err := b.hideCursor(); err != nil {
		b.log.Debug("failed to hide host cursor", "err", err)
	}

	gc, err := xproto.NewGcontextId(b.conn)
	if err != nil {
		return fmt.Errorf("failed to allocate graphics context: %w", err)
	}
	b.gc = gc
	if err := xproto.CreateGCChecked(b.conn, gc, xproto.Drawable(wid), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}

	return xproto.MapWindowChecked(b.conn, wid).Check()
}

func (b *Backend) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern %s: %w", name, err)
	}
	return reply.Atom, nil
}

// hideCursor sets an empty cursor on the window; the compositor draws its own.
func (b *Backend) hideCursor() error {
	pix, err := xproto.NewPixmapId(b.conn)
	if err != nil {
		return err
	}
	if err := xproto.CreatePixmapChecked(b.conn, 1, pix, xproto.Drawable(b.window), 1, 1).Check(); err != nil {
		return err
	}
	defer xproto.FreePixmap(b.conn, pix)

	cursor, err := xproto.NewCursorId(b.conn)
	if err != nil {
		return err
	}
	if err := xproto.CreateCursorChecked(b.conn, cursor, pix, pix, 0, 0, 0, 0, 0, 0, 0, 0).Check(); err != nil {
		return err
	}
	return xproto.ChangeWindowAttributesChecked(b.conn, b.window, xproto.CwCursor, []uint32{uint32(cursor)}).Check()
}

// Outputs reports the window output.
func (b *Backend) Outputs() []output.Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []output.Info{{
		ID:    outputID,
		Name:  "x11",
		Make:  "anvil",
		Model: "X11 window",
		Mode:  b.mode,
	}}
}

// BeginFrame fails with ErrDeviceLost while the window is unmapped or the
// connection is gone.
func (b *Backend) BeginFrame(id output.ID) (*render.Target, error) {
	if id != outputID {
		return nil, fmt.Errorf("%w: %d", backend.ErrUnknownOutput, id)
	}
	if !b.guard.Active() {
		return nil, backend.ErrDeviceLost
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frame.Resize(b.mode.Size())
	return b.frame.Target(), nil
}

// SubmitFrame uploads the damaged rectangles and completes the frame after
// a round trip. A frame submitted after access was lost is dropped.
func (b *Backend) SubmitFrame(t *render.Target, damage region.Region) error {
	err := b.guard.Do(func() error {
		for _, r := range damage.Clip(t.Image.Bounds()).Rects() {
			b.putImage(t.Image, r)
		}
		return nil
	})
	if errors.Is(err, session.ErrInactive) {
		b.log.Debug("dropping frame while window is unavailable")
		return nil
	}
	if err != nil {
		return err
	}

	b.wg.Go(func() {
		// The reply arrives after the server processed every PutImage.
		if _, err := xproto.GetInputFocus(b.conn).Reply(); err != nil {
			b.log.Debug("presentation round trip failed", "err", err)
			return
		}
		b.events.Push(backend.FramePresented{Output: outputID, Time: time.Now()})
	})
	return nil
}

// putImage uploads one rectangle in strips that fit the request size limit.
func (b *Backend) putImage(img *image.RGBA, r image.Rectangle) {
	rows := stripRows(b.maxRequest, r.Dx())

	for y := r.Min.Y; y < r.Max.Y; y += rows {
		h := min(rows, r.Max.Y-y)
		strip := image.Rect(r.Min.X, y, r.Max.X, y+h)
		data := toBGRX(img, strip)
		xproto.PutImage(b.conn, xproto.ImageFormatZPixmap, xproto.Drawable(b.window), b.gc,
			uint16(strip.Dx()), uint16(strip.Dy()), int16(strip.Min.X), int16(strip.Min.Y),
			0, b.screen.RootDepth, data)
	}
}

// stripRows is how many rows of a width pixel wide strip fit in one request.
func stripRows(maxRequest, width int) int {
	return max((maxRequest-putImageHeader)/(width*4), 1)
}

// toBGRX converts a rectangle of an RGBA image to the ZPixmap layout of
// 24 and 32 bit little-endian visuals.
func toBGRX(img *image.RGBA, r image.Rectangle) []byte {
	out := make([]byte, r.Dx()*r.Dy()*4)
	i := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		s := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			out[i+0] = img.Pix[s+2]
			out[i+1] = img.Pix[s+1]
			out[i+2] = img.Pix[s+0]
			out[i+3] = 0xff
			i += 4
			s += 4
		}
	}
	return out
}

func (b *Backend) readEvents() {
	for {
		ev, xerr := b.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			b.connectionLost()
			return
		}
		if xerr != nil {
			b.log.Debug("X error", "err", xerr)
			continue
		}
		b.handleEvent(ev)
	}
}

func (b *Backend) connectionLost() {
	b.mu.Lock()
	closing := b.closing
	b.lost = true
	b.mu.Unlock()

	b.guard.Set(false)
	if !closing {
		b.log.Error("lost connection to X server")
		b.events.Push(backend.SessionPaused{}, backend.CloseRequested{})
	}
}

func (b *Backend) handleEvent(ev xgb.Event) {
	switch e := ev.(type) {
	case xproto.ExposeEvent:
		if e.Count == 0 {
			b.events.Push(backend.OutputDamaged{ID: outputID})
		}
	case xproto.ConfigureNotifyEvent:
		b.resize(int32(e.Width), int32(e.Height))
	case xproto.MapNotifyEvent:
		if b.guard.Set(true) {
			b.events.Push(backend.SessionResumed{})
		}
	case xproto.UnmapNotifyEvent:
		if b.guard.Set(false) {
			b.events.Push(backend.SessionPaused{})
		}
	case xproto.ClientMessageEvent:
		if e.Type == b.wmProtocols && e.Format == 32 && xproto.Atom(e.Data.Data32[0]) == b.wmDelete {
			b.log.Info("X11 window closed")
			b.events.Push(backend.CloseRequested{})
		}
	case xproto.MotionNotifyEvent:
		b.events.Push(b.motion(uint32(e.Time), e.EventX, e.EventY))
	case xproto.ButtonPressEvent:
		b.button(uint32(e.Time), uint8(e.Detail), true)
	case xproto.ButtonReleaseEvent:
		b.button(uint32(e.Time), uint8(e.Detail), false)
	case xproto.KeyPressEvent:
		b.key(uint32(e.Time), uint8(e.Detail), true)
	case xproto.KeyReleaseEvent:
		if b.isAutoRepeat(e) {
			return
		}
		b.key(uint32(e.Time), uint8(e.Detail), false)
	case xproto.FocusOutEvent:
		b.releaseKeys()
	}
}

// isAutoRepeat reports whether a release is half of a server autorepeat
// pair, and swallows the matching press.
func (b *Backend) isAutoRepeat(release xproto.KeyReleaseEvent) bool {
	next, err := b.conn.PollForEvent()
	if next == nil {
		if err != nil {
			b.log.Debug("X error", "err", err)
		}
		return false
	}
	if press, ok := next.(xproto.KeyPressEvent); ok && press.Detail == release.Detail && press.Time == release.Time {
		return true
	}
	// Not a repeat: handle the release first, then the event we peeked.
	b.key(uint32(release.Time), uint8(release.Detail), false)
	b.handleEvent(next)
	return true
}

func (b *Backend) resize(w, h int32) {
	b.mu.Lock()
	changed := w != b.mode.Width || h != b.mode.Height
	if changed {
		b.mode.Width, b.mode.Height = w, h
	}
	mode := b.mode
	b.mu.Unlock()
	if changed {
		b.events.Push(backend.OutputModeChanged{ID: outputID, Mode: mode})
	}
}

func (b *Backend) motion(t uint32, x, y int16) backend.Event {
	b.mu.Lock()
	w, h := b.mode.Width, b.mode.Height
	b.mu.Unlock()
	nx, ny := input.Normalize(float64(x), float64(y), float64(w), float64(h))
	return backend.Input{Event: input.PointerMotionAbsolute{
		Header: input.Header{Device: pointerDev, Msec: t},
		Output: outputID,
		X:      nx,
		Y:      ny,
	}}
}

func (b *Backend) button(t uint32, detail uint8, pressed bool) {
	btn, ok := input.FromX11Button(detail)
	if !ok {
		return
	}
	h := input.Header{Device: pointerDev, Msec: t}
	if btn.IsScroll() {
		// Scroll buttons send press and release; one step per press.
		if pressed {
			b.events.Push(backend.Input{Event: input.PointerAxis{Header: h, Horizontal: btn.Horizontal, Vertical: btn.Vertical}})
		}
		return
	}
	b.events.Push(backend.Input{Event: input.PointerButton{Header: h, Button: btn.Button, Pressed: pressed}})
}

func (b *Backend) key(t uint32, keycode uint8, pressed bool) {
	code, ok := input.FromX11Keycode(keycode)
	if !ok {
		return
	}
	b.mu.Lock()
	if pressed {
		b.heldKeys[code] = true
	} else {
		delete(b.heldKeys, code)
	}
	b.mu.Unlock()
	b.events.Push(backend.Input{Event: input.Key{
		Header:  input.Header{Device: keyboardDev, Msec: t},
		Code:    code,
		Pressed: pressed,
	}})
}

func (b *Backend) releaseKeys() {
	b.mu.Lock()
	held := make([]uint32, 0, len(b.heldKeys))
	for code := range b.heldKeys {
		held = append(held, code)
	}
	clear(b.heldKeys)
	b.mu.Unlock()

	for _, code := range held {
		b.events.Push(backend.Input{Event: input.Key{Header: input.Header{Device: keyboardDev}, Code: code}})
	}
}

// Close destroys the window and closes the connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closing = true
	b.mu.Unlock()

	var err error
	if b.conn != nil {
		if b.window != 0 {
			err = multierr.Append(err, xproto.DestroyWindowChecked(b.conn, b.window).Check())
		}
		b.conn.Close()
	}
	b.wg.Wait()
	return multierr.Append(err, b.events.Close())
}
