// Package compositor wires a backend, the frame scheduler, the surface
// store, the seat and the render pipeline onto one event loop.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"iter"
	"time"

	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/eventloop"
	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/render"
	"github.com/bnema/anvil/internal/surface"
	"github.com/bnema/anvil/internal/xwayland"
	"github.com/charmbracelet/log"
	"go.uber.org/multierr"
)

var (
	// ErrNoOutputs means the backend reported no usable output at startup.
	ErrNoOutputs = errors.New("no usable output")
	// ErrNoDevices means the backend reported no input device at startup.
	ErrNoDevices = errors.New("no usable input device")
)

// Bridge is the XWayland process the compositor supervises.
type Bridge interface {
	Start(ctx context.Context) error
	Fd() int
	Poll() iter.Seq[xwayland.Event]
	Display() string
	Close() error
}

// Options configures a compositor.
type Options struct {
	Backend  backend.Backend
	Clients  Clients        // nil logs client notifications
	Importer render.Importer // nil samples ImageBuffer contents
	Bridge   Bridge          // nil disables XWayland

	Background        color.Color
	Overlay           bool
	MinRedrawInterval time.Duration
	Seat              input.SeatConfig
}

// Compositor is the core. All methods except Quit and HandleRequest must be
// called from the loop goroutine.
type Compositor struct {
	opts    Options
	log     *log.Logger
	backend backend.Backend
	clients Clients

	loop     *eventloop.Loop
	redraw   *eventloop.Timer
	requests *eventloop.Queue[func()]

	outputs  *output.Manager
	store    *surface.Store
	seat     *input.Seat
	pipeline *render.Pipeline
	fps      map[output.ID]*render.FPS

	bridge      Bridge
	bridgeToken eventloop.Token
	bridged     map[uint32]surface.Handle
	debug       map[surface.Handle]bool

	paused  bool
	started time.Time
}

// New builds a compositor around a backend. Nothing runs until Start.
func New(opts Options) (*Compositor, error) {
	if opts.Backend == nil {
		return nil, errors.New("compositor needs a backend")
	}
	if opts.Clients == nil {
		opts.Clients = NewLogClients()
	}
	if opts.Background == nil {
		opts.Background = color.RGBA{R: 0xcc, G: 0xcc, B: 0xe6, A: 0xff}
	}
	if opts.Seat.KeyboardLayout == "" {
		opts.Seat.KeyboardLayout = "us"
	}
	if opts.MinRedrawInterval <= 0 {
		opts.MinRedrawInterval = 250 * time.Millisecond
	}

	c := &Compositor{
		opts:    opts,
		log:     logger.With("compositor"),
		backend: opts.Backend,
		clients: opts.Clients,
		outputs: output.NewManager(),
		store:   surface.NewStore(),
		fps:     make(map[output.ID]*render.FPS),
		bridged: make(map[uint32]surface.Handle),
		debug:   make(map[surface.Handle]bool),
	}
	c.pipeline = render.NewPipeline(c.store, opts.Importer, opts.Background)

	seat, err := input.NewSeat(opts.Seat, c.store, c.outputs, c.clients, input.Hooks{
		CursorMoved: c.cursorMoved,
		CursorImage: c.cursorImage,
		Activated:   c.activated,
		Binding:     c.binding,
	})
	if err != nil {
		return nil, err
	}
	c.seat = seat

	var cerr error
	if c.loop, cerr = eventloop.New(); cerr != nil {
		return nil, cerr
	}
	if c.redraw, cerr = eventloop.NewTimer(); cerr != nil {
		return nil, multierr.Append(cerr, c.loop.Close())
	}
	if c.requests, cerr = eventloop.NewQueue[func()](); cerr != nil {
		return nil, multierr.Combine(cerr, c.redraw.Close(), c.loop.Close())
	}
	return c, nil
}

// Start starts the backend, takes over its outputs and devices, and
// schedules the first frame on every output.
func (c *Compositor) Start(ctx context.Context) error {
	if err := c.backend.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s backend: %w", c.backend.Kind(), err)
	}
	for _, info := range c.backend.Outputs() {
		c.addOutput(info)
	}

	c.loop.Add("backend", c.backend.Fd(), c.source(c.dispatchBackend))
	c.loop.Add("redraw", c.redraw.Fd(), c.source(c.onRedrawTimer))
	c.loop.Add("control", c.requests.Fd(), c.source(c.dispatchRequests))

	// Devices present at startup arrive as events.
	if err := c.dispatchBackend(); err != nil {
		return err
	}
	if c.outputs.Len() == 0 {
		return ErrNoOutputs
	}
	if len(c.seat.Devices()) == 0 {
		return ErrNoDevices
	}

	if c.opts.Overlay {
		c.setOverlay(true)
	}
	if c.opts.Bridge != nil {
		c.startBridge(ctx, c.opts.Bridge)
	}

	c.started = time.Now()
	c.outputs.DamageAll()
	c.flush()
	c.log.Info("compositor started", "backend", c.backend.Kind(), "outputs", c.outputs.Len(), "devices", len(c.seat.Devices()))
	return nil
}

// Run dispatches until Quit is called, the backend closes or ctx is done.
func (c *Compositor) Run(ctx context.Context) error {
	return c.loop.Run(ctx)
}

// Quit stops Run after the current dispatch. Safe from any goroutine.
func (c *Compositor) Quit() {
	c.loop.Stop()
}

// Close tears down the bridge and the backend.
func (c *Compositor) Close() error {
	var err error
	if c.bridge != nil {
		err = multierr.Append(err, c.bridge.Close())
		c.bridge = nil
	}
	err = multierr.Append(err, c.backend.Close())
	err = multierr.Append(err, c.redraw.Close())
	err = multierr.Append(err, c.requests.Close())
	return multierr.Append(err, c.loop.Close())
}

// source wraps a loop callback so that frames requested while handling it
// are rendered before the loop blocks again.
func (c *Compositor) source(fn func() error) eventloop.Callback {
	return func() error {
		err := fn()
		c.flush()
		return err
	}
}

func (c *Compositor) dispatchBackend() error {
	for ev := range c.backend.Poll() {
		c.HandleEvent(ev)
	}
	return nil
}

func (c *Compositor) dispatchRequests() error {
	for fn := range c.requests.All() {
		fn()
	}
	return nil
}

func (c *Compositor) onRedrawTimer() error {
	if c.redraw.Expirations() == 0 {
		return nil
	}
	if c.pipeline.Overlay() {
		c.damageOverlay()
	}
	return nil
}

// Store exposes the surface store to the protocol glue.
func (c *Compositor) Store() *surface.Store { return c.store }

// Seat exposes the seat to the protocol glue.
func (c *Compositor) Seat() *input.Seat { return c.seat }

// Outputs exposes the output layout.
func (c *Compositor) Outputs() *output.Manager { return c.outputs }
