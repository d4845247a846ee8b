package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/bnema/anvil/internal/ipc"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/render"
	"github.com/bnema/anvil/internal/surface"
)

const requestTimeout = 5 * time.Second

var errNotDebug = errors.New("surface was not added over the control socket")

// HandleRequest serves a control socket request on the loop goroutine. It
// is called from socket goroutines.
func (c *Compositor) HandleRequest(ctx context.Context, req *ipc.Request) *ipc.Response {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reply := make(chan *ipc.Response, 1)
	c.requests.Push(func() { reply <- c.handleControl(req) })

	select {
	case resp := <-reply:
		return resp
	case <-ctx.Done():
		return &ipc.Response{Error: fmt.Sprintf("%s: %v", req.Op, ctx.Err())}
	}
}

func (c *Compositor) handleControl(req *ipc.Request) *ipc.Response {
	switch req.Op {
	case ipc.OpStatus:
		return &ipc.Response{Status: c.Status()}

	case ipc.OpAddSurface:
		rect, err := req.SurfaceRect()
		if err != nil {
			return &ipc.Response{Error: err.Error()}
		}
		h, err := c.AddDebugSurface(req.Title, rect, rgba(req.Color))
		if err != nil {
			return &ipc.Response{Error: err.Error()}
		}
		return &ipc.Response{Handle: h.Pack()}

	case ipc.OpRemoveSurface:
		if err := c.RemoveDebugSurface(surface.Unpack(req.Handle)); err != nil {
			return &ipc.Response{Error: err.Error()}
		}
		return &ipc.Response{}

	case ipc.OpToggleOverlay:
		c.setOverlay(!c.pipeline.Overlay())
		return &ipc.Response{}

	case ipc.OpQuit:
		c.log.Info("quit requested over control socket")
		c.Quit()
		return &ipc.Response{}

	default:
		return &ipc.Response{Error: fmt.Sprintf("unsupported request %s", req.Op)}
	}
}

// AddDebugSurface maps a solid colour toplevel covering rect. Each side is
// limited to ipc.MaxSurfaceSide.
func (c *Compositor) AddDebugSurface(title string, rect image.Rectangle, col color.Color) (surface.Handle, error) {
	if w, h := rect.Dx(), rect.Dy(); w <= 0 || h <= 0 || w > ipc.MaxSurfaceSide || h > ipc.MaxSurfaceSide {
		return surface.Handle{}, fmt.Errorf("invalid surface size %dx%d", w, h)
	}
	h := c.CreateSurface(surface.RoleToplevel, title, "control")
	if err := c.MoveSurface(h, rect.Min); err != nil {
		return surface.Handle{}, err
	}
	buf := render.NewSolidBuffer(rect.Size(), col)
	if err := c.CommitSurface(h, buf, region.New(image.Rectangle{Max: rect.Size()})); err != nil {
		return surface.Handle{}, err
	}
	c.debug[h] = true
	return h, nil
}

// RemoveDebugSurface destroys a surface made by AddDebugSurface.
func (c *Compositor) RemoveDebugSurface(h surface.Handle) error {
	if !c.debug[h] {
		if _, ok := c.store.Get(h); !ok {
			return fmt.Errorf("%w: %s", surface.ErrStale, h)
		}
		return errNotDebug
	}
	return c.DestroySurface(h)
}

// Status snapshots the compositor for the control socket.
func (c *Compositor) Status() *ipc.Status {
	now := time.Now()
	st := &ipc.Status{
		Backend:       string(c.backend.Kind()),
		Paused:        c.paused,
		Overlay:       c.pipeline.Overlay(),
		XWayland:      c.XWaylandDisplay(),
		PointerFocus:  c.seat.PointerFocus().Pack(),
		KeyboardFocus: c.seat.KeyboardFocus().Pack(),
	}
	if !c.started.IsZero() {
		st.UptimeSeconds = int64(now.Sub(c.started).Seconds())
	}

	for _, o := range c.outputs.All() {
		b := o.Bounds()
		stats := o.Stats()
		info := o.Info()
		entry := ipc.OutputStatus{
			ID:         uint32(o.ID()),
			Name:       o.Name(),
			Mode:       o.Mode().String(),
			X:          int32(b.Min.X),
			Y:          int32(b.Min.Y),
			State:      o.State().String(),
			Rendered:   stats.Rendered,
			Presented:  stats.Presented,
			Dropped:    stats.Dropped,
			PhysWidth:  int32(info.PhysMM.X),
			PhysHeight: int32(info.PhysMM.Y),
		}
		if o.Suspended() {
			entry.State = "suspended"
		}
		if f := c.fps[o.ID()]; f != nil {
			entry.FPS = f.Value(now)
		}
		st.Outputs = append(st.Outputs, entry)
	}

	for _, surf := range c.store.All() {
		ss := ipc.SurfaceStatus{
			Handle: surf.Handle.Pack(),
			Title:  surf.Title,
			Role:   surf.Role.String(),
			Mapped: surf.Mapped(),
			Debug:  c.debug[surf.Handle],
		}
		if b, ok := c.store.Bounds(surf.Handle); ok {
			ss.X, ss.Y = int32(b.Min.X), int32(b.Min.Y)
			ss.Width, ss.Height = int32(b.Dx()), int32(b.Dy())
		}
		st.Surfaces = append(st.Surfaces, ss)
	}

	for _, d := range c.seat.Devices() {
		st.Devices = append(st.Devices, ipc.DeviceStatus{
			ID:   uint32(d.ID),
			Name: d.Name,
			Caps: d.Caps.String(),
		})
	}
	return st
}

// rgba decodes 0xRRGGBBAA.
func rgba(v uint32) color.Color {
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}
