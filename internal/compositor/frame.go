package compositor

import (
	"errors"
	"image"
	"time"

	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/render"
	"github.com/bnema/anvil/internal/surface"
)

// flush renders every output with a pending frame request.
func (c *Compositor) flush() {
	if c.paused {
		return
	}
	for _, o := range c.outputs.Requested() {
		c.renderOutput(o)
	}
}

func (c *Compositor) renderOutput(o *output.Output) {
	damage, ok := o.BeginRender()
	if !ok {
		return
	}

	t, err := c.backend.BeginFrame(o.ID())
	if err != nil {
		o.Abort()
		if !errors.Is(err, backend.ErrDeviceLost) {
			c.log.Warn("failed to acquire frame", "output", o.Name(), "err", err)
		}
		return
	}

	var fps float64
	if f := c.fps[o.ID()]; f != nil {
		fps = f.Value(time.Now())
	}
	res := c.pipeline.Render(o, t, damage, c.backend.PartialDamage(), render.Scene{
		Cursor:        c.seat.Cursor(),
		CursorSurface: c.seat.CursorSurface(),
		FPS:           fps,
	})
	for _, err := range res.Skipped {
		c.log.Debug("surface skipped", "output", o.Name(), "err", err)
	}

	// The session may have paused while drawing.
	if o.State() != output.Rendering {
		return
	}
	if err := c.backend.SubmitFrame(t, res.Damage); err != nil {
		o.Abort()
		c.log.Warn("failed to submit frame", "output", o.Name(), "err", err)
		return
	}
	o.Submitted()
}

// frameDone tells clients visible on o that their content reached the
// screen.
func (c *Compositor) frameDone(o *output.Output, at time.Time) {
	bounds := o.Bounds()
	c.store.Walk(func(surf *surface.Surface, origin image.Point) {
		if surf.LocalBounds().Add(origin).Overlaps(bounds) {
			c.clients.FrameDone(surf.Handle, at)
		}
	})
	if h := c.seat.CursorSurface(); !h.IsZero() {
		if c.pipeline.CursorBounds(c.seat.Cursor(), h).Overlaps(bounds) {
			c.clients.FrameDone(h, at)
		}
	}
}

func (c *Compositor) cursorMoved(from, to image.Point) {
	h := c.seat.CursorSurface()
	damage := region.New(c.pipeline.CursorBounds(from, h), c.pipeline.CursorBounds(to, h))
	if r, ok := c.pipeline.DragIconBounds(from); ok {
		damage.Add(r)
		r, _ = c.pipeline.DragIconBounds(to)
		damage.Add(r)
	}
	c.damage(damage)
}

func (c *Compositor) cursorImage(from, to surface.Handle) {
	pos := c.seat.Cursor()
	c.damage(region.New(c.pipeline.CursorBounds(pos, from), c.pipeline.CursorBounds(pos, to)))
}

func (c *Compositor) activated(h surface.Handle) {
	if damage, ok := c.store.Raise(h); ok {
		c.damage(damage)
	}
}

func (c *Compositor) binding(b input.Binding) {
	c.log.Debug("key binding", "action", b.Action)
	switch b.Action {
	case input.ActionQuit:
		c.Quit()
	case input.ActionSwitchVT:
		vt, ok := c.backend.(backend.VTSwitcher)
		if !ok {
			c.log.Debug("backend cannot switch VT", "backend", c.backend.Kind())
			return
		}
		if err := vt.SwitchVT(b.VT); err != nil {
			c.log.Warn("failed to switch VT", "vt", b.VT, "err", err)
		}
	case input.ActionToggleOverlay:
		c.setOverlay(!c.pipeline.Overlay())
	}
}

// setOverlay toggles the FPS overlay and the timer that keeps it current.
func (c *Compositor) setOverlay(on bool) {
	c.pipeline.SetOverlay(on)
	c.damageOverlay()

	var err error
	if on {
		err = c.redraw.ArmPeriodic(c.opts.MinRedrawInterval)
	} else {
		err = c.redraw.Disarm()
	}
	if err != nil {
		c.log.Warn("failed to set redraw timer", "err", err)
	}
}
