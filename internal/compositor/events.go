package compositor

import (
	"time"

	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/render"
)

// HandleEvent applies one backend event.
func (c *Compositor) HandleEvent(ev backend.Event) {
	switch e := ev.(type) {
	case backend.OutputAdded:
		c.addOutput(e.Info)

	case backend.OutputRemoved:
		c.removeOutput(e.ID)

	case backend.OutputModeChanged:
		if c.outputs.SetMode(e.ID, e.Mode) {
			c.log.Info("output mode changed", "output", e.ID, "mode", e.Mode)
			// Outputs to the right moved.
			c.outputs.DamageAll()
			c.seat.RefreshPointerFocus()
		}

	case backend.OutputDamaged:
		if o, ok := c.outputs.Get(e.ID); ok {
			o.DamageAll()
		}

	case backend.InputDeviceAdded:
		c.seat.AddDevice(e.Device)
		c.log.Info("input device added", "device", e.Device)

	case backend.InputDeviceRemoved:
		if c.seat.RemoveDevice(e.ID) {
			c.log.Info("input device removed", "id", e.ID)
		}

	case backend.Input:
		c.seat.Handle(e.Event)

	case backend.SessionPaused:
		c.pause()

	case backend.SessionResumed:
		c.resume()

	case backend.FramePresented:
		c.presented(e.Output, e.Time)

	case backend.CloseRequested:
		c.log.Info("backend requested shutdown")
		c.Quit()
	}
}

func (c *Compositor) addOutput(info output.Info) {
	o, added := c.outputs.Add(info)
	if !added {
		return
	}
	c.fps[o.ID()] = &render.FPS{}
	c.log.Info("output added", "output", o.Name(), "mode", o.Mode(), "position", o.Bounds().Min)
	o.DamageAll()
}

func (c *Compositor) removeOutput(id output.ID) {
	o, ok := c.outputs.Remove(id)
	if !ok {
		return
	}
	delete(c.fps, id)
	c.log.Info("output removed", "output", o.Name(), "stats", o.Stats())

	if c.outputs.Len() == 0 {
		c.log.Info("last output removed, shutting down")
		c.Quit()
		return
	}
	c.outputs.DamageAll()
	c.seat.RefreshPointerFocus()
}

// pause stops every output and forgets held input. Frames in flight are
// dropped and their damage kept.
func (c *Compositor) pause() {
	if c.paused {
		return
	}
	c.paused = true
	for _, o := range c.outputs.All() {
		o.Suspend()
	}
	c.seat.ReleaseAll()
	c.log.Info("session paused")
}

// resume starts a fresh full frame on every output.
func (c *Compositor) resume() {
	if !c.paused {
		return
	}
	c.paused = false
	for _, o := range c.outputs.All() {
		o.Resume()
		o.DamageAll()
	}
	c.log.Info("session resumed")
}

func (c *Compositor) presented(id output.ID, at time.Time) {
	o, ok := c.outputs.Get(id)
	if !ok || !o.Presented(at) {
		return
	}
	if f := c.fps[id]; f != nil {
		f.Tick(at)
	}
	c.frameDone(o, at)
}

// damage spreads global damage over the outputs.
func (c *Compositor) damage(global region.Region) {
	if global.Empty() {
		return
	}
	c.outputs.Damage(global)
}

func (c *Compositor) damageOverlay() {
	for _, o := range c.outputs.All() {
		o.Damage(region.New(render.OverlayRect()))
	}
}
