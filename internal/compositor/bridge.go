package compositor

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/bnema/anvil/internal/surface"
	"github.com/bnema/anvil/internal/xwayland"
)

// startBridge launches XWayland. Failure only disables X11 clients.
func (c *Compositor) startBridge(ctx context.Context, b Bridge) {
	if err := b.Start(ctx); err != nil {
		c.log.Error("XWayland unavailable, continuing without it", "err", err)
		return
	}
	c.bridge = b
	c.bridgeToken = c.loop.Add("xwayland", b.Fd(), c.source(c.dispatchBridge))
}

func (c *Compositor) dispatchBridge() error {
	if c.bridge == nil {
		return nil
	}
	for ev := range c.bridge.Poll() {
		c.handleBridgeEvent(ev)
		if c.bridge == nil {
			break
		}
	}
	return nil
}

func (c *Compositor) handleBridgeEvent(ev xwayland.Event) {
	switch e := ev.(type) {
	case xwayland.Ready:
		c.log.Info("XWayland ready", "display", e.Display)

	case xwayland.WindowMapped:
		if _, ok := c.bridged[e.Window]; ok {
			return
		}
		h := c.CreateSurface(surface.RoleXWayland, e.Title, "xwayland")
		if err := c.MoveSurface(h, e.Geometry.Min); err != nil {
			c.log.Warn("failed to place X11 window", "window", e.Window, "err", err)
		}
		c.bridged[e.Window] = h
		c.log.Debug("X11 window mapped", "window", e.Window, "title", e.Title, "class", e.Class)

	case xwayland.WindowConfigured:
		if h, ok := c.bridged[e.Window]; ok {
			if err := c.MoveSurface(h, e.Geometry.Min); err != nil {
				c.log.Debug("configure for gone window", "window", e.Window, "err", err)
			}
		}

	case xwayland.WindowTitle:
		if surf, ok := c.bridgedSurface(e.Window); ok {
			surf.Title = e.Title
		}

	case xwayland.WindowAssociated:
		if surf, ok := c.bridgedSurface(e.Window); ok {
			surf.ProtocolID = e.SurfaceID
		}

	case xwayland.WindowUnmapped:
		if h, ok := c.bridged[e.Window]; ok {
			delete(c.bridged, e.Window)
			if err := c.DestroySurface(h); err != nil {
				c.log.Debug("unmap for gone window", "window", e.Window, "err", err)
			}
		}

	case xwayland.Exited:
		c.bridgeExited(e.Err)
	}
}

func (c *Compositor) bridgedSurface(window uint32) (*surface.Surface, bool) {
	h, ok := c.bridged[window]
	if !ok {
		return nil, false
	}
	return c.store.Get(h)
}

// XWaylandSurface returns the surface bridged for the wl_surface with the
// given protocol id.
func (c *Compositor) XWaylandSurface(protocolID uint32) (surface.Handle, bool) {
	surf, ok := c.store.Find(func(s *surface.Surface) bool {
		return s.Role == surface.RoleXWayland && s.ProtocolID == protocolID
	})
	if !ok {
		return surface.Handle{}, false
	}
	return surf.Handle, true
}

// bridgeExited unregisters the bridge before tearing down its windows so
// no stale readiness reaches the handler. Other clients are unaffected.
func (c *Compositor) bridgeExited(err error) {
	b := c.bridge
	if b == nil {
		return
	}
	c.loop.Remove(c.bridgeToken)
	c.bridge = nil

	windows := slices.Sorted(maps.Keys(c.bridged))
	for _, w := range windows {
		if derr := c.DestroySurface(c.bridged[w]); derr != nil {
			c.log.Debug("bridged surface already gone", "window", w)
		}
		delete(c.bridged, w)
	}

	var perr *xwayland.ProcessError
	if errors.As(err, &perr) {
		c.log.Error("XWayland exited", "display", perr.Display, "code", perr.ExitCode(), "err", perr.Err, "windows", len(windows))
	} else {
		c.log.Error("XWayland exited", "err", err, "windows", len(windows))
	}
	if cerr := b.Close(); cerr != nil {
		c.log.Debug("failed to close XWayland bridge", "err", cerr)
	}
}

// XWaylandDisplay returns the X11 display name, empty when XWayland is not
// running.
func (c *Compositor) XWaylandDisplay() string {
	if c.bridge == nil {
		return ""
	}
	return c.bridge.Display()
}
