package compositor

import (
	"fmt"
	"image"

	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/surface"
)

// CreateSurface registers a new unmapped surface for client.
func (c *Compositor) CreateSurface(role surface.Role, title, client string) surface.Handle {
	h := c.store.Create(role, title)
	if surf, ok := c.store.Get(h); ok {
		surf.Client = client
	}
	return h
}

// CommitSurface applies a committed buffer with surface-local damage and
// schedules the outputs it touches.
func (c *Compositor) CommitSurface(h surface.Handle, buf surface.Buffer, damage region.Region) error {
	surf, ok := c.store.Get(h)
	if !ok {
		return fmt.Errorf("%w: %s", surface.ErrStale, h)
	}
	role := surf.Role

	before, _ := c.pointerBounds(h)
	global, err := c.store.Commit(h, buf, damage)
	if err != nil {
		return err
	}
	switch role {
	case surface.RoleCursor, surface.RoleDragIcon:
		// Drawn relative to the pointer, not at their stored position.
		after, _ := c.pointerBounds(h)
		c.damage(region.New(before, after))
	default:
		c.damage(global)
	}
	// The surface under the pointer may have changed size.
	c.seat.RefreshPointerFocus()
	return nil
}

// pointerBounds returns where h is drawn when it is the active cursor image
// or the mapped drag icon.
func (c *Compositor) pointerBounds(h surface.Handle) (image.Rectangle, bool) {
	pos := c.seat.Cursor()
	if cur := c.seat.CursorSurface(); !cur.IsZero() && cur == h {
		return c.pipeline.CursorBounds(pos, h), true
	}
	if icon, ok := c.store.DragIcon(); ok && icon == h {
		return c.pipeline.DragIconBounds(pos)
	}
	return image.Rectangle{}, false
}

// MoveSurface repositions a surface.
func (c *Compositor) MoveSurface(h surface.Handle, pos image.Point) error {
	damage, err := c.store.Move(h, pos)
	if err != nil {
		return err
	}
	c.damage(damage)
	c.seat.RefreshPointerFocus()
	return nil
}

// SetCursorSurface installs a client cursor image. A zero handle restores
// the default arrow.
func (c *Compositor) SetCursorSurface(h surface.Handle) {
	c.seat.SetCursorSurface(h)
}

// DestroySurface removes a surface with its sub-surfaces. Focus held by
// any of them is dropped.
func (c *Compositor) DestroySurface(h surface.Handle) error {
	surf, ok := c.store.Get(h)
	if !ok {
		return fmt.Errorf("%w: %s", surface.ErrStale, h)
	}
	children := surf.Children()

	pointer, drawn := c.pointerBounds(h)
	damage, _ := c.store.Destroy(h)
	if drawn {
		// The arrow replaces a destroyed cursor image.
		damage = region.New(pointer, c.pipeline.CursorBounds(c.seat.Cursor(), surface.Handle{}))
	}
	c.seat.SurfaceGone(h)
	for _, child := range children {
		c.seat.SurfaceGone(child)
	}
	delete(c.debug, h)
	c.damage(damage)
	c.seat.RefreshPointerFocus()
	return nil
}
