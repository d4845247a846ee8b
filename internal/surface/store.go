package surface

import (
	"errors"
	"image"
	"slices"

	"github.com/bnema/anvil/internal/region"
)

var (
	// ErrStale is returned for handles whose surface no longer exists.
	ErrStale = errors.New("stale surface handle")
	// ErrRole is returned when an operation does not fit the surface role.
	ErrRole = errors.New("invalid surface role")
)

type slot struct {
	gen     uint32
	surface *Surface
}

// Store owns every surface. Toplevel-like surfaces are kept in a stacking
// order, bottom to top; sub-surfaces hang off their parent.
type Store struct {
	slots []slot
	free  []uint32
	stack []Handle

	dragIcon Handle
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Create allocates a surface. Toplevel and XWayland surfaces enter the top
// of the stacking order once mapped.
func (s *Store) Create(role Role, title string) Handle {
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot{})
		idx = uint32(len(s.slots) - 1)
	}

	sl := &s.slots[idx]
	sl.gen++
	h := Handle{Index: idx, Generation: sl.gen}
	sl.surface = &Surface{Handle: h, Role: role, Title: title}
	return h
}

// Get resolves a handle.
func (s *Store) Get(h Handle) (*Surface, bool) {
	if h.IsZero() || int(h.Index) >= len(s.slots) {
		return nil, false
	}
	sl := s.slots[h.Index]
	if sl.gen != h.Generation || sl.surface == nil {
		return nil, false
	}
	return sl.surface, true
}

// Len returns the number of live surfaces.
func (s *Store) Len() int {
	n := 0
	for _, sl := range s.slots {
		if sl.surface != nil {
			n++
		}
	}
	return n
}

// All returns every live surface in slot order.
func (s *Store) All() []*Surface {
	var out []*Surface
	for _, sl := range s.slots {
		if sl.surface != nil {
			out = append(out, sl.surface)
		}
	}
	return out
}

// Commit applies a new buffer with surface-local damage and returns the
// damage in global coordinates. A nil buffer unmaps the surface.
func (s *Store) Commit(h Handle, buf Buffer, damage region.Region) (region.Region, error) {
	surf, ok := s.Get(h)
	if !ok {
		return region.Region{}, ErrStale
	}

	before := s.globalBounds(surf)
	wasMapped := surf.mapped
	surf.buffer = buf
	surf.commits++

	if buf == nil {
		s.unmap(surf)
		return region.New(before), nil
	}

	if !wasMapped {
		surf.mapped = true
		if stacked(surf.Role) {
			s.stack = append(s.stack, h)
		}
		if surf.Role == RoleDragIcon {
			s.dragIcon = h
		}
		return s.treeDamage(surf), nil
	}

	after := s.globalBounds(surf)
	if before != after {
		// Size changed: the old and new extents both need repainting.
		out := region.New(before, after)
		return out, nil
	}
	origin := s.origin(surf)
	return damage.Clip(surf.LocalBounds()).Translate(origin), nil
}

// Destroy removes a surface and its sub-surfaces, returning the damage they
// leave behind.
func (s *Store) Destroy(h Handle) (region.Region, bool) {
	surf, ok := s.Get(h)
	if !ok {
		return region.Region{}, false
	}

	var damage region.Region
	if surf.mapped {
		damage = s.treeDamage(surf)
	}
	s.unmap(surf)

	for _, child := range surf.Children() {
		if d, ok := s.Destroy(child); ok {
			damage.Union(d)
		}
	}
	if p, ok := s.Get(surf.parent); ok {
		p.childs = slices.DeleteFunc(p.childs, func(c Handle) bool { return c == h })
	}

	s.slots[h.Index].surface = nil
	s.free = append(s.free, h.Index)
	return damage, true
}

func (s *Store) unmap(surf *Surface) {
	surf.mapped = false
	s.stack = slices.DeleteFunc(s.stack, func(c Handle) bool { return c == surf.Handle })
	if s.dragIcon == surf.Handle {
		s.dragIcon = Handle{}
	}
}

// AddSubsurface attaches child to parent at a parent-relative offset, above
// the parent's existing sub-surfaces.
func (s *Store) AddSubsurface(parent, child Handle, offset image.Point) error {
	p, ok := s.Get(parent)
	if !ok {
		return ErrStale
	}
	c, ok := s.Get(child)
	if !ok {
		return ErrStale
	}
	if c.Role != RoleSubsurface || parent == child {
		return ErrRole
	}
	// A surface cannot become a descendant of itself.
	for a, ok := s.Get(p.parent); ok; a, ok = s.Get(a.parent) {
		if a.Handle == child {
			return ErrRole
		}
	}
	if old, ok := s.Get(c.parent); ok {
		old.childs = slices.DeleteFunc(old.childs, func(h Handle) bool { return h == child })
	}
	c.parent = parent
	c.Position = offset
	p.childs = append(p.childs, child)
	return nil
}

// Move changes a surface position and returns the damage.
func (s *Store) Move(h Handle, pos image.Point) (region.Region, error) {
	surf, ok := s.Get(h)
	if !ok {
		return region.Region{}, ErrStale
	}
	before := s.treeDamage(surf)
	surf.Position = pos
	if !surf.mapped {
		return region.Region{}, nil
	}
	before.Union(s.treeDamage(surf))
	return before, nil
}

// Raise moves a stacked surface to the top and returns the damage.
func (s *Store) Raise(h Handle) (region.Region, bool) {
	i := slices.Index(s.stack, h)
	if i < 0 {
		return region.Region{}, false
	}
	if i == len(s.stack)-1 {
		return region.Region{}, true
	}
	s.stack = append(slices.Delete(s.stack, i, i+1), h)
	surf, _ := s.Get(h)
	return s.treeDamage(surf), true
}

// Stack returns the mapped stacked surfaces, bottom to top.
func (s *Store) Stack() []Handle {
	out := make([]Handle, len(s.stack))
	copy(out, s.stack)
	return out
}

// Top returns the topmost stacked surface.
func (s *Store) Top() (Handle, bool) {
	if len(s.stack) == 0 {
		return Handle{}, false
	}
	return s.stack[len(s.stack)-1], true
}

// DragIcon returns the mapped drag-and-drop icon, if any.
func (s *Store) DragIcon() (Handle, bool) {
	_, ok := s.Get(s.dragIcon)
	return s.dragIcon, ok
}

// Find returns the first surface matching pred, in slot order.
func (s *Store) Find(pred func(*Surface) bool) (*Surface, bool) {
	for _, sl := range s.slots {
		if sl.surface != nil && pred(sl.surface) {
			return sl.surface, true
		}
	}
	return nil, false
}

// Walk visits mapped stacked surfaces bottom to top, each followed by its
// sub-surface tree, with the global origin of every surface.
func (s *Store) Walk(fn func(surf *Surface, origin image.Point)) {
	for _, h := range s.stack {
		if surf, ok := s.Get(h); ok {
			s.walkTree(surf, surf.Position, fn)
		}
	}
}

func (s *Store) walkTree(surf *Surface, origin image.Point, fn func(*Surface, image.Point)) {
	if !surf.mapped {
		return
	}
	fn(surf, origin)
	for _, h := range surf.childs {
		if child, ok := s.Get(h); ok {
			s.walkTree(child, origin.Add(child.Position), fn)
		}
	}
}

// SurfaceAt returns the topmost surface whose input region contains the
// global point, with the point in that surface's coordinates.
func (s *Store) SurfaceAt(p image.Point) (Handle, image.Point, bool) {
	type hit struct {
		h      Handle
		origin image.Point
	}
	var hits []hit
	s.Walk(func(surf *Surface, origin image.Point) {
		hits = append(hits, hit{surf.Handle, origin})
	})

	for i := len(hits) - 1; i >= 0; i-- {
		surf, _ := s.Get(hits[i].h)
		local := p.Sub(hits[i].origin)
		if surf.InputRegion().Contains(local) {
			return hits[i].h, local, true
		}
	}
	return Handle{}, image.Point{}, false
}

// Origin returns the global position of a surface's top-left corner.
func (s *Store) Origin(h Handle) (image.Point, bool) {
	surf, ok := s.Get(h)
	if !ok {
		return image.Point{}, false
	}
	return s.origin(surf), true
}

// Bounds returns the global rectangle of a surface.
func (s *Store) Bounds(h Handle) (image.Rectangle, bool) {
	surf, ok := s.Get(h)
	if !ok {
		return image.Rectangle{}, false
	}
	return s.globalBounds(surf), true
}

func (s *Store) origin(surf *Surface) image.Point {
	p := surf.Position
	for parent, ok := s.Get(surf.parent); ok; parent, ok = s.Get(parent.parent) {
		p = p.Add(parent.Position)
	}
	return p
}

func (s *Store) globalBounds(surf *Surface) image.Rectangle {
	return surf.LocalBounds().Add(s.origin(surf))
}

func (s *Store) treeDamage(surf *Surface) region.Region {
	var out region.Region
	s.walkTree(surf, s.origin(surf), func(c *Surface, origin image.Point) {
		out.Add(c.LocalBounds().Add(origin))
	})
	return out
}

func stacked(r Role) bool {
	return r == RoleToplevel || r == RoleXWayland
}
