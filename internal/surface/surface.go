// Package surface keeps client surfaces, their stacking order and their
// sub-surface trees. Other components refer to surfaces by Handle only.
package surface

import (
	"fmt"
	"image"

	"github.com/bnema/anvil/internal/region"
)

// Handle is a non-owning reference. A handle whose surface was destroyed
// resolves to nothing, even if its slot was reused.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h was never assigned.
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

func (h Handle) String() string {
	if h.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%d.%d", h.Index, h.Generation)
}

// Pack encodes the handle as one integer for the wire.
func (h Handle) Pack() uint64 {
	return uint64(h.Index)<<32 | uint64(h.Generation)
}

// Unpack reverses Pack.
func Unpack(v uint64) Handle {
	return Handle{Index: uint32(v >> 32), Generation: uint32(v)}
}

// Role is what a surface is used for.
type Role int

const (
	RoleToplevel Role = iota
	RoleSubsurface
	RoleCursor
	RoleDragIcon
	RoleXWayland
)

func (r Role) String() string {
	switch r {
	case RoleToplevel:
		return "toplevel"
	case RoleSubsurface:
		return "subsurface"
	case RoleCursor:
		return "cursor"
	case RoleDragIcon:
		return "dnd-icon"
	case RoleXWayland:
		return "xwayland"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Buffer is client pixel content as handed over by the protocol library.
type Buffer interface {
	Size() image.Point
}

// Surface is a client-provided drawable area.
type Surface struct {
	Handle Handle
	Role   Role
	Title  string
	Client string

	// Position is global for toplevels and parent-relative for sub-surfaces.
	Position image.Point
	// Hotspot is the cursor image offset for RoleCursor.
	Hotspot image.Point
	// ProtocolID links a bridged X11 window to the wl_surface it draws into.
	ProtocolID uint32

	buffer  Buffer
	input   *region.Region // surface-local, nil means the whole buffer
	mapped  bool
	parent  Handle
	childs  []Handle
	commits uint64
}

// Buffer returns the last committed buffer.
func (s *Surface) Buffer() Buffer { return s.buffer }

// Mapped reports whether the surface has content and is shown.
func (s *Surface) Mapped() bool { return s.mapped }

// Parent returns the parent of a sub-surface.
func (s *Surface) Parent() Handle { return s.parent }

// Children returns the sub-surfaces, bottom to top.
func (s *Surface) Children() []Handle {
	out := make([]Handle, len(s.childs))
	copy(out, s.childs)
	return out
}

// Commits returns the number of commits applied.
func (s *Surface) Commits() uint64 { return s.commits }

// Size returns the buffer size, or zero without a buffer.
func (s *Surface) Size() image.Point {
	if s.buffer == nil {
		return image.Point{}
	}
	return s.buffer.Size()
}

// LocalBounds returns the surface rectangle in its own coordinates.
func (s *Surface) LocalBounds() image.Rectangle {
	return image.Rectangle{Max: s.Size()}
}

// InputRegion returns the surface-local area accepting pointer input.
func (s *Surface) InputRegion() region.Region {
	if s.input == nil {
		return region.New(s.LocalBounds())
	}
	return s.input.Clip(s.LocalBounds())
}

// SetInputRegion restricts pointer input. A nil region accepts everywhere.
func (s *Surface) SetInputRegion(r *region.Region) {
	if r == nil {
		s.input = nil
		return
	}
	c := *r
	s.input = &c
}
