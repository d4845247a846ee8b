package surface

import (
	"image"
	"testing"

	"github.com/bnema/anvil/internal/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sizedBuffer image.Point

func (b sizedBuffer) Size() image.Point { return image.Point(b) }

func buf(w, h int) Buffer { return sizedBuffer(image.Pt(w, h)) }

func TestStaleHandleResolvesToNothing(t *testing.T) {
	s := NewStore()
	h := s.Create(RoleToplevel, "a")
	_, ok := s.Get(h)
	require.True(t, ok)

	_, ok = s.Destroy(h)
	require.True(t, ok)

	// The slot is reused with a new generation.
	h2 := s.Create(RoleToplevel, "b")
	assert.Equal(t, h.Index, h2.Index)
	assert.NotEqual(t, h, h2)

	_, ok = s.Get(h)
	assert.False(t, ok)
	_, err := s.Commit(h, buf(1, 1), region.Region{})
	assert.ErrorIs(t, err, ErrStale)

	_, ok = s.Get(Handle{})
	assert.False(t, ok)
}

func TestHandlePacking(t *testing.T) {
	h := Handle{Index: 7, Generation: 3}
	assert.Equal(t, h, Unpack(h.Pack()))
	assert.Equal(t, "7.3", h.String())
	assert.Equal(t, "none", Handle{}.String())
}

func TestCommitDamage(t *testing.T) {
	s := NewStore()
	h := s.Create(RoleToplevel, "a")
	surf, _ := s.Get(h)
	surf.Position = image.Pt(100, 50)

	// First commit maps and damages the whole surface.
	dmg, err := s.Commit(h, buf(20, 10), region.Region{})
	require.NoError(t, err)
	assert.True(t, dmg.Equal(region.New(image.Rect(100, 50, 120, 60))))
	assert.Equal(t, []Handle{h}, s.Stack())

	// Later commits report only the given damage, clipped and translated.
	dmg, err = s.Commit(h, buf(20, 10), region.New(image.Rect(15, 5, 40, 40)))
	require.NoError(t, err)
	assert.True(t, dmg.Equal(region.New(image.Rect(115, 55, 120, 60))))

	// Resizing damages both extents.
	dmg, err = s.Commit(h, buf(10, 30), region.Region{})
	require.NoError(t, err)
	assert.True(t, dmg.Equal(region.New(image.Rect(100, 50, 120, 60), image.Rect(100, 50, 110, 80))))

	// A nil buffer unmaps.
	_, err = s.Commit(h, nil, region.Region{})
	require.NoError(t, err)
	assert.Empty(t, s.Stack())
	assert.Equal(t, uint64(4), surf.Commits())
}

func TestStackingAndHitTesting(t *testing.T) {
	s := NewStore()
	bottom := s.Create(RoleToplevel, "bottom")
	top := s.Create(RoleToplevel, "top")
	_, _ = s.Commit(bottom, buf(100, 100), region.Region{})
	_, _ = s.Commit(top, buf(50, 50), region.Region{})

	h, local, ok := s.SurfaceAt(image.Pt(10, 10))
	require.True(t, ok)
	assert.Equal(t, top, h)
	assert.Equal(t, image.Pt(10, 10), local)

	h, _, ok = s.SurfaceAt(image.Pt(60, 60))
	require.True(t, ok)
	assert.Equal(t, bottom, h)

	_, ok = s.Raise(bottom)
	require.True(t, ok)
	h, _, _ = s.SurfaceAt(image.Pt(10, 10))
	assert.Equal(t, bottom, h)

	_, _, ok = s.SurfaceAt(image.Pt(500, 500))
	assert.False(t, ok)
}

func TestInputRegionLimitsHits(t *testing.T) {
	s := NewStore()
	under := s.Create(RoleToplevel, "under")
	over := s.Create(RoleToplevel, "over")
	_, _ = s.Commit(under, buf(100, 100), region.Region{})
	_, _ = s.Commit(over, buf(100, 100), region.Region{})

	surf, _ := s.Get(over)
	r := region.New(image.Rect(0, 0, 10, 10))
	surf.SetInputRegion(&r)

	h, _, _ := s.SurfaceAt(image.Pt(5, 5))
	assert.Equal(t, over, h)
	h, _, _ = s.SurfaceAt(image.Pt(50, 50))
	assert.Equal(t, under, h)
}

func TestSubsurfaceTree(t *testing.T) {
	s := NewStore()
	parent := s.Create(RoleToplevel, "parent")
	child := s.Create(RoleSubsurface, "")
	p, _ := s.Get(parent)
	p.Position = image.Pt(10, 10)

	require.NoError(t, s.AddSubsurface(parent, child, image.Pt(5, 5)))
	assert.ErrorIs(t, s.AddSubsurface(parent, parent, image.Point{}), ErrRole)

	_, _ = s.Commit(parent, buf(20, 20), region.Region{})
	_, _ = s.Commit(child, buf(4, 4), region.Region{})

	// Sub-surfaces never enter the stacking order themselves.
	assert.Equal(t, []Handle{parent}, s.Stack())

	var visited []Handle
	var origins []image.Point
	s.Walk(func(surf *Surface, origin image.Point) {
		visited = append(visited, surf.Handle)
		origins = append(origins, origin)
	})
	assert.Equal(t, []Handle{parent, child}, visited)
	assert.Equal(t, []image.Point{{10, 10}, {15, 15}}, origins)

	h, local, ok := s.SurfaceAt(image.Pt(16, 16))
	require.True(t, ok)
	assert.Equal(t, child, h)
	assert.Equal(t, image.Pt(1, 1), local)

	dmg, ok := s.Destroy(parent)
	require.True(t, ok)
	assert.Equal(t, image.Rect(10, 10, 30, 30), dmg.Bounds())
	_, ok = s.Get(child)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestSubsurfaceCycleRejected(t *testing.T) {
	s := NewStore()
	root := s.Create(RoleToplevel, "root")
	a := s.Create(RoleSubsurface, "a")
	b := s.Create(RoleSubsurface, "b")
	require.NoError(t, s.AddSubsurface(root, a, image.Point{}))
	require.NoError(t, s.AddSubsurface(a, b, image.Point{}))

	assert.ErrorIs(t, s.AddSubsurface(b, a, image.Point{}), ErrRole)

	sa, _ := s.Get(a)
	assert.Equal(t, []Handle{b}, sa.Children())
	origin, ok := s.Origin(b)
	require.True(t, ok)
	assert.Equal(t, image.Point{}, origin)
}

func TestSubsurfaceReparent(t *testing.T) {
	s := NewStore()
	first := s.Create(RoleToplevel, "first")
	second := s.Create(RoleToplevel, "second")
	child := s.Create(RoleSubsurface, "child")
	p2, _ := s.Get(second)
	p2.Position = image.Pt(100, 0)

	require.NoError(t, s.AddSubsurface(first, child, image.Pt(1, 1)))
	require.NoError(t, s.AddSubsurface(second, child, image.Pt(2, 2)))

	p1, _ := s.Get(first)
	assert.Empty(t, p1.Children())
	assert.Equal(t, []Handle{child}, p2.Children())
	origin, _ := s.Origin(child)
	assert.Equal(t, image.Pt(102, 2), origin)

	// Destroying the old parent leaves the moved child alone.
	_, ok := s.Destroy(first)
	require.True(t, ok)
	_, ok = s.Get(child)
	assert.True(t, ok)
}

func TestDragIcon(t *testing.T) {
	s := NewStore()
	icon := s.Create(RoleDragIcon, "")
	_, ok := s.DragIcon()
	assert.False(t, ok)

	_, _ = s.Commit(icon, buf(8, 8), region.Region{})
	got, ok := s.DragIcon()
	require.True(t, ok)
	assert.Equal(t, icon, got)
	assert.Empty(t, s.Stack())

	s.Destroy(icon)
	_, ok = s.DragIcon()
	assert.False(t, ok)
}
