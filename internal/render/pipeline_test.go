package render

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bg      = color.RGBA{R: 0xcc, G: 0xcc, B: 0xe6, A: 0xff}
	red     = color.RGBA{R: 0xff, A: 0xff}
	magenta = color.RGBA{R: 0xff, B: 0xff, A: 0xff}
)

type opaqueBuffer struct{}

func (opaqueBuffer) Size() image.Point { return image.Pt(4, 4) }

func setup(t *testing.T) (*surface.Store, *Pipeline, *output.Output, *Target) {
	t.Helper()
	store := surface.NewStore()
	p := NewPipeline(store, nil, bg)
	o := output.New(output.Info{ID: 1, Name: "test", Mode: output.Mode{Width: 200, Height: 100, Refresh: 60000}})
	target := &Target{Output: 1, Image: image.NewRGBA(image.Rect(0, 0, 200, 100))}
	fill(target.Image, magenta)
	return store, p, o, target
}

func fill(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func mapSurface(t *testing.T, store *surface.Store, pos image.Point, buf surface.Buffer) surface.Handle {
	t.Helper()
	h := store.Create(surface.RoleToplevel, "s")
	surf, _ := store.Get(h)
	surf.Position = pos
	_, err := store.Commit(h, buf, region.Region{})
	require.NoError(t, err)
	return h
}

func TestFullRedrawComposesInOrder(t *testing.T) {
	store, p, o, target := setup(t)
	mapSurface(t, store, image.Pt(50, 20), NewSolidBuffer(image.Pt(30, 30), red))

	scene := Scene{Cursor: image.Pt(150, 80)}
	res := p.Render(o, target, region.Region{}, false, scene)

	assert.Equal(t, 200*100, res.Damage.Area())
	assert.Equal(t, 1, res.Drawn)
	assert.Equal(t, bg, target.Image.RGBAAt(5, 90))
	assert.Equal(t, red, target.Image.RGBAAt(60, 30))
	// Cursor outline sits at its hotspot.
	assert.Equal(t, color.RGBA{A: 0xff}, target.Image.RGBAAt(150, 80))
}

func TestPartialRedrawStaysInsideDamage(t *testing.T) {
	store, p, o, target := setup(t)
	mapSurface(t, store, image.Pt(0, 0), NewSolidBuffer(image.Pt(200, 100), red))

	damage := region.New(image.Rect(10, 10, 20, 20))
	res := p.Render(o, target, damage, true, Scene{CursorHidden: true})

	assert.True(t, res.Damage.Equal(damage))
	assert.Equal(t, red, target.Image.RGBAAt(15, 15))
	assert.Equal(t, magenta, target.Image.RGBAAt(25, 25))
	assert.Equal(t, magenta, target.Image.RGBAAt(5, 5))
}

func TestBrokenSurfaceIsSkipped(t *testing.T) {
	store, p, o, target := setup(t)
	bad := mapSurface(t, store, image.Pt(0, 0), opaqueBuffer{})
	mapSurface(t, store, image.Pt(100, 0), NewSolidBuffer(image.Pt(10, 10), red))

	res := p.Render(o, target, region.Region{}, false, Scene{CursorHidden: true})

	require.Len(t, res.Skipped, 1)
	var cerr *SurfaceContentError
	require.True(t, errors.As(res.Skipped[0], &cerr))
	assert.Equal(t, bad, cerr.Surface)
	assert.ErrorIs(t, res.Skipped[0], errUnsupportedBuffer)

	assert.Equal(t, 1, res.Drawn)
	assert.Equal(t, bg, target.Image.RGBAAt(1, 1))
	assert.Equal(t, red, target.Image.RGBAAt(105, 5))
}

func TestClientCursorUsesHotspot(t *testing.T) {
	store, p, o, target := setup(t)
	h := store.Create(surface.RoleCursor, "")
	surf, _ := store.Get(h)
	surf.Hotspot = image.Pt(2, 2)
	_, _ = store.Commit(h, NewSolidBuffer(image.Pt(5, 5), red), region.Region{})

	p.Render(o, target, region.Region{}, false, Scene{Cursor: image.Pt(50, 50), CursorSurface: h})
	assert.Equal(t, red, target.Image.RGBAAt(48, 48))
	assert.Equal(t, bg, target.Image.RGBAAt(47, 47))

	assert.Equal(t, image.Rect(48, 48, 53, 53), p.CursorBounds(image.Pt(50, 50), h))
	assert.Equal(t, image.Rect(50, 50, 50+arrowWidth, 50+arrowHeight), p.CursorBounds(image.Pt(50, 50), surface.Handle{}))
}

func TestDragIconFollowsCursor(t *testing.T) {
	store, p, o, target := setup(t)
	h := store.Create(surface.RoleDragIcon, "")
	_, _ = store.Commit(h, NewSolidBuffer(image.Pt(6, 6), red), region.Region{})

	p.Render(o, target, region.Region{}, false, Scene{Cursor: image.Pt(100, 50), CursorHidden: true})
	assert.Equal(t, red, target.Image.RGBAAt(102, 52))

	r, ok := p.DragIconBounds(image.Pt(100, 50))
	require.True(t, ok)
	assert.Equal(t, image.Rect(100, 50, 106, 56), r)
}

func TestOverlayDrawsOnlyInItsRect(t *testing.T) {
	_, p, o, target := setup(t)
	p.SetOverlay(true)
	ov := OverlayRect()

	// Damage outside the overlay leaves its pixels alone.
	p.Render(o, target, region.New(image.Rect(150, 50, 160, 60)), true, Scene{CursorHidden: true})
	assert.Equal(t, magenta, target.Image.RGBAAt(ov.Min.X+1, ov.Min.Y+1))

	p.Render(o, target, region.Region{}, false, Scene{CursorHidden: true, FPS: 60})
	assert.NotEqual(t, bg, target.Image.RGBAAt(ov.Min.X+1, ov.Min.Y+1))
	assert.Equal(t, bg, target.Image.RGBAAt(ov.Max.X, ov.Max.Y))
}

func TestOutputOffsetIsApplied(t *testing.T) {
	store, p, _, target := setup(t)
	o := output.New(output.Info{ID: 2, Mode: output.Mode{Width: 200, Height: 100}, Position: image.Pt(1000, 0)})
	mapSurface(t, store, image.Pt(1010, 10), NewSolidBuffer(image.Pt(5, 5), red))

	p.Render(o, target, region.Region{}, false, Scene{CursorHidden: true})
	assert.Equal(t, red, target.Image.RGBAAt(12, 12))
}

func TestFPSRollingWindow(t *testing.T) {
	var f FPS
	start := time.Unix(100, 0)
	for i := 0; i < 60; i++ {
		f.Tick(start.Add(time.Duration(i) * time.Second / 60))
	}
	assert.InDelta(t, 60, f.Value(start.Add(999*time.Millisecond)), 0.01)
	assert.InDelta(t, 0, f.Value(start.Add(5*time.Second)), 0.01)
}

func TestImporterRejectsMismatchedSize(t *testing.T) {
	_, err := DefaultImporter{}.Import(mismatched{NewSolidBuffer(image.Pt(2, 2), red)})
	assert.ErrorIs(t, err, errSizeMismatch)
}

type mismatched struct{ *ImageBuffer }

func (mismatched) Size() image.Point { return image.Pt(3, 3) }
