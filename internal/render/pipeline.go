// Package render composes output frames in software.
package render

import (
	"image"
	"image/color"

	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/output"
	"github.com/bnema/anvil/internal/region"
	"github.com/bnema/anvil/internal/surface"
	"github.com/charmbracelet/log"
	xdraw "golang.org/x/image/draw"
)

// Target is a frame buffer handed out by a backend for one output.
type Target struct {
	Output output.ID
	Image  *image.RGBA
}

// Scene carries per-frame state owned by other components.
type Scene struct {
	Cursor        image.Point    // global pointer position
	CursorSurface surface.Handle // client cursor, zero for the default arrow
	CursorHidden  bool
	FPS           float64
}

// Result describes what a render pass drew.
type Result struct {
	Damage  region.Region // output-local area that was repainted
	Drawn   int
	Skipped []error
}

// Pipeline draws background, surfaces, drag icon, cursor and overlay.
type Pipeline struct {
	store      *surface.Store
	importer   Importer
	background color.Color
	arrow      *image.RGBA
	overlay    bool
	log        *log.Logger
}

// NewPipeline returns a pipeline over the given surface store.
func NewPipeline(store *surface.Store, importer Importer, background color.Color) *Pipeline {
	if importer == nil {
		importer = DefaultImporter{}
	}
	return &Pipeline{
		store:      store,
		importer:   importer,
		background: background,
		arrow:      defaultCursor(),
		log:        logger.With("render"),
	}
}

// SetOverlay enables or disables the FPS overlay.
func (p *Pipeline) SetOverlay(on bool) { p.overlay = on }

// Overlay reports whether the FPS overlay is drawn.
func (p *Pipeline) Overlay() bool { return p.overlay }

// CursorBounds returns the global rectangle covered by the cursor image.
func (p *Pipeline) CursorBounds(pos image.Point, h surface.Handle) image.Rectangle {
	if surf, ok := p.store.Get(h); ok && surf.Mapped() {
		return surf.LocalBounds().Add(pos.Sub(surf.Hotspot))
	}
	return p.arrow.Bounds().Add(pos)
}

// DragIconBounds returns the global rectangle of the drag icon, if any.
func (p *Pipeline) DragIconBounds(pos image.Point) (image.Rectangle, bool) {
	h, ok := p.store.DragIcon()
	if !ok {
		return image.Rectangle{}, false
	}
	surf, _ := p.store.Get(h)
	return surf.LocalBounds().Add(pos.Add(surf.Position)), true
}

// Render draws one frame of o into t. With partial set only damage is
// repainted, otherwise the whole output.
func (p *Pipeline) Render(o *output.Output, t *Target, damage region.Region, partial bool, scene Scene) Result {
	local := o.LocalBounds().Intersect(t.Image.Bounds())
	clip := region.New(local)
	if partial {
		clip = damage.Clip(local)
	}
	res := Result{Damage: clip}
	if clip.Empty() {
		return res
	}

	// Global coordinates minus offset give output-local ones.
	offset := o.Bounds().Min
	dst := t.Image

	bg := image.NewUniform(p.background)
	for _, r := range clip.Rects() {
		xdraw.Draw(dst, r, bg, image.Point{}, xdraw.Src)
	}

	p.store.Walk(func(surf *surface.Surface, origin image.Point) {
		img, err := p.importer.Import(surf.Buffer())
		if err != nil {
			cerr := &SurfaceContentError{Surface: surf.Handle, Err: err}
			p.log.Warn("skipping surface", "surface", surf.Handle, "title", surf.Title, "err", err)
			res.Skipped = append(res.Skipped, cerr)
			return
		}
		if compose(dst, clip, surf.LocalBounds().Add(origin.Sub(offset)), img) {
			res.Drawn++
		}
	})

	if h, ok := p.store.DragIcon(); ok {
		surf, _ := p.store.Get(h)
		if img, err := p.importer.Import(surf.Buffer()); err == nil {
			at := scene.Cursor.Add(surf.Position).Sub(offset)
			compose(dst, clip, surf.LocalBounds().Add(at), img)
		} else {
			res.Skipped = append(res.Skipped, &SurfaceContentError{Surface: h, Err: err})
		}
	}

	if !scene.CursorHidden {
		p.drawCursor(dst, clip, scene, offset)
	}

	if p.overlay {
		ov := overlayImage(scene.FPS)
		compose(dst, clip, ov.Bounds(), ov)
	}

	return res
}

func (p *Pipeline) drawCursor(dst *image.RGBA, clip region.Region, scene Scene, offset image.Point) {
	if surf, ok := p.store.Get(scene.CursorSurface); ok && surf.Mapped() {
		img, err := p.importer.Import(surf.Buffer())
		if err == nil {
			at := scene.Cursor.Sub(surf.Hotspot).Sub(offset)
			compose(dst, clip, surf.LocalBounds().Add(at), img)
			return
		}
		p.log.Debug("client cursor unusable, using default", "err", err)
	}
	compose(dst, clip, p.arrow.Bounds().Add(scene.Cursor.Sub(offset)), p.arrow)
}

// compose blends src over dst at rect, restricted to clip. It reports
// whether anything was drawn.
func compose(dst *image.RGBA, clip region.Region, rect image.Rectangle, src image.Image) bool {
	drawn := false
	for _, c := range clip.Rects() {
		r := rect.Intersect(c)
		if r.Empty() {
			continue
		}
		sr := image.Rectangle{Min: src.Bounds().Min.Add(r.Min.Sub(rect.Min)), Max: src.Bounds().Min.Add(r.Max.Sub(rect.Min))}
		xdraw.Copy(dst, r.Min, src, sr, xdraw.Over, nil)
		drawn = true
	}
	return drawn
}
