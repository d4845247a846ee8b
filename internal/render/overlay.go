package render

import (
	"fmt"
	"image"
	"image/color"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	overlayPad   = 4
	overlayChars = 9 // "999.9 fps"
	fpsWindow    = time.Second
)

// FPS counts presented frames over a rolling one second window.
type FPS struct {
	stamps []time.Time
}

// Tick records a presented frame.
func (f *FPS) Tick(at time.Time) {
	f.stamps = append(f.stamps, at)
	f.trim(at)
}

// Value returns frames per second as of now.
func (f *FPS) Value(now time.Time) float64 {
	f.trim(now)
	return float64(len(f.stamps)) / fpsWindow.Seconds()
}

func (f *FPS) trim(now time.Time) {
	cut := 0
	for cut < len(f.stamps) && now.Sub(f.stamps[cut]) >= fpsWindow {
		cut++
	}
	f.stamps = f.stamps[cut:]
}

// OverlayRect is the output-local area the overlay draws into. It never
// draws outside it.
func OverlayRect() image.Rectangle {
	face := basicfont.Face7x13
	w := overlayChars*face.Advance + 2*overlayPad
	h := face.Height + 2*overlayPad
	return image.Rect(0, 0, w, h)
}

// overlayImage renders the FPS text into an OverlayRect-sized image.
func overlayImage(fps float64) *image.RGBA {
	r := OverlayRect()
	img := image.NewRGBA(r)
	xdraw.Draw(img, r, image.NewUniform(color.RGBA{A: 0xc0}), image.Point{}, xdraw.Src)

	if fps > 999.9 {
		fps = 999.9
	}
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0x7f, G: 0xff, B: 0x7f, A: 0xff}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(overlayPad, overlayPad+basicfont.Face7x13.Ascent),
	}
	d.DrawString(fmt.Sprintf("%5.1f fps", fps))
	return img
}
