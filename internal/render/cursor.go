package render

import (
	"image"
	"image/color"
)

const (
	arrowWidth  = 11
	arrowHeight = 17
)

// defaultCursor draws the fallback arrow, hotspot at its tip.
func defaultCursor() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, arrowWidth, arrowHeight))
	black := color.RGBA{A: 0xff}
	white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	for y := 0; y < arrowHeight; y++ {
		edge := y * (arrowWidth - 1) / (arrowHeight - 1)
		for x := 0; x <= edge; x++ {
			c := white
			if x == 0 || x == edge || y == arrowHeight-1 {
				c = black
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
