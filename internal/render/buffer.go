package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/bnema/anvil/internal/surface"
	xdraw "golang.org/x/image/draw"
)

// Importer turns a client buffer into something the renderer can sample.
type Importer interface {
	Import(buf surface.Buffer) (image.Image, error)
}

// SurfaceContentError reports a surface whose buffer could not be imported.
// The surface is skipped for the frame.
type SurfaceContentError struct {
	Surface surface.Handle
	Err     error
}

func (e *SurfaceContentError) Error() string {
	return fmt.Sprintf("surface %s: unusable content: %v", e.Surface, e.Err)
}

func (e *SurfaceContentError) Unwrap() error {
	return e.Err
}

var (
	errUnsupportedBuffer = errors.New("unsupported buffer type")
	errSizeMismatch      = errors.New("buffer size does not match its image")
)

// ImageBuffer is a buffer backed by an in-memory image.
type ImageBuffer struct {
	img image.Image
}

// NewImageBuffer wraps an image.
func NewImageBuffer(img image.Image) *ImageBuffer {
	return &ImageBuffer{img: img}
}

// NewSolidBuffer returns a buffer filled with one color.
func NewSolidBuffer(size image.Point, c color.Color) *ImageBuffer {
	img := image.NewRGBA(image.Rectangle{Max: size})
	xdraw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, xdraw.Src)
	return &ImageBuffer{img: img}
}

func (b *ImageBuffer) Size() image.Point {
	if b.img == nil {
		return image.Point{}
	}
	return b.img.Bounds().Size()
}

func (b *ImageBuffer) Image() image.Image {
	return b.img
}

// DefaultImporter accepts any buffer exposing an Image method.
type DefaultImporter struct{}

func (DefaultImporter) Import(buf surface.Buffer) (image.Image, error) {
	src, ok := buf.(interface{ Image() image.Image })
	if !ok {
		return nil, fmt.Errorf("%w: %T", errUnsupportedBuffer, buf)
	}
	img := src.Image()
	if img == nil {
		return nil, errUnsupportedBuffer
	}
	if img.Bounds().Size() != buf.Size() {
		return nil, errSizeMismatch
	}
	return img, nil
}
