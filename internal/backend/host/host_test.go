package host

import (
	"image"
	"image/color"
	"testing"

	"github.com/bnema/anvil/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyXRGBSwapsChannelsInsideRects(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 0xff})
		}
	}
	dst := make([]byte, 4*4*2)

	copyXRGB(dst, 16, src, []image.Rectangle{image.Rect(1, 1, 3, 2), image.Rect(2, 0, 10, 1)})

	px := func(x, y int) []byte { o := y*16 + x*4; return dst[o : o+4] }
	assert.Equal(t, []byte{0x33, 0x22, 0x11, 0xff}, px(1, 1))
	assert.Equal(t, []byte{0x33, 0x22, 0x11, 0xff}, px(3, 0), "rect clipped to the frame")
	assert.Equal(t, []byte{0, 0, 0, 0}, px(0, 0))
	assert.Equal(t, []byte{0, 0, 0, 0}, px(3, 1))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Width: 0, Height: 600})
	assert.Error(t, err)

	b, err := New(Options{Width: 1920, Height: 1080})
	require.NoError(t, err)
	defer b.events.Close()

	assert.Equal(t, backend.KindHost, b.Kind())
	assert.True(t, b.PartialDamage())

	outs := b.Outputs()
	require.Len(t, outs, 1)
	assert.Equal(t, "host", outs[0].Name)
	assert.Equal(t, "1920x1080@60.000", outs[0].Mode.String())

	target, err := b.BeginFrame(outputID)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1920, 1080), target.Image.Bounds())

	_, err = b.BeginFrame(7)
	assert.ErrorIs(t, err, backend.ErrUnknownOutput)
}
