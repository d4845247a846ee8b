package host

import (
	"fmt"
	"image"

	"github.com/bnema/anvil/internal/region"
	"github.com/rajveermalviya/go-wayland/wayland/client"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// shmBuffer is an XRGB8888 wl_buffer backed by a memfd mapping.
type shmBuffer struct {
	fd     int
	data   []byte
	size   image.Point
	stride int
	pool   *client.ShmPool
	buffer *client.Buffer
	busy   bool // attached and not yet released by the host
	// stale is the area other buffers were updated in since this one was
	// last written.
	stale region.Region
}

func newShmBuffer(shm *client.Shm, size image.Point) (*shmBuffer, error) {
	stride := size.X * 4
	length := stride * size.Y

	fd, err := unix.MemfdCreate("anvil-host", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(length)); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	data, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}

	b := &shmBuffer{
		fd:     fd,
		data:   data,
		size:   size,
		stride: stride,
		stale:  region.New(image.Rectangle{Max: size}),
	}
	b.pool, err = shm.CreatePool(fd, int32(length))
	if err != nil {
		_ = b.destroy()
		return nil, fmt.Errorf("failed to create shm pool: %w", err)
	}
	b.buffer, err = b.pool.CreateBuffer(0, int32(size.X), int32(size.Y), int32(stride), uint32(client.ShmFormatXrgb8888))
	if err != nil {
		_ = b.destroy()
		return nil, fmt.Errorf("failed to create shm buffer: %w", err)
	}
	return b, nil
}

// copyFrom converts the given rectangles of an RGBA frame into the
// buffer's little-endian XRGB layout.
func (b *shmBuffer) copyFrom(src *image.RGBA, rects []image.Rectangle) {
	copyXRGB(b.data, b.stride, src, rects)
}

func copyXRGB(dst []byte, stride int, src *image.RGBA, rects []image.Rectangle) {
	for _, r := range rects {
		r = r.Intersect(src.Bounds())
		for y := r.Min.Y; y < r.Max.Y; y++ {
			s := src.PixOffset(r.Min.X, y)
			d := y*stride + r.Min.X*4
			for x := r.Min.X; x < r.Max.X; x++ {
				dst[d+0] = src.Pix[s+2]
				dst[d+1] = src.Pix[s+1]
				dst[d+2] = src.Pix[s+0]
				dst[d+3] = 0xff
				s += 4
				d += 4
			}
		}
	}
}

func (b *shmBuffer) destroy() error {
	var err error
	if b.buffer != nil {
		err = multierr.Append(err, b.buffer.Destroy())
	}
	if b.pool != nil {
		err = multierr.Append(err, b.pool.Destroy())
	}
	if b.data != nil {
		err = multierr.Append(err, unix.Munmap(b.data))
		b.data = nil
	}
	return multierr.Append(err, unix.Close(b.fd))
}
