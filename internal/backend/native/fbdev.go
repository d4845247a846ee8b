package native

import (
	"fmt"
	"image"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	fbioGetVScreenInfo = 0x4600
	fbioGetFScreenInfo = 0x4602
	fbioPanDisplay     = 0x4606
)

type fbBitfield struct {
	Offset, Length, MsbRight uint32
}

type fbVarScreenInfo struct {
	XRes, YRes               uint32
	XResVirtual, YResVirtual uint32
	XOffset, YOffset         uint32
	BitsPerPixel             uint32
	Grayscale                uint32
	Red, Green, Blue, Transp fbBitfield
	Nonstd                   uint32
	Activate                 uint32
	Height, Width            uint32
	AccelFlags               uint32
	Pixclock                 uint32
	LeftMargin, RightMargin  uint32
	UpperMargin, LowerMargin uint32
	HsyncLen, VsyncLen       uint32
	Sync                     uint32
	Vmode                    uint32
	Rotate                   uint32
	Colorspace               uint32
	Reserved                 [4]uint32
}

type fbFixScreenInfo struct {
	ID           [16]byte
	SmemStart    uint64
	SmemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	LineLength   uint32
	MmioStart    uint64
	MmioLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// pixelFormat is the byte position of each channel in a 32 bit pixel.
type pixelFormat struct {
	r, g, b int
}

// fbFormat derives the byte layout from the channel bitfields. Only 8 bit
// channels on byte boundaries are supported.
func fbFormat(v *fbVarScreenInfo) (pixelFormat, error) {
	if v.BitsPerPixel != 32 {
		return pixelFormat{}, fmt.Errorf("unsupported framebuffer depth %d", v.BitsPerPixel)
	}
	for _, f := range []fbBitfield{v.Red, v.Green, v.Blue} {
		if f.Length != 8 || f.Offset%8 != 0 || f.Offset > 24 {
			return pixelFormat{}, fmt.Errorf("unsupported framebuffer channel layout %+v", f)
		}
	}
	return pixelFormat{r: int(v.Red.Offset / 8), g: int(v.Green.Offset / 8), b: int(v.Blue.Offset / 8)}, nil
}

// fbdev is a mapped framebuffer device.
type fbdev struct {
	file   *os.File
	mem    []byte
	size   image.Point
	stride int
	format pixelFormat
	mmSize [2]int
}

func openFbdev(path string) (*fbdev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open framebuffer: %w", err)
	}

	var vinfo fbVarScreenInfo
	var finfo fbFixScreenInfo
	if err := ioctlPtr(f, fbioGetVScreenInfo, unsafe.Pointer(&vinfo)); err != nil { //nolint:gosec // required for ioctl syscall
		f.Close()
		return nil, fmt.Errorf("FBIOGET_VSCREENINFO: %w", err)
	}
	if err := ioctlPtr(f, fbioGetFScreenInfo, unsafe.Pointer(&finfo)); err != nil { //nolint:gosec // required for ioctl syscall
		f.Close()
		return nil, fmt.Errorf("FBIOGET_FSCREENINFO: %w", err)
	}
	format, err := fbFormat(&vinfo)
	if err != nil {
		f.Close()
		return nil, err
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, int(finfo.SmemLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to map framebuffer: %w", err)
	}

	// Draw into the visible page.
	if vinfo.YOffset != 0 {
		vinfo.YOffset = 0
		_ = ioctlPtr(f, fbioPanDisplay, unsafe.Pointer(&vinfo)) //nolint:gosec // required for ioctl syscall
	}

	return &fbdev{
		file:   f,
		mem:    mem,
		size:   image.Pt(int(vinfo.XRes), int(vinfo.YRes)),
		stride: int(finfo.LineLength),
		format: format,
		mmSize: [2]int{int(vinfo.Width), int(vinfo.Height)},
	}, nil
}

// blit copies rects of src into the mapped memory.
func (fb *fbdev) blit(src *image.RGBA, rects []image.Rectangle) {
	copyPixels(fb.mem, fb.stride, fb.format, src, rects)
}

func (fb *fbdev) close() error {
	var err error
	if fb.mem != nil {
		err = unix.Munmap(fb.mem)
		fb.mem = nil
	}
	if cerr := fb.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// copyPixels converts rectangles of an RGBA image into a 32 bit pixel
// buffer with the given layout. Rectangles are clipped to both buffers.
func copyPixels(dst []byte, stride int, f pixelFormat, src *image.RGBA, rects []image.Rectangle) {
	height := len(dst) / stride
	limit := src.Bounds().Intersect(image.Rect(0, 0, stride/4, height))
	for _, r := range rects {
		r = r.Intersect(limit)
		for y := r.Min.Y; y < r.Max.Y; y++ {
			s := src.PixOffset(r.Min.X, y)
			d := y*stride + r.Min.X*4
			for x := r.Min.X; x < r.Max.X; x++ {
				px := dst[d : d+4 : d+4]
				px[0], px[1], px[2], px[3] = 0xff, 0xff, 0xff, 0xff
				px[f.r] = src.Pix[s]
				px[f.g] = src.Pix[s+1]
				px[f.b] = src.Pix[s+2]
				s += 4
				d += 4
			}
		}
	}
}

func ioctlPtr(f *os.File, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
