package session

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"unsafe"

	"github.com/bnema/anvil/internal/logger"
	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Linux console ioctls (linux/vt.h, linux/kd.h).
const (
	vtSetMode   = 0x5602
	vtRelDisp   = 0x5605
	vtActivate  = 0x5606
	vtAuto      = 0x00
	vtProcess   = 0x01
	vtAckAcq    = 0x02
	kdSetMode   = 0x4b3a
	kdText      = 0x00
	kdGraphics  = 0x01
	kdGetKbMode = 0x4b44
	kdSetKbMode = 0x4b45
	kbOff       = 0x04

	ttyMajor = 4
	maxVT    = 63
)

type vtMode struct {
	mode   int8
	waitv  int8
	relsig int16
	acqsig int16
	frsig  int16
}

// Direct controls the virtual terminal it runs on and opens devices
// itself. It needs root or the matching device permissions.
type Direct struct {
	seat   string
	tty    *os.File
	vt     int
	kbMode int
	guard  *Guard
	log    *log.Logger

	mu      sync.Mutex
	devices map[string]*Device

	signals chan os.Signal
	events  chan Event
	done    chan struct{}
	wg      conc.WaitGroup
}

// OpenDirect switches the controlling virtual terminal to graphics mode and
// process-controlled VT switching.
func OpenDirect(seat string) (*Direct, error) {
	if seat != "seat0" {
		return nil, fmt.Errorf("direct session only supports seat0, not %s", seat)
	}

	tty, err := os.OpenFile("/dev/tty", os.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open controlling terminal: %w", err)
	}
	vt, err := vtNumber(tty)
	if err != nil {
		_ = tty.Close()
		return nil, err
	}

	d := &Direct{
		seat:    seat,
		tty:     tty,
		vt:      vt,
		guard:   NewGuard(true),
		log:     logger.With("vt"),
		devices: make(map[string]*Device),
		signals: make(chan os.Signal, 4),
		events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
	if err := d.setup(); err != nil {
		_ = d.restore()
		_ = tty.Close()
		return nil, err
	}

	signal.Notify(d.signals, syscall.SIGUSR1, syscall.SIGUSR2)
	d.wg.Go(d.listen)
	d.log.Info("took control of virtual terminal", "vt", vt)
	return d, nil
}

func vtNumber(tty *os.File) (int, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(tty.Fd()), &st); err != nil {
		return 0, fmt.Errorf("stat tty: %w", err)
	}
	rdev := uint64(st.Rdev)
	major, minor := unix.Major(rdev), unix.Minor(rdev)
	if major != ttyMajor || minor < 1 || minor > maxVT {
		return 0, fmt.Errorf("not running on a virtual terminal")
	}
	return int(minor), nil
}

func (d *Direct) fd() int { return int(d.tty.Fd()) }

func (d *Direct) setup() error {
	mode, err := unix.IoctlGetInt(d.fd(), kdGetKbMode)
	if err != nil {
		return fmt.Errorf("failed to read keyboard mode: %w", err)
	}
	d.kbMode = mode
	if err := unix.IoctlSetInt(d.fd(), kdSetKbMode, kbOff); err != nil {
		return fmt.Errorf("failed to disable tty keyboard: %w", err)
	}
	if err := unix.IoctlSetInt(d.fd(), kdSetMode, kdGraphics); err != nil {
		return fmt.Errorf("failed to set graphics mode: %w", err)
	}
	m := vtMode{mode: vtProcess, relsig: int16(syscall.SIGUSR1), acqsig: int16(syscall.SIGUSR2)}
	if err := d.setVTMode(&m); err != nil {
		return fmt.Errorf("failed to take over vt switching: %w", err)
	}
	return nil
}

func (d *Direct) setVTMode(m *vtMode) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd()), vtSetMode, uintptr(unsafe.Pointer(m)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *Direct) restore() error {
	var err error
	err = multierr.Append(err, d.setVTMode(&vtMode{mode: vtAuto}))
	err = multierr.Append(err, unix.IoctlSetInt(d.fd(), kdSetMode, kdText))
	if d.kbMode != 0 {
		err = multierr.Append(err, unix.IoctlSetInt(d.fd(), kdSetKbMode, d.kbMode))
	}
	return err
}

func (d *Direct) Kind() string         { return "direct" }
func (d *Direct) Seat() string         { return d.seat }
func (d *Direct) Guard() *Guard        { return d.guard }
func (d *Direct) Events() <-chan Event { return d.events }

// Open opens a device node directly.
func (d *Direct) Open(path string) (*Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dev, ok := d.devices[path]; ok {
		return dev, nil
	}

	major, minor, err := devnum(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	dev := &Device{Path: path, Major: major, Minor: minor, file: f, paused: !d.guard.Active()}
	d.devices[path] = dev
	return dev, nil
}

// Release closes a device.
func (d *Direct) Release(dev *Device) error {
	d.mu.Lock()
	delete(d.devices, dev.Path)
	d.mu.Unlock()
	return dev.close()
}

// SwitchVT activates another virtual terminal. The kernel then asks us to
// release the display through SIGUSR1.
func (d *Direct) SwitchVT(vt int) error {
	if vt < 1 || vt > maxVT {
		return fmt.Errorf("invalid vt %d", vt)
	}
	if vt == d.vt {
		return nil
	}
	if err := unix.IoctlSetInt(d.fd(), vtActivate, vt); err != nil {
		return fmt.Errorf("failed to switch to vt%d: %w", vt, err)
	}
	return nil
}

func (d *Direct) listen() {
	for {
		select {
		case <-d.done:
			return
		case sig := <-d.signals:
			switch sig {
			case syscall.SIGUSR1:
				d.release()
			case syscall.SIGUSR2:
				d.acquire()
			}
		}
	}
}

// release gives up the display when the kernel asks to switch away.
func (d *Direct) release() {
	if d.guard.Set(false) {
		d.forEachDevice((*Device).pause)
		d.log.Info("session paused", "vt", d.vt)
		d.emit(Event{Kind: Paused})
	}
	if err := unix.IoctlSetInt(d.fd(), vtRelDisp, 1); err != nil {
		d.log.Warn("failed to release vt", "err", err)
	}
}

func (d *Direct) acquire() {
	if err := unix.IoctlSetInt(d.fd(), vtRelDisp, vtAckAcq); err != nil {
		d.log.Warn("failed to acknowledge vt acquisition", "err", err)
	}
	d.forEachDevice(func(dev *Device) { dev.resume(nil) })
	if d.guard.Set(true) {
		d.log.Info("session resumed", "vt", d.vt)
		d.emit(Event{Kind: Resumed})
	}
}

func (d *Direct) forEachDevice(fn func(*Device)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dev := range d.devices {
		fn(dev)
	}
}

func (d *Direct) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

// Close restores text mode and closes every device.
func (d *Direct) Close() error {
	select {
	case <-d.done:
		return nil
	default:
	}
	signal.Stop(d.signals)
	close(d.done)
	d.wg.Wait()

	var err error
	d.forEachDevice(func(dev *Device) { err = multierr.Append(err, dev.close()) })
	err = multierr.Append(err, d.restore())
	return multierr.Append(err, d.tty.Close())
}
