package native

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unsafe"

	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/session"
	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sys/unix"
)

var eventSize = binary.Size(evdev.InputEvent{})

// capBits is one sysfs capability bitmap.
type capBits struct {
	n *big.Int
}

func (c capBits) has(bit int) bool {
	return c.n != nil && c.n.Bit(bit) == 1
}

// parseCapBits parses a sysfs capability bitmap: hex words of the native
// long size, most significant first.
func parseCapBits(s string) (capBits, error) {
	words := strings.Fields(s)
	n := new(big.Int)
	for _, w := range words {
		v, err := strconv.ParseUint(w, 16, strconv.IntSize)
		if err != nil {
			return capBits{}, fmt.Errorf("bad capability word %q: %w", w, err)
		}
		n.Lsh(n, strconv.IntSize)
		n.Or(n, new(big.Int).SetUint64(v))
	}
	return capBits{n: n}, nil
}

// deviceCaps is what sysfs says an event node can report.
type deviceCaps struct {
	name          string
	key, rel, abs capBits
	props         capBits
}

// propDirect is INPUT_PROP_DIRECT: the device is a touchscreen, not a pad.
const propDirect = 0x01

// probeDevice reads the name and capabilities of /dev/input/eventN from
// <sysfs>/eventN/device.
func probeDevice(sysfs, path string) (deviceCaps, error) {
	dir := filepath.Join(sysfs, filepath.Base(path), "device")
	name, err := os.ReadFile(filepath.Join(dir, "name"))
	if err != nil {
		return deviceCaps{}, fmt.Errorf("failed to read device name: %w", err)
	}
	caps := deviceCaps{name: strings.TrimSpace(string(name))}
	for file, dst := range map[string]*capBits{
		"capabilities/key": &caps.key,
		"capabilities/rel": &caps.rel,
		"capabilities/abs": &caps.abs,
		"properties":       &caps.props,
	} {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return deviceCaps{}, err
		}
		if *dst, err = parseCapBits(string(data)); err != nil {
			return deviceCaps{}, err
		}
	}
	return caps, nil
}

// classify maps kernel capabilities to seat capabilities. Touchpads and
// tablets are not driven.
func (c deviceCaps) classify() input.Capability {
	var caps input.Capability
	if c.key.has(evdev.KEY_A) && c.key.has(evdev.KEY_SPACE) {
		caps |= input.CapKeyboard
	}
	switch {
	case c.key.has(evdev.BTN_TOOL_PEN):
	case c.abs.has(evdev.ABS_MT_POSITION_X) && c.props.has(propDirect):
		caps |= input.CapTouch
	case c.key.has(evdev.BTN_TOOL_FINGER):
	case c.rel.has(evdev.REL_X) && c.key.has(evdev.BTN_LEFT):
		caps |= input.CapPointer
	case c.abs.has(evdev.ABS_X) && c.key.has(evdev.BTN_LEFT):
		caps |= input.CapPointer
	}
	return caps
}

// absRanges queries the absolute axis ranges the decoder normalizes with.
func absRanges(f *os.File, caps deviceCaps) (input.AbsRange, input.AbsRange) {
	xAxis, yAxis := evdev.ABS_X, evdev.ABS_Y
	if caps.abs.has(evdev.ABS_MT_POSITION_X) {
		xAxis, yAxis = evdev.ABS_MT_POSITION_X, evdev.ABS_MT_POSITION_Y
	}
	return absRange(f, xAxis), absRange(f, yAxis)
}

type absInfo struct {
	Value, Minimum, Maximum, Fuzz, Flat, Resolution int32
}

func absRange(f *os.File, axis int) input.AbsRange {
	// EVIOCGABS(abs) = _IOR('E', 0x40 + abs, struct input_absinfo)
	var info absInfo
	req := 0x80000000 | uint(unsafe.Sizeof(info))<<16 | uint('E')<<8 | uint(0x40+axis)
	if err := ioctlPtr(f, req, unsafe.Pointer(&info)); err != nil { //nolint:gosec // required for ioctl syscall
		return input.AbsRange{}
	}
	return input.AbsRange{Min: info.Minimum, Max: info.Maximum}
}

// decodeEvents splits a read buffer into kernel events.
func decodeEvents(buf []byte) []evdev.InputEvent {
	events := make([]evdev.InputEvent, len(buf)/eventSize)
	if len(events) == 0 {
		return nil
	}
	if err := binary.Read(bytes.NewReader(buf[:len(events)*eventSize]), binary.LittleEndian, &events); err != nil {
		return nil
	}
	return events
}

// inputDevice is an evdev node held through the session.
type inputDevice struct {
	info    input.DeviceInfo
	caps    deviceCaps
	dev     *session.Device
	decoder *input.EvdevDecoder
	running bool
}

// isGone reports whether a read error means the node was unplugged.
func isGone(err error) bool {
	return errors.Is(err, unix.ENODEV)
}
