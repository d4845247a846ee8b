package native

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/bnema/anvil/internal/backend"
	"github.com/bnema/anvil/internal/input"
	"github.com/fsnotify/fsnotify"
)

// addDevice probes an event node and opens it through the session when it
// has a capability the seat drives.
func (b *Backend) addDevice(path string) {
	b.mu.Lock()
	_, known := b.devices[path]
	closing := b.closing
	b.mu.Unlock()
	if known || closing {
		return
	}

	caps, err := probeDevice(b.opts.InputSysfs, path)
	if err != nil {
		b.log.Debug("skipping input node", "path", path, "err", err)
		return
	}
	seatCaps := caps.classify()
	if seatCaps == 0 {
		b.log.Debug("ignoring input device", "path", path, "name", caps.name)
		return
	}

	dev, err := b.sess.Open(path)
	if err != nil {
		b.log.Warn("failed to open input device", "path", path, "err", err)
		return
	}
	var absX, absY input.AbsRange
	if f, ok := dev.File(); ok {
		absX, absY = absRanges(f, caps)
	}

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		_ = b.sess.Release(dev)
		return
	}
	b.nextID++
	link := input.DeviceLink(path)
	name := caps.name
	if name == "" {
		name = link
	}
	d := &inputDevice{
		info: input.DeviceInfo{ID: b.nextID, Name: name, Path: path, Caps: seatCaps},
		caps: caps,
		dev:  dev,
	}
	d.decoder = input.NewEvdevDecoder(d.info.ID, absX, absY)
	b.devices[path] = d
	b.mu.Unlock()

	b.log.Info("input device added", "device", d.info, "path", path, "link", link)
	b.events.Push(backend.InputDeviceAdded{Device: d.info})
	b.startReader(d)
}

// removeDevice forgets a device and gives it back to the session.
func (b *Backend) removeDevice(path string) {
	b.mu.Lock()
	d, ok := b.devices[path]
	delete(b.devices, path)
	b.mu.Unlock()
	if !ok {
		return
	}

	b.log.Info("input device removed", "device", d.info)
	if err := b.sess.Release(d.dev); err != nil {
		b.log.Debug("failed to release input device", "path", path, "err", err)
	}
	b.events.Push(backend.InputDeviceRemoved{ID: d.info.ID})
}

// startReader runs a reader for the device unless one is already running.
func (b *Backend) startReader(d *inputDevice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.running || b.closing {
		return
	}
	d.running = true
	b.wg.Go(func() { b.readDevice(d) })
}

// current returns the device's descriptor, or marks the reader stopped
// when the device is paused or gone.
func (b *Backend) current(d *inputDevice) (*os.File, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := d.dev.File()
	if !ok || b.closing || b.devices[d.info.Path] != d {
		d.running = false
		return nil, false
	}
	return f, true
}

func (b *Backend) readDevice(d *inputDevice) {
	buf := make([]byte, eventSize*64)
	for {
		f, ok := b.current(d)
		if !ok {
			return
		}
		n, err := f.Read(buf)
		if err == nil {
			b.feed(d, buf[:n])
			continue
		}

		// A resume may have swapped the descriptor under the read.
		if next, ok := b.current(d); ok && next != f {
			continue
		} else if !ok {
			return
		}
		if !b.sess.Guard().Active() {
			// Revoked while switched away; the resume restarts reading.
			b.mu.Lock()
			d.running = false
			b.mu.Unlock()
			return
		}
		if isGone(err) || errors.Is(err, os.ErrClosed) {
			b.removeDevice(d.info.Path)
			return
		}
		b.log.Warn("input read failed", "device", d.info, "err", err)
		b.removeDevice(d.info.Path)
		return
	}
}

func (b *Backend) feed(d *inputDevice, buf []byte) {
	events := decodeEvents(buf)
	var out []backend.Event
	for i := range events {
		for _, ev := range d.decoder.Feed(&events[i]) {
			out = append(out, backend.Input{Event: ev})
		}
	}
	if len(out) > 0 {
		b.events.Push(out...)
	}
}

// watchInput follows node creation and removal in the input directory.
func (b *Backend) watchInput() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(b.opts.InputGlob)); err != nil {
		w.Close()
		return err
	}
	b.watcher = w
	b.wg.Go(func() { b.watchLoop(w) })
	return nil
}

func (b *Backend) watchLoop(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			b.handleFsEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			b.log.Debug("input watcher error", "err", err)
		}
	}
}

func (b *Backend) handleFsEvent(ev fsnotify.Event) {
	if ok, _ := filepath.Match(b.opts.InputGlob, ev.Name); !ok {
		return
	}
	switch {
	case ev.Has(fsnotify.Create):
		path := ev.Name
		b.after(hotplugSettle, func() { b.addDevice(path) })
	case ev.Has(fsnotify.Remove):
		b.removeDevice(ev.Name)
	}
}
