package xwayland

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// maxDisplay bounds the search for a free display number.
const maxDisplay = 32

// display is a reserved X display number with its listening sockets.
type display struct {
	Number    int
	lockPath  string
	sockPath  string
	listeners []*net.UnixListener
}

func (d *display) Name() string {
	return ":" + strconv.Itoa(d.Number)
}

// files returns the listening descriptors to hand to the server.
func (d *display) files() ([]*os.File, error) {
	var out []*os.File
	for _, l := range d.listeners {
		f, err := l.File()
		if err != nil {
			for _, o := range out {
				o.Close()
			}
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (d *display) release() error {
	var err error
	for _, l := range d.listeners {
		err = multierr.Append(err, l.Close())
	}
	d.listeners = nil
	if rerr := os.Remove(d.lockPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		err = multierr.Append(err, rerr)
	}
	return err
}

// reserveDisplay takes the first free display number: it writes the lock
// file the X server protocol expects and binds the filesystem socket, plus
// the abstract one when abstract is set.
func reserveDisplay(lockDir, socketDir string, abstract bool) (*display, error) {
	if err := os.MkdirAll(socketDir, 0o1777); err != nil {
		return nil, fmt.Errorf("failed to create socket dir: %w", err)
	}

	for n := 0; n < maxDisplay; n++ {
		lock := filepath.Join(lockDir, fmt.Sprintf(".X%d-lock", n))
		if !takeLock(lock) {
			continue
		}
		d := &display{Number: n, lockPath: lock, sockPath: filepath.Join(socketDir, fmt.Sprintf("X%d", n))}
		if err := d.listen(abstract); err != nil {
			_ = d.release()
			continue
		}
		return d, nil
	}
	return nil, fmt.Errorf("no free X display below :%d", maxDisplay)
}

func (d *display) listen(abstract bool) error {
	// The lock is ours, so any socket file left here is stale.
	_ = os.Remove(d.sockPath)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: d.sockPath, Net: "unix"})
	if err != nil {
		return err
	}
	l.SetUnlinkOnClose(true)
	d.listeners = append(d.listeners, l)

	if abstract {
		al, err := net.ListenUnix("unix", &net.UnixAddr{Name: "@" + d.sockPath, Net: "unix"})
		if err != nil {
			return err
		}
		d.listeners = append(d.listeners, al)
	}
	return nil
}

// takeLock creates an X lock file holding our pid. A lock whose owner is
// gone is removed and taken over.
func takeLock(path string) bool {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%10d\n", os.Getpid())
			f.Close()
			if werr != nil {
				_ = os.Remove(path)
				return false
			}
			return true
		}
		if !errors.Is(err, os.ErrExist) || !staleLock(path) {
			return false
		}
		if err := os.Remove(path); err != nil {
			return false
		}
	}
	return false
}

// staleLock reports whether the pid in a lock file no longer runs.
func staleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	return errors.Is(unix.Kill(pid, 0), syscall.ESRCH)
}
