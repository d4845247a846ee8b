package xwayland

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/charmbracelet/log"
)

// windowOps is what the window manager asks of the X server.
type windowOps interface {
	MapWindow(win xproto.Window) error
	Configure(ev xproto.ConfigureRequestEvent) error
	Title(win xproto.Window) string
	Class(win xproto.Window) string
}

type wmAtoms struct {
	wlSurfaceID xproto.Atom
	wmName      xproto.Atom
	netWmName   xproto.Atom
}

type window struct {
	id        xproto.Window
	geometry  image.Rectangle
	override  bool
	mapped    bool
	surfaceID uint32
	title     string
}

// wm tracks top-level X windows and turns X events into bridge events.
type wm struct {
	ops     windowOps
	atoms   wmAtoms
	windows map[xproto.Window]*window
	emit    func(...Event)
	log     *log.Logger
}

func newWM(ops windowOps, atoms wmAtoms, emit func(...Event), log *log.Logger) *wm {
	return &wm{
		ops:     ops,
		atoms:   atoms,
		windows: make(map[xproto.Window]*window),
		emit:    emit,
		log:     log,
	}
}

func rect(x, y int16, w, h uint16) image.Rectangle {
	return image.Rect(int(x), int(y), int(x)+int(w), int(y)+int(h))
}

func (m *wm) handle(ev xgb.Event) {
	switch e := ev.(type) {
	case xproto.CreateNotifyEvent:
		m.windows[e.Window] = &window{
			id:       e.Window,
			geometry: rect(e.X, e.Y, e.Width, e.Height),
			override: e.OverrideRedirect,
		}

	case xproto.MapRequestEvent:
		if err := m.ops.MapWindow(e.Window); err != nil {
			m.log.Debug("failed to map window", "window", e.Window, "err", err)
		}

	case xproto.MapNotifyEvent:
		w := m.window(e.Window)
		w.mapped = true
		w.title = m.ops.Title(e.Window)
		m.emit(WindowMapped{
			Window:   uint32(w.id),
			Title:    w.title,
			Class:    m.ops.Class(e.Window),
			Geometry: w.geometry,
			Override: w.override,
		})
		if w.surfaceID != 0 {
			m.emit(WindowAssociated{Window: uint32(w.id), SurfaceID: w.surfaceID})
		}

	case xproto.ConfigureRequestEvent:
		if err := m.ops.Configure(e); err != nil {
			m.log.Debug("failed to configure window", "window", e.Window, "err", err)
		}

	case xproto.ConfigureNotifyEvent:
		w := m.window(e.Window)
		g := rect(e.X, e.Y, e.Width, e.Height)
		if g == w.geometry {
			return
		}
		w.geometry = g
		if w.mapped {
			m.emit(WindowConfigured{Window: uint32(w.id), Geometry: g})
		}

	case xproto.PropertyNotifyEvent:
		if e.Atom != m.atoms.wmName && e.Atom != m.atoms.netWmName {
			return
		}
		w, ok := m.windows[e.Window]
		if !ok || !w.mapped {
			return
		}
		if title := m.ops.Title(e.Window); title != w.title {
			w.title = title
			m.emit(WindowTitle{Window: uint32(w.id), Title: title})
		}

	case xproto.ClientMessageEvent:
		if e.Type != m.atoms.wlSurfaceID || e.Format != 32 {
			return
		}
		w := m.window(e.Window)
		w.surfaceID = e.Data.Data32[0]
		if w.mapped {
			m.emit(WindowAssociated{Window: uint32(w.id), SurfaceID: w.surfaceID})
		}

	case xproto.UnmapNotifyEvent:
		if w, ok := m.windows[e.Window]; ok && w.mapped {
			w.mapped = false
			m.emit(WindowUnmapped{Window: uint32(w.id)})
		}

	case xproto.DestroyNotifyEvent:
		w, ok := m.windows[e.Window]
		if !ok {
			return
		}
		delete(m.windows, e.Window)
		if w.mapped {
			m.emit(WindowUnmapped{Window: uint32(w.id)})
		}
	}
}

// window returns tracked state, creating it for windows created before the
// manager selected substructure events.
func (m *wm) window(id xproto.Window) *window {
	w, ok := m.windows[id]
	if !ok {
		w = &window{id: id}
		m.windows[id] = w
	}
	return w
}

// xops implements windowOps on a live connection.
type xops struct {
	xu *xgbutil.XUtil
}

func (o xops) MapWindow(win xproto.Window) error {
	return xproto.MapWindowChecked(o.xu.Conn(), win).Check()
}

func (o xops) Configure(ev xproto.ConfigureRequestEvent) error {
	// Values must follow the order of the mask bits.
	var values []uint32
	mask := ev.ValueMask
	if mask&xproto.ConfigWindowX != 0 {
		values = append(values, uint32(ev.X))
	}
	if mask&xproto.ConfigWindowY != 0 {
		values = append(values, uint32(ev.Y))
	}
	if mask&xproto.ConfigWindowWidth != 0 {
		values = append(values, uint32(ev.Width))
	}
	if mask&xproto.ConfigWindowHeight != 0 {
		values = append(values, uint32(ev.Height))
	}
	if mask&xproto.ConfigWindowBorderWidth != 0 {
		values = append(values, uint32(ev.BorderWidth))
	}
	if mask&xproto.ConfigWindowSibling != 0 {
		values = append(values, uint32(ev.Sibling))
	}
	if mask&xproto.ConfigWindowStackMode != 0 {
		values = append(values, uint32(ev.StackMode))
	}
	return xproto.ConfigureWindowChecked(o.xu.Conn(), ev.Window, mask, values).Check()
}

func (o xops) Title(win xproto.Window) string {
	if name, err := ewmh.WmNameGet(o.xu, win); err == nil && name != "" {
		return name
	}
	name, _ := icccm.WmNameGet(o.xu, win)
	return name
}

func (o xops) Class(win xproto.Window) string {
	if class, err := icccm.WmClassGet(o.xu, win); err == nil {
		return class.Class
	}
	return ""
}

// becomeWM selects substructure redirection on the root window and
// advertises an EWMH check window.
func becomeWM(xu *xgbutil.XUtil) (wmAtoms, error) {
	conn, root := xu.Conn(), xu.RootWin()
	mask := uint32(xproto.EventMaskSubstructureRedirect | xproto.EventMaskSubstructureNotify | xproto.EventMaskPropertyChange)
	if err := xproto.ChangeWindowAttributesChecked(conn, root, xproto.CwEventMask, []uint32{mask}).Check(); err != nil {
		return wmAtoms{}, fmt.Errorf("another window manager is running: %w", err)
	}

	var atoms wmAtoms
	for name, dst := range map[string]*xproto.Atom{
		"WL_SURFACE_ID": &atoms.wlSurfaceID,
		"WM_NAME":       &atoms.wmName,
		"_NET_WM_NAME":  &atoms.netWmName,
	} {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			return wmAtoms{}, fmt.Errorf("failed to intern %s: %w", name, err)
		}
		*dst = reply.Atom
	}

	check, err := xproto.NewWindowId(conn)
	if err != nil {
		return wmAtoms{}, err
	}
	screen := xu.Screen()
	err = xproto.CreateWindowChecked(conn, screen.RootDepth, check, root, -1, -1, 1, 1, 0,
		xproto.WindowClassInputOutput, screen.RootVisual, 0, nil).Check()
	if err != nil {
		return wmAtoms{}, fmt.Errorf("failed to create check window: %w", err)
	}
	if err := ewmh.SupportingWmCheckSet(xu, root, check); err != nil {
		return wmAtoms{}, err
	}
	if err := ewmh.SupportingWmCheckSet(xu, check, check); err != nil {
		return wmAtoms{}, err
	}
	if err := ewmh.WmNameSet(xu, check, "anvil"); err != nil {
		return wmAtoms{}, err
	}
	if err := ewmh.SupportedSet(xu, []string{"_NET_WM_NAME", "_NET_SUPPORTING_WM_CHECK"}); err != nil {
		return wmAtoms{}, err
	}
	return atoms, nil
}
