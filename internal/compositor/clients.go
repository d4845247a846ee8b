package compositor

import (
	"time"

	"github.com/bnema/anvil/internal/input"
	"github.com/bnema/anvil/internal/logger"
	"github.com/bnema/anvil/internal/surface"
	"github.com/charmbracelet/log"
)

// Clients is the protocol side: routed input plus frame callbacks.
type Clients interface {
	input.Sink
	FrameDone(h surface.Handle, at time.Time)
}

// LogClients logs client notifications instead of sending them.
type LogClients struct {
	log *log.Logger
}

// NewLogClients returns a Clients that logs at debug level.
func NewLogClients() *LogClients {
	return &LogClients{log: logger.With("clients")}
}

func (l *LogClients) PointerEnter(h surface.Handle, x, y float64) {
	l.log.Debug("pointer enter", "surface", h, "x", x, "y", y)
}

func (l *LogClients) PointerLeave(h surface.Handle) {
	l.log.Debug("pointer leave", "surface", h)
}

func (l *LogClients) PointerMotion(h surface.Handle, _ uint32, x, y float64) {
	l.log.Debug("pointer motion", "surface", h, "x", x, "y", y)
}

func (l *LogClients) PointerButton(h surface.Handle, _ uint32, button uint32, pressed bool) {
	l.log.Debug("pointer button", "surface", h, "button", button, "pressed", pressed)
}

func (l *LogClients) PointerAxis(h surface.Handle, _ uint32, horizontal, vertical float64) {
	l.log.Debug("pointer axis", "surface", h, "h", horizontal, "v", vertical)
}

func (l *LogClients) KeyboardEnter(h surface.Handle, pressed []uint32, mods input.Modifiers) {
	l.log.Debug("keyboard enter", "surface", h, "pressed", len(pressed), "mods", mods)
}

func (l *LogClients) KeyboardLeave(h surface.Handle) {
	l.log.Debug("keyboard leave", "surface", h)
}

func (l *LogClients) Key(h surface.Handle, _ uint32, code uint32, pressed bool) {
	l.log.Debug("key", "surface", h, "code", code, "pressed", pressed)
}

func (l *LogClients) Modifiers(h surface.Handle, mods input.Modifiers) {
	l.log.Debug("modifiers", "surface", h, "mods", mods)
}

func (l *LogClients) TouchDown(h surface.Handle, _ uint32, slot int32, x, y float64) {
	l.log.Debug("touch down", "surface", h, "slot", slot, "x", x, "y", y)
}

func (l *LogClients) TouchMotion(h surface.Handle, _ uint32, slot int32, x, y float64) {
	l.log.Debug("touch motion", "surface", h, "slot", slot, "x", x, "y", y)
}

func (l *LogClients) TouchUp(h surface.Handle, _ uint32, slot int32) {
	l.log.Debug("touch up", "surface", h, "slot", slot)
}

func (l *LogClients) FrameDone(h surface.Handle, _ time.Time) {
	l.log.Debug("frame done", "surface", h)
}
