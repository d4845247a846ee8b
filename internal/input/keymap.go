package input

import (
	"slices"
	"time"
)

// Modifier masks as sent to clients.
const (
	ModShift uint32 = 1 << 0
	ModLock  uint32 = 1 << 1
	ModCtrl  uint32 = 1 << 2
	ModAlt   uint32 = 1 << 3
	ModNum   uint32 = 1 << 4
	ModLogo  uint32 = 1 << 6
)

// Modifiers is the modifier and lock state of a keyboard.
type Modifiers struct {
	Shift    bool
	Ctrl     bool
	Alt      bool
	Logo     bool
	CapsLock bool
	NumLock  bool
}

// Depressed returns the mask of held modifiers.
func (m Modifiers) Depressed() uint32 {
	var mask uint32
	if m.Shift {
		mask |= ModShift
	}
	if m.Ctrl {
		mask |= ModCtrl
	}
	if m.Alt {
		mask |= ModAlt
	}
	if m.Logo {
		mask |= ModLogo
	}
	return mask
}

// Locked returns the mask of active locks.
func (m Modifiers) Locked() uint32 {
	var mask uint32
	if m.CapsLock {
		mask |= ModLock
	}
	if m.NumLock {
		mask |= ModNum
	}
	return mask
}

// RepeatInfo is advertised to clients, which synthesize repeats themselves.
type RepeatInfo struct {
	Rate  int // keys per second, 0 disables repeat
	Delay time.Duration
}

// KeyResult is the outcome of feeding one key event through the keymap.
type KeyResult struct {
	Sym         Keysym
	Mods        Modifiers
	ModsChanged bool
}

// Keymap translates evdev key codes to keysyms and tracks modifier state.
type Keymap struct {
	layout  string
	table   map[uint32]symPair
	repeat  RepeatInfo
	pressed []uint32

	mods Modifiers
	// held counts pressed keys per modifier so that releasing one of two
	// shift keys keeps shift active.
	held map[Keysym]int
}

// NewKeymap builds a keymap for a layout name.
func NewKeymap(layout string, repeat RepeatInfo) (*Keymap, error) {
	table, err := buildLayout(layout)
	if err != nil {
		return nil, err
	}
	return &Keymap{
		layout: layout,
		table:  table,
		repeat: repeat,
		held:   make(map[Keysym]int),
	}, nil
}

func (k *Keymap) Layout() string          { return k.layout }
func (k *Keymap) Repeat() RepeatInfo      { return k.repeat }
func (k *Keymap) Modifiers() Modifiers    { return k.mods }
func (k *Keymap) Pressed() []uint32       { return slices.Clone(k.pressed) }
func (k *Keymap) IsPressed(c uint32) bool { return slices.Contains(k.pressed, c) }

// Lookup returns the keysym a code produces under the current state.
func (k *Keymap) Lookup(code uint32) Keysym {
	if kp, ok := keypad[code]; ok {
		if k.mods.NumLock != k.mods.Shift {
			return kp[1]
		}
		return kp[0]
	}
	sp, ok := k.table[code]
	if !ok {
		return KeyNoSymbol
	}
	shift := k.mods.Shift
	if sp.letter && k.mods.CapsLock {
		shift = !shift
	}
	if shift {
		return sp.shifted
	}
	return sp.base
}

// Feed applies a key press or release. Repeated presses of a held key are
// ignored for modifier tracking.
func (k *Keymap) Feed(code uint32, pressed bool) KeyResult {
	before := k.mods
	sym := k.Lookup(code)

	if pressed {
		if k.IsPressed(code) {
			return KeyResult{Sym: sym, Mods: k.mods}
		}
		k.pressed = append(k.pressed, code)
	} else {
		i := slices.Index(k.pressed, code)
		if i < 0 {
			return KeyResult{Sym: sym, Mods: k.mods}
		}
		k.pressed = slices.Delete(k.pressed, i, i+1)
	}

	base := k.table[code].base
	switch base {
	case KeyShiftL, KeyShiftR, KeyControlL, KeyControlR, KeyAltL, KeyAltR, KeySuperL, KeySuperR:
		k.hold(base, pressed)
	case KeyCapsLock:
		if pressed {
			k.mods.CapsLock = !k.mods.CapsLock
		}
	case KeyNumLock:
		if pressed {
			k.mods.NumLock = !k.mods.NumLock
		}
	}

	return KeyResult{Sym: sym, Mods: k.mods, ModsChanged: k.mods != before}
}

func (k *Keymap) hold(sym Keysym, pressed bool) {
	if pressed {
		k.held[sym]++
	} else if k.held[sym] > 0 {
		k.held[sym]--
	}
	k.mods.Shift = k.held[KeyShiftL]+k.held[KeyShiftR] > 0
	k.mods.Ctrl = k.held[KeyControlL]+k.held[KeyControlR] > 0
	k.mods.Alt = k.held[KeyAltL]+k.held[KeyAltR] > 0
	k.mods.Logo = k.held[KeySuperL]+k.held[KeySuperR] > 0
}

// Reset releases every key and modifier while keeping lock state.
func (k *Keymap) Reset() {
	k.pressed = nil
	clear(k.held)
	locks := Modifiers{CapsLock: k.mods.CapsLock, NumLock: k.mods.NumLock}
	k.mods = locks
}

// Action is a compositor key binding.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionSwitchVT
	ActionToggleOverlay
)

func (a Action) String() string {
	switch a {
	case ActionQuit:
		return "quit"
	case ActionSwitchVT:
		return "switch-vt"
	case ActionToggleOverlay:
		return "toggle-overlay"
	default:
		return "none"
	}
}

// Binding is a matched compositor shortcut. VT is set for ActionSwitchVT.
type Binding struct {
	Action Action
	VT     int
}

// MatchBinding checks a pressed key against the compositor shortcuts:
// Ctrl+Alt+BackSpace quits, Ctrl+Alt+F1..F12 switches VT and Logo+D toggles
// the debug overlay.
func MatchBinding(sym Keysym, mods Modifiers) (Binding, bool) {
	if mods.Ctrl && mods.Alt {
		switch {
		case sym == KeyBackSpace:
			return Binding{Action: ActionQuit}, true
		case sym >= KeyF1 && sym <= KeyF12:
			return Binding{Action: ActionSwitchVT, VT: int(sym-KeyF1) + 1}, true
		}
	}
	if mods.Logo && sym.Lower() == 'd' {
		return Binding{Action: ActionToggleOverlay}, true
	}
	return Binding{}, false
}
