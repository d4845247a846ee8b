package input

import (
	"fmt"
	"sort"

	evdev "github.com/gvalkov/golang-evdev"
)

// symPair holds the unshifted and shifted keysym of a key. Letter keys
// also honour Caps Lock.
type symPair struct {
	base, shifted Keysym
	letter        bool
}

func letter(c rune) symPair {
	return symPair{base: Keysym(c), shifted: Keysym(c - 0x20), letter: true}
}

func pair(base, shifted rune) symPair {
	return symPair{base: Keysym(base), shifted: Keysym(shifted)}
}

func fixed(k Keysym) symPair {
	return symPair{base: k, shifted: k}
}

// usLayout is the base map every other layout overrides.
var usLayout = map[uint32]symPair{
	evdev.KEY_ESC: fixed(KeyEscape),
	evdev.KEY_1:   pair('1', '!'), evdev.KEY_2: pair('2', '@'), evdev.KEY_3: pair('3', '#'),
	evdev.KEY_4: pair('4', '$'), evdev.KEY_5: pair('5', '%'), evdev.KEY_6: pair('6', '^'),
	evdev.KEY_7: pair('7', '&'), evdev.KEY_8: pair('8', '*'), evdev.KEY_9: pair('9', '('),
	evdev.KEY_0: pair('0', ')'), evdev.KEY_MINUS: pair('-', '_'), evdev.KEY_EQUAL: pair('=', '+'),
	evdev.KEY_BACKSPACE: fixed(KeyBackSpace),
	evdev.KEY_TAB:       {base: KeyTab, shifted: KeyLeftTab},

	evdev.KEY_Q: letter('q'), evdev.KEY_W: letter('w'), evdev.KEY_E: letter('e'),
	evdev.KEY_R: letter('r'), evdev.KEY_T: letter('t'), evdev.KEY_Y: letter('y'),
	evdev.KEY_U: letter('u'), evdev.KEY_I: letter('i'), evdev.KEY_O: letter('o'),
	evdev.KEY_P: letter('p'), evdev.KEY_LEFTBRACE: pair('[', '{'), evdev.KEY_RIGHTBRACE: pair(']', '}'),
	evdev.KEY_ENTER: fixed(KeyReturn),

	evdev.KEY_A: letter('a'), evdev.KEY_S: letter('s'), evdev.KEY_D: letter('d'),
	evdev.KEY_F: letter('f'), evdev.KEY_G: letter('g'), evdev.KEY_H: letter('h'),
	evdev.KEY_J: letter('j'), evdev.KEY_K: letter('k'), evdev.KEY_L: letter('l'),
	evdev.KEY_SEMICOLON: pair(';', ':'), evdev.KEY_APOSTROPHE: pair('\'', '"'),
	evdev.KEY_GRAVE: pair('`', '~'), evdev.KEY_BACKSLASH: pair('\\', '|'),

	evdev.KEY_Z: letter('z'), evdev.KEY_X: letter('x'), evdev.KEY_C: letter('c'),
	evdev.KEY_V: letter('v'), evdev.KEY_B: letter('b'), evdev.KEY_N: letter('n'),
	evdev.KEY_M: letter('m'), evdev.KEY_COMMA: pair(',', '<'), evdev.KEY_DOT: pair('.', '>'),
	evdev.KEY_SLASH: pair('/', '?'), evdev.KEY_SPACE: pair(' ', ' '),

	evdev.KEY_LEFTSHIFT: fixed(KeyShiftL), evdev.KEY_RIGHTSHIFT: fixed(KeyShiftR),
	evdev.KEY_LEFTCTRL: fixed(KeyControlL), evdev.KEY_RIGHTCTRL: fixed(KeyControlR),
	evdev.KEY_LEFTALT: fixed(KeyAltL), evdev.KEY_RIGHTALT: fixed(KeyAltR),
	evdev.KEY_LEFTMETA: fixed(KeySuperL), evdev.KEY_RIGHTMETA: fixed(KeySuperR),
	evdev.KEY_CAPSLOCK: fixed(KeyCapsLock), evdev.KEY_NUMLOCK: fixed(KeyNumLock),
	evdev.KEY_SCROLLLOCK: fixed(KeyScrollLock), evdev.KEY_SYSRQ: fixed(KeyPrint),
	evdev.KEY_PAUSE: fixed(KeyPause),

	evdev.KEY_F1: fixed(KeyF1), evdev.KEY_F2: fixed(KeyF1 + 1), evdev.KEY_F3: fixed(KeyF1 + 2),
	evdev.KEY_F4: fixed(KeyF1 + 3), evdev.KEY_F5: fixed(KeyF1 + 4), evdev.KEY_F6: fixed(KeyF1 + 5),
	evdev.KEY_F7: fixed(KeyF1 + 6), evdev.KEY_F8: fixed(KeyF1 + 7), evdev.KEY_F9: fixed(KeyF1 + 8),
	evdev.KEY_F10: fixed(KeyF1 + 9), evdev.KEY_F11: fixed(KeyF1 + 10), evdev.KEY_F12: fixed(KeyF12),

	evdev.KEY_HOME: fixed(KeyHome), evdev.KEY_END: fixed(KeyEnd),
	evdev.KEY_UP: fixed(KeyUp), evdev.KEY_DOWN: fixed(KeyDown),
	evdev.KEY_LEFT: fixed(KeyLeft), evdev.KEY_RIGHT: fixed(KeyRight),
	evdev.KEY_PAGEUP: fixed(KeyPageUp), evdev.KEY_PAGEDOWN: fixed(KeyPageDown),
	evdev.KEY_INSERT: fixed(KeyInsert), evdev.KEY_DELETE: fixed(KeyDelete),

	evdev.KEY_KPENTER: fixed(KeyKPEnter), evdev.KEY_KPPLUS: fixed(KeyKPAdd),
	evdev.KEY_KPMINUS: fixed(KeyKPSubtract), evdev.KEY_KPASTERISK: fixed(KeyKPMultiply),
	evdev.KEY_KPSLASH: fixed(KeyKPDivide),
}

// keypad maps keypad codes to their Num Lock off and on keysyms.
var keypad = map[uint32][2]Keysym{
	evdev.KEY_KP0: {KeyKPInsert, KeyKP0}, evdev.KEY_KP1: {KeyKPEnd, KeyKP0 + 1},
	evdev.KEY_KP2: {KeyKPDown, KeyKP0 + 2}, evdev.KEY_KP3: {KeyKPPageDown, KeyKP0 + 3},
	evdev.KEY_KP4: {KeyKPLeft, KeyKP0 + 4}, evdev.KEY_KP5: {KeyKPBegin, KeyKP0 + 5},
	evdev.KEY_KP6: {KeyKPRight, KeyKP0 + 6}, evdev.KEY_KP7: {KeyKPHome, KeyKP0 + 7},
	evdev.KEY_KP8: {KeyKPUp, KeyKP0 + 8}, evdev.KEY_KP9: {KeyKPPageUp, KeyKP0 + 9},
	evdev.KEY_KPDOT: {KeyKPDelete, KeyKPDecimal},
}

// frLayout overrides the keys that differ on a French AZERTY keyboard.
var frLayout = map[uint32]symPair{
	evdev.KEY_Q: letter('a'), evdev.KEY_W: letter('z'),
	evdev.KEY_A: letter('q'), evdev.KEY_Z: letter('w'),
	evdev.KEY_SEMICOLON: letter('m'), evdev.KEY_M: pair(',', '?'),
	evdev.KEY_COMMA: pair(';', '.'), evdev.KEY_DOT: pair(':', '/'),
	evdev.KEY_SLASH: pair('!', 0xa7), // section sign
	evdev.KEY_1: pair('&', '1'), evdev.KEY_2: pair(0xe9, '2'), evdev.KEY_3: pair('"', '3'),
	evdev.KEY_4: pair('\'', '4'), evdev.KEY_5: pair('(', '5'), evdev.KEY_6: pair('-', '6'),
	evdev.KEY_7: pair(0xe8, '7'), evdev.KEY_8: pair('_', '8'), evdev.KEY_9: pair(0xe7, '9'),
	evdev.KEY_0: pair(0xe0, '0'), evdev.KEY_MINUS: pair(')', 0xb0), evdev.KEY_EQUAL: pair('=', '+'),
	evdev.KEY_LEFTBRACE: pair(0xfe52, 0xfe57), // dead circumflex / diaeresis
	evdev.KEY_RIGHTBRACE: pair('$', 0xa3),
	evdev.KEY_APOSTROPHE: pair(0xf9, '%'), evdev.KEY_BACKSLASH: pair('*', 0xb5),
	evdev.KEY_GRAVE:    pair(0xb2, 0xb2),
	evdev.KEY_RIGHTALT: fixed(KeyLevel3),
}

var layouts = map[string]map[uint32]symPair{
	"us": nil,
	"fr": frLayout,
}

// Layouts returns the supported layout names.
func Layouts() []string {
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildLayout(name string) (map[uint32]symPair, error) {
	overrides, ok := layouts[name]
	if !ok {
		return nil, fmt.Errorf("unsupported keyboard layout %q", name)
	}
	table := make(map[uint32]symPair, len(usLayout))
	for code, sp := range usLayout {
		table[code] = sp
	}
	for code, sp := range overrides {
		table[code] = sp
	}
	return table, nil
}
