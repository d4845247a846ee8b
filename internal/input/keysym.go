package input

import "fmt"

// Keysym is an X11 keysym value.
type Keysym uint32

const (
	KeyNoSymbol   Keysym = 0
	KeyBackSpace  Keysym = 0xff08
	KeyTab        Keysym = 0xff09
	KeyReturn     Keysym = 0xff0d
	KeyPause      Keysym = 0xff13
	KeyScrollLock Keysym = 0xff14
	KeyEscape     Keysym = 0xff1b
	KeyHome       Keysym = 0xff50
	KeyLeft       Keysym = 0xff51
	KeyUp         Keysym = 0xff52
	KeyRight      Keysym = 0xff53
	KeyDown       Keysym = 0xff54
	KeyPageUp     Keysym = 0xff55
	KeyPageDown   Keysym = 0xff56
	KeyEnd        Keysym = 0xff57
	KeyPrint      Keysym = 0xff61
	KeyInsert     Keysym = 0xff63
	KeyNumLock    Keysym = 0xff7f
	KeyKPEnter    Keysym = 0xff8d
	KeyKPHome     Keysym = 0xff95
	KeyKPLeft     Keysym = 0xff96
	KeyKPUp       Keysym = 0xff97
	KeyKPRight    Keysym = 0xff98
	KeyKPDown     Keysym = 0xff99
	KeyKPPageUp   Keysym = 0xff9a
	KeyKPPageDown Keysym = 0xff9b
	KeyKPEnd      Keysym = 0xff9c
	KeyKPBegin    Keysym = 0xff9d
	KeyKPInsert   Keysym = 0xff9e
	KeyKPDelete   Keysym = 0xff9f
	KeyKPMultiply Keysym = 0xffaa
	KeyKPAdd      Keysym = 0xffab
	KeyKPSubtract Keysym = 0xffad
	KeyKPDecimal  Keysym = 0xffae
	KeyKPDivide   Keysym = 0xffaf
	KeyKP0        Keysym = 0xffb0
	KeyF1         Keysym = 0xffbe
	KeyF12        Keysym = 0xffc9
	KeyShiftL     Keysym = 0xffe1
	KeyShiftR     Keysym = 0xffe2
	KeyControlL   Keysym = 0xffe3
	KeyControlR   Keysym = 0xffe4
	KeyCapsLock   Keysym = 0xffe5
	KeyAltL       Keysym = 0xffe9
	KeyAltR       Keysym = 0xffea
	KeySuperL     Keysym = 0xffeb
	KeySuperR     Keysym = 0xffec
	KeyLevel3     Keysym = 0xfe03
	KeyLeftTab    Keysym = 0xfe20
	KeyDelete     Keysym = 0xffff
)

var keysymNames = map[Keysym]string{
	KeyBackSpace: "BackSpace", KeyTab: "Tab", KeyReturn: "Return", KeyEscape: "Escape",
	KeyHome: "Home", KeyLeft: "Left", KeyUp: "Up", KeyRight: "Right", KeyDown: "Down",
	KeyPageUp: "Prior", KeyPageDown: "Next", KeyEnd: "End", KeyInsert: "Insert",
	KeyDelete: "Delete", KeyShiftL: "Shift_L", KeyShiftR: "Shift_R",
	KeyControlL: "Control_L", KeyControlR: "Control_R", KeyCapsLock: "Caps_Lock",
	KeyAltL: "Alt_L", KeyAltR: "Alt_R", KeySuperL: "Super_L", KeySuperR: "Super_R",
	KeyNumLock: "Num_Lock", KeyLevel3: "ISO_Level3_Shift", KeyLeftTab: "ISO_Left_Tab",
	KeyKPEnter: "KP_Enter", KeyPrint: "Print", KeyPause: "Pause", KeyScrollLock: "Scroll_Lock",
}

func (k Keysym) String() string {
	if k >= KeyF1 && k <= KeyF12 {
		return fmt.Sprintf("F%d", k-KeyF1+1)
	}
	if k >= KeyKP0 && k <= KeyKP0+9 {
		return fmt.Sprintf("KP_%d", k-KeyKP0)
	}
	if name, ok := keysymNames[k]; ok {
		return name
	}
	if k > 0x20 && k < 0x7f {
		return string(rune(k))
	}
	if k == 0x20 {
		return "space"
	}
	if k == KeyNoSymbol {
		return "NoSymbol"
	}
	return fmt.Sprintf("0x%04x", uint32(k))
}

// Lower folds Latin-1 letters to lower case.
func (k Keysym) Lower() Keysym {
	if (k >= 'A' && k <= 'Z') || (k >= 0xc0 && k <= 0xde && k != 0xd7) {
		return k + 0x20
	}
	return k
}
