package input

import (
	"os"
	"path/filepath"
	"strings"
)

// DeviceLink returns the udev by-id (or, failing that, by-path) link name of
// an event node, e.g. "Logitech_USB_Receiver" for a node whose by-id link is
// usb-Logitech_USB_Receiver-event-mouse. The name survives replugging where
// the eventN number does not. It returns "" when no link points at the node.
func DeviceLink(eventPath string) string {
	dir := filepath.Dir(eventPath)
	node := filepath.Base(eventPath)
	for _, sub := range []string{"by-id", "by-path"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.Contains(e.Name(), "event") {
				continue
			}
			target, err := os.Readlink(filepath.Join(dir, sub, e.Name()))
			if err == nil && filepath.Base(target) == node {
				return cleanLinkName(e.Name())
			}
		}
	}
	return ""
}

func cleanLinkName(name string) string {
	name = strings.TrimPrefix(name, "usb-")
	for _, suffix := range []string{"-event-kbd", "-event-mouse", "-event-joystick", "-event"} {
		if trimmed, ok := strings.CutSuffix(name, suffix); ok {
			return trimmed
		}
	}
	return name
}
