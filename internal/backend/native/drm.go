package native

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// connector is a DRM connector as exposed in sysfs.
type connector struct {
	Name      string // e.g. "HDMI-A-1"
	Card      string // e.g. "card0"
	Connected bool
	Modes     []connectorMode
	PhysMM    [2]int
}

type connectorMode struct {
	Width, Height int
}

func (m connectorMode) String() string {
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// scanConnectors lists the connectors under a /sys/class/drm style
// directory, sorted by card and name.
func scanConnectors(root string) ([]connector, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var out []connector
	for _, e := range entries {
		card, name, ok := strings.Cut(e.Name(), "-")
		if !ok || !strings.HasPrefix(card, "card") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		status, err := os.ReadFile(filepath.Join(dir, "status"))
		if err != nil {
			continue
		}
		c := connector{
			Name:      name,
			Card:      card,
			Connected: strings.TrimSpace(string(status)) == "connected",
		}
		if data, err := os.ReadFile(filepath.Join(dir, "modes")); err == nil {
			c.Modes = parseModes(string(data))
		}
		if data, err := os.ReadFile(filepath.Join(dir, "edid")); err == nil {
			c.PhysMM = edidSize(data)
		}
		out = append(out, c)
	}

	slices.SortFunc(out, func(a, b connector) int {
		if c := strings.Compare(a.Card, b.Card); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// parseModes reads the "WxH" lines of a connector modes file. Interlaced
// suffixes are dropped and duplicates collapse.
func parseModes(data string) []connectorMode {
	var modes []connectorMode
	for _, line := range strings.Fields(data) {
		line = strings.TrimRight(line, "ip")
		ws, hs, ok := strings.Cut(line, "x")
		if !ok {
			continue
		}
		w, err1 := strconv.Atoi(ws)
		h, err2 := strconv.Atoi(hs)
		if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
			continue
		}
		m := connectorMode{Width: w, Height: h}
		if !slices.Contains(modes, m) {
			modes = append(modes, m)
		}
	}
	return modes
}

// edidSize returns the physical size in millimetres from an EDID base
// block, or zero when the block is too short.
func edidSize(edid []byte) [2]int {
	if len(edid) < 23 {
		return [2]int{}
	}
	// Bytes 21 and 22 hold the size in centimetres.
	return [2]int{int(edid[21]) * 10, int(edid[22]) * 10}
}

// firstConnected returns the first connected connector with a mode.
func firstConnected(conns []connector) (connector, bool) {
	for _, c := range conns {
		if c.Connected && len(c.Modes) > 0 {
			return c, true
		}
	}
	return connector{}, false
}

// ConnectorInfo describes a DRM connector for listing tools.
type ConnectorInfo struct {
	Card      string
	Name      string
	Connected bool
	Modes     []string
	PhysMM    [2]int
}

// Connectors lists the DRM connectors under root, e.g. /sys/class/drm.
func Connectors(root string) ([]ConnectorInfo, error) {
	conns, err := scanConnectors(root)
	if err != nil {
		return nil, err
	}
	out := make([]ConnectorInfo, 0, len(conns))
	for _, c := range conns {
		info := ConnectorInfo{Card: c.Card, Name: c.Name, Connected: c.Connected, PhysMM: c.PhysMM}
		for _, m := range c.Modes {
			info.Modes = append(info.Modes, m.String())
		}
		out = append(out, info)
	}
	return out, nil
}
