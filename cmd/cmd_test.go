package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bnema/anvil/internal/backend/native"
	"github.com/bnema/anvil/internal/config"
	"github.com/bnema/anvil/internal/ipc"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	path := filepath.Join(t.TempDir(), "anvil.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := executeCommand("version")
	require.NoError(t, err)
	assert.Contains(t, out, "anvil "+Version)
}

func TestConfigShow(t *testing.T) {
	path := writeTestConfig(t, "backend = \"nested-x11\"\n[keyboard]\nlayout = \"fr\"\n")

	out, err := executeCommand("--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "nested-x11")
	assert.Contains(t, out, "fr")
	assert.Contains(t, out, "$DISPLAY")
}

func TestConfigInitDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	path := filepath.Join(t.TempDir(), "anvil.toml")

	out, err := executeCommand("--config", path, "config", "init", "--defaults")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend")
	assert.Contains(t, string(data), config.BackendHost)
}

func TestInvalidConfigFails(t *testing.T) {
	path := writeTestConfig(t, "backend = \"wayland\"\n")

	_, err := executeCommand("--config", path, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestStatusNotRunning(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "missing.sock")
	path := writeTestConfig(t, "[ipc]\nsocket_path = \""+sock+"\"\n")

	out, err := executeCommand("--config", path, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")

	_, err = executeCommand("--config", path, "quit")
	assert.ErrorIs(t, err, ipc.ErrNotRunning)
}

func TestNewBackendUnknownKind(t *testing.T) {
	c := config.DefaultConfig
	c.Backend = "wayland"
	_, err := newBackend(&c)
	assert.Error(t, err)
}

func TestParseRGBA(t *testing.T) {
	v, err := parseRGBA("#3366cc")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x3366ccff), v)

	v, err = parseRGBA("11223344")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), v)

	for _, bad := range []string{"", "#fff", "#gggggg", "#1122334455"} {
		_, err := parseRGBA(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseGeometry(t *testing.T) {
	req, err := parseGeometry([]string{"-10", "20", "300", "200"})
	require.NoError(t, err)
	assert.Equal(t, &ipc.Request{Op: ipc.OpAddSurface, X: -10, Y: 20, Width: 300, Height: 200}, req)

	for _, bad := range [][]string{
		{"a", "0", "10", "10"},
		{"300", "0", "-200", "-100"},
		{"0", "0", "0", "10"},
		{"2147483637", "0", "100", "100"},
		{"0", "0", "99999", "10"},
		{"0", "0", "4294967296", "10"},
	} {
		_, err := parseGeometry(bad)
		assert.Error(t, err, bad)
	}
}

func TestVisibleConnectors(t *testing.T) {
	conns := []native.ConnectorInfo{
		{Card: "card0", Name: "eDP-1", Connected: true},
		{Card: "card0", Name: "HDMI-A-1"},
		{Card: "card1", Name: "DP-2", Connected: true},
	}

	got := visibleConnectors(conns, false)
	require.Len(t, got, 2)
	assert.Equal(t, "eDP-1", got[0].Name)
	assert.Equal(t, "DP-2", got[1].Name)

	assert.Len(t, visibleConnectors(conns, true), 3)
}

func TestActiveOutputs(t *testing.T) {
	outputs := []ipc.OutputStatus{
		{ID: 1, State: "idle"},
		{ID: 2, State: "suspended"},
		{ID: 3, State: "presenting"},
	}
	got := activeOutputs(outputs)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(3), got[1].ID)
}

func TestReadScript(t *testing.T) {
	defer func() { injectFile = "" }()

	s, err := readScript(strings.NewReader("ignored"), []string{"move 1 2;", "click left"})
	require.NoError(t, err)
	assert.Equal(t, "move 1 2; click left", s)

	s, err = readScript(strings.NewReader("key KEY_A\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "key KEY_A\n", s)

	injectFile = filepath.Join(t.TempDir(), "script.txt")
	require.NoError(t, os.WriteFile(injectFile, []byte("sleep 1ms"), 0600))
	s, err = readScript(strings.NewReader("ignored"), []string{"move 1 1"})
	require.NoError(t, err)
	assert.Equal(t, "sleep 1ms", s)
}
