package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceLink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "by-id"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "by-path"), 0o755))
	for _, n := range []string{"event3", "event7", "event9"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o600))
	}
	require.NoError(t, os.Symlink("../event3", filepath.Join(dir, "by-id", "usb-Logitech_USB_Receiver-event-mouse")))
	require.NoError(t, os.Symlink("../event7", filepath.Join(dir, "by-path", "platform-i8042-serio-0-event-kbd")))

	assert.Equal(t, "Logitech_USB_Receiver", DeviceLink(filepath.Join(dir, "event3")))
	assert.Equal(t, "platform-i8042-serio-0", DeviceLink(filepath.Join(dir, "event7")))
	assert.Equal(t, "", DeviceLink(filepath.Join(dir, "event9")))
}
