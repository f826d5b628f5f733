package sysfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAttr(t *testing.T, root, p, content string) {
	t.Helper()
	full := filepath.Join(root, p)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestReadInt(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, BatteryPath("BAT0", "charge_control_end_threshold"), "80\n")
	writeAttr(t, root, BatteryPath("BAT0", "garbage"), "eighty\n")

	fs := New(root)

	v, err := fs.ReadInt(BatteryPath("BAT0", "charge_control_end_threshold"))
	require.NoError(t, err)
	assert.Equal(t, 80, v)

	_, err = fs.ReadInt(BatteryPath("BAT0", "garbage"))
	assert.Error(t, err)

	_, err = fs.ReadInt(BatteryPath("BAT9", "charge_control_end_threshold"))
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, "/sys/module/toshiba_acpi/refcnt", "1\n")

	fs := New(root)
	assert.True(t, fs.Exists("/sys/module/toshiba_acpi"))
	assert.False(t, fs.Exists("/sys/devices/platform/msi-ec"))
}

func TestBatteryCapacity(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, BatteryPath("BAT1", "capacity"), "57\n")
	writeAttr(t, root, BatteryPath("BAT1", "type"), "Battery\n")

	v, err := New(root).BatteryCapacity("BAT1")
	require.NoError(t, err)
	assert.Equal(t, 57, v)

	_, err = New(root).BatteryCapacity("BAT0")
	assert.Error(t, err)
}

func TestNewDefaultsToRoot(t *testing.T) {
	assert.Equal(t, "/", New("").Root())
	assert.Equal(t, "/sys/class/power_supply/BAT0/capacity", New("").Path(BatteryPath("BAT0", "capacity")))
}
