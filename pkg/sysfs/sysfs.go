package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	procsysfs "github.com/prometheus/procfs/sysfs"
	"github.com/sirupsen/logrus"
)

// Well-known locations, relative to the filesystem root.
const (
	PowerSupplyDir = "/sys/class/power_supply"
)

// FS reads kernel attribute files below a root directory.
// Root is "/" on a real system and a temp dir in tests.
type FS struct {
	root string
}

// New returns an FS rooted at root. An empty root means "/".
func New(root string) *FS {
	if root == "" {
		root = "/"
	}
	return &FS{root: root}
}

// Root returns the filesystem root.
func (f *FS) Root() string {
	return f.root
}

// Path maps an absolute system path into the root.
func (f *FS) Path(p string) string {
	return filepath.Join(f.root, p)
}

// Exists reports whether p exists. Permission errors count as present,
// since attribute files are frequently root-only.
func (f *FS) Exists(p string) bool {
	_, err := os.Stat(f.Path(p))
	if err == nil {
		return true
	}
	return !os.IsNotExist(err)
}

// ReadInt reads a newline-terminated ASCII integer.
func (f *FS) ReadInt(p string) (int, error) {
	logrus.WithFields(logrus.Fields{
		"path": p,
	}).Trace("Trying to read from sysfs")

	b, err := os.ReadFile(f.Path(p))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to read %s", p)
	}

	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to parse %s", p)
	}

	logrus.WithFields(logrus.Fields{
		"path": p,
		"val":  v,
	}).Trace("Read from sysfs succeed")

	return v, nil
}

// BatteryPath returns the power_supply attribute path of a battery, e.g.
// BatteryPath("BAT0", "capacity").
func BatteryPath(battery, attr string) string {
	return filepath.Join(PowerSupplyDir, battery, attr)
}

// BatteryCapacity returns the charge percentage of a battery.
func (f *FS) BatteryCapacity(battery string) (int, error) {
	fs, err := procsysfs.NewFS(f.Path("/sys"))
	if err == nil {
		class, err := fs.PowerSupplyClass()
		if err == nil {
			if ps, ok := class[battery]; ok && ps.Capacity != nil {
				return int(*ps.Capacity), nil
			}
		} else {
			logrus.WithError(err).Debug("failed to read power_supply class, falling back to capacity file")
		}
	}

	return f.ReadInt(BatteryPath(battery, "capacity"))
}
