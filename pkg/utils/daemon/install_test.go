package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) systemctl(args ...string) error {
	r.calls = append(r.calls, strings.Join(args, " "))
	return r.err
}

func TestInstallUninstall(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	s := &Service{
		UnitDir:    filepath.Join(dir, "systemd", "user"),
		Executable: "/opt/bhc/bin/bhc",
		Systemctl:  rec.systemctl,
	}

	require.NoError(t, s.Install())

	unitPath, err := s.UnitPath()
	require.NoError(t, err)
	b, err := os.ReadFile(unitPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "ExecStart=/opt/bhc/bin/bhc daemon")
	assert.NotContains(t, string(b), "/path/to/bhc")
	assert.Equal(t, []string{"daemon-reload", "enable --now bhc.service"}, rec.calls)

	rec.calls = nil
	require.NoError(t, s.Uninstall())
	assert.NoFileExists(t, unitPath)
	assert.Equal(t, []string{"disable --now bhc.service", "daemon-reload"}, rec.calls)

	// second uninstall is a no-op
	rec.calls = nil
	require.NoError(t, s.Uninstall())
	assert.Empty(t, rec.calls)
}

func TestInstallSystemctlFailure(t *testing.T) {
	rec := &recorder{err: errors.New("no user bus")}
	s := &Service{
		UnitDir:    t.TempDir(),
		Executable: "/usr/bin/bhc",
		Systemctl:  rec.systemctl,
	}

	assert.ErrorContains(t, s.Install(), "no user bus")
	assert.Equal(t, []string{"daemon-reload"}, rec.calls)
}
