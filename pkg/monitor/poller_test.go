package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batteryhealth/bhc/pkg/sysfs"
)

func writeCapacity(t *testing.T, root string, v string) {
	t.Helper()
	dir := filepath.Join(root, "sys", "class", "power_supply", "BAT0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "capacity"), []byte(v+"\n"), 0o644))
}

func TestPollerDeliversReadings(t *testing.T) {
	root := t.TempDir()
	writeCapacity(t, root, "57")

	p := NewPoller(sysfs.New(root), 10*time.Millisecond)
	ch, unsubscribe := p.Subscribe("BAT0")
	defer unsubscribe()

	select {
	case v := <-ch:
		assert.Equal(t, 57, v)
	case <-time.After(2 * time.Second):
		t.Fatal("no reading delivered")
	}

	writeCapacity(t, root, "58")
	assert.Eventually(t, func() bool {
		select {
		case v := <-ch:
			return v == 58
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPollerUnsubscribeClosesChannel(t *testing.T) {
	root := t.TempDir()
	writeCapacity(t, root, "40")

	p := NewPoller(sysfs.New(root), 10*time.Millisecond)
	ch, unsubscribe := p.Subscribe("BAT0")
	unsubscribe()
	unsubscribe()

	assert.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewPollerDefaultInterval(t *testing.T) {
	p := NewPoller(sysfs.New(""), 0)
	assert.Equal(t, DefaultInterval, p.interval)
}
