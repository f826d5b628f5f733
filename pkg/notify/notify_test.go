package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batteryhealth/bhc/pkg/events"
)

func collect(ch chan events.Event) []events.NotificationEvent {
	var out []events.NotificationEvent
	for {
		select {
		case ev := <-ch:
			p, _ := events.DecodeAs[events.NotificationEvent](ev)
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestHubPublishesEveryKind(t *testing.T) {
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	n := NewHub(hub, nil)

	n.NotifyUnsupportedDevice()
	n.NotifyNeedPolkitUpdate()
	n.NotifyNoPolkitInstalled()
	n.NotifyPolkitInstallationSuccessful()
	n.NotifyPolkitUpdateSuccessful()
	n.NotifyUninstallationSuccessful()
	n.NotifyAnErrorOccurred("Msi BAT0")

	got := collect(ch)
	require.Len(t, got, 7)
	kinds := make([]string, 0, len(got))
	for _, p := range got {
		kinds = append(kinds, p.Kind)
	}
	assert.Equal(t, []string{
		KindUnsupportedDevice,
		KindNeedPolkitUpdate,
		KindNoPolkitInstalled,
		KindPolkitInstalled,
		KindPolkitUpdated,
		KindPolkitUninstalled,
		KindApplyThresholdFailed,
	}, kinds)
	assert.Equal(t, "Msi BAT0", got[6].Device)
	assert.Contains(t, got[6].Message, "Msi BAT0")
}

func TestHubSilencedWhenDisabled(t *testing.T) {
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	enabled := false
	n := NewHub(hub, func() bool { return enabled })

	n.NotifyNoPolkitInstalled()
	assert.Empty(t, collect(ch))

	enabled = true
	n.NotifyNoPolkitInstalled()
	assert.Len(t, collect(ch), 1)
}

func TestHubDestroy(t *testing.T) {
	hub := events.NewEventHub()
	ch := hub.Subscribe()
	n := NewHub(hub, nil)

	n.Destroy()
	n.Destroy()
	n.NotifyAnErrorOccurred("x")
	assert.Empty(t, collect(ch))
}
