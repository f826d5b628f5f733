// Package notify turns driver outcomes into user-facing notifications.
// Presentation is external: notifications are logged and published as
// notification events for whatever UI is listening.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/events"
)

// Notification kinds carried in events.NotificationEvent.Kind.
const (
	KindUnsupportedDevice    = "unsupported-device"
	KindNeedPolkitUpdate     = "need-polkit-update"
	KindNoPolkitInstalled    = "no-polkit-installed"
	KindPolkitInstalled      = "polkit-install-successful"
	KindPolkitUpdated        = "polkit-update-successful"
	KindPolkitUninstalled    = "polkit-uninstall-successful"
	KindApplyThresholdFailed = "apply-error"
)

type Notifier interface {
	NotifyUnsupportedDevice()
	NotifyNeedPolkitUpdate()
	NotifyNoPolkitInstalled()
	NotifyPolkitInstallationSuccessful()
	NotifyPolkitUpdateSuccessful()
	NotifyUninstallationSuccessful()
	NotifyAnErrorOccurred(deviceName string)
	Destroy()
}

// Hub publishes notifications on an event hub.
type Hub struct {
	pub events.Publisher
	// enabled reports whether the user wants notifications shown.
	enabled func() bool

	mu        *sync.Mutex
	destroyed bool
}

var _ Notifier = &Hub{}

// NewHub returns a Notifier. A nil enabled func means always enabled.
func NewHub(pub events.Publisher, enabled func() bool) *Hub {
	return &Hub{pub: pub, enabled: enabled, mu: &sync.Mutex{}}
}

func (h *Hub) notify(kind, title, message, device string) {
	h.mu.Lock()
	destroyed := h.destroyed
	h.mu.Unlock()
	if destroyed {
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"kind":   kind,
		"device": device,
	})

	if h.enabled != nil && !h.enabled() {
		log.Debugf("notification suppressed: %s", message)
		return
	}

	log.Infof("%s: %s", title, message)
	if h.pub == nil {
		return
	}
	h.pub.Publish(events.Notification, events.NotificationEvent{
		Kind:    kind,
		Title:   title,
		Message: message,
		Device:  device,
		Ts:      time.Now().Unix(),
	})
}

func (h *Hub) NotifyUnsupportedDevice() {
	h.notify(KindUnsupportedDevice, "Unsupported device",
		"This laptop does not expose a supported charge threshold interface.", "")
}

func (h *Hub) NotifyNeedPolkitUpdate() {
	h.notify(KindNeedPolkitUpdate, "Update required",
		"The privileged helper is outdated. Run 'bhc update' to update it.", "")
}

func (h *Hub) NotifyNoPolkitInstalled() {
	h.notify(KindNoPolkitInstalled, "Installation required",
		"The privileged helper is not installed. Run 'bhc install' to install it.", "")
}

func (h *Hub) NotifyPolkitInstallationSuccessful() {
	h.notify(KindPolkitInstalled, "Installed", "The privileged helper was installed.", "")
}

func (h *Hub) NotifyPolkitUpdateSuccessful() {
	h.notify(KindPolkitUpdated, "Updated", "The privileged helper was updated.", "")
}

func (h *Hub) NotifyUninstallationSuccessful() {
	h.notify(KindPolkitUninstalled, "Uninstalled", "The privileged helper was removed.", "")
}

func (h *Hub) NotifyAnErrorOccurred(deviceName string) {
	h.notify(KindApplyThresholdFailed, "Error",
		fmt.Sprintf("Failed to apply the charge threshold on %s.", deviceName), deviceName)
}

// Destroy stops all further notifications. Safe to call more than once.
func (h *Hub) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
}
