package events

import "encoding/json"

// Event name constants
const (
	ThresholdApplied = "threshold.applied"
	BatteryLevel     = "battery.level"
	DriverState      = "driver.state"
	Notification     = "notification"
)

// Event is a generic event published on the hub and streamed over SSE.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// ThresholdAppliedEvent is published exactly once per threshold apply call.
type ThresholdAppliedEvent struct {
	Device  string `json:"device"`
	Battery int    `json:"battery"`
	Applied bool   `json:"applied"`
	Value   int    `json:"value"`
	Ts      int64  `json:"ts"`
}

// BatteryLevelEvent is published when a monitored battery level changes.
type BatteryLevelEvent struct {
	Device string `json:"device"`
	Level  int    `json:"level"`
	Ts     int64  `json:"ts"`
}

// DriverStateEvent is the typed payload for driver.state.
type DriverStateEvent struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// NotificationEvent is a user-facing message for the external notifier UI.
type NotificationEvent struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Device  string `json:"device,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.BatteryLevelEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Device, payload.Level)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
