package powerinfo

import (
	"encoding/json"
	"testing"

	"github.com/distatus/battery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBattery(t *testing.T) {
	b := FromBattery(0, &battery.Battery{
		State:      battery.Discharging,
		Current:    25000,
		Full:       50000,
		Design:     60000,
		ChargeRate: 10000,
	})
	assert.Equal(t, Discharging, b.State)
	assert.Equal(t, 50, b.Level)
	assert.Equal(t, 83, b.Health)
	assert.Equal(t, -10000.0, b.ChargeRate)

	b = FromBattery(1, &battery.Battery{State: battery.Charging, ChargeRate: 5000})
	assert.Equal(t, Charging, b.State)
	assert.Equal(t, 5000.0, b.ChargeRate)
	assert.Equal(t, 0, b.Level)
	assert.Equal(t, 1, b.Index)
}

func TestBatteryStateJSON(t *testing.T) {
	b, err := json.Marshal(Battery{State: Full})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"full"`)

	var got Battery
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, Full, got.State)

	assert.Error(t, json.Unmarshal([]byte(`{"state":"sideways"}`), &got))
	assert.Equal(t, "unknown", BatteryState(42).String())
}
