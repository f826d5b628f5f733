package device

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/types"
)

func thinkpadTree(t *testing.T) *tree {
	return newTree(t).mkdir(VendorThinkPad).
		write(endPath("BAT0"), 100).write(startPath("BAT0"), 0).
		write(endPath("BAT1"), 100).write(startPath("BAT1"), 0)
}

func TestThinkPadAvailability(t *testing.T) {
	tr := thinkpadTree(t)
	env, _ := newEnv(tr, &fakeRunner{})
	assert.True(t, NewThinkPad(env).IsAvailable())

	tr = newTree(t).mkdir(VendorThinkPad).
		write(endPath("BAT0"), 100).write(startPath("BAT0"), 0)
	env, _ = newEnv(tr, &fakeRunner{})
	assert.False(t, NewThinkPad(env).IsAvailable())
	assert.True(t, NewThinkPadBAT0(env).IsAvailable())
	assert.False(t, NewThinkPadBAT1(env).IsAvailable())
}

func TestDefaultRegistryDetectsSingleBatteryThinkPad(t *testing.T) {
	tr := newTree(t).mkdir(VendorThinkPad).
		write(endPath("BAT0"), 100).write(startPath("BAT0"), 0)
	env, _ := newEnv(tr, &fakeRunner{})

	d, err := DefaultRegistry().Detect(env)
	require.NoError(t, err)
	assert.Equal(t, TypeThinkPadBAT0, d.Info().Type)
	assert.False(t, d.Info().HaveDualBattery)

	// a dual-battery machine keeps the dual variant
	env, _ = newEnv(thinkpadTree(t), &fakeRunner{})
	d, err = DefaultRegistry().Detect(env)
	require.NoError(t, err)
	assert.Equal(t, TypeThinkPad, d.Info().Type)
}

func TestThinkPadSingleBattery(t *testing.T) {
	tr := newTree(t).mkdir(VendorThinkPad).
		write(endPath("BAT1"), 100).write(startPath("BAT1"), 0)
	runner := writingRunner(tr)
	env, rec := newEnv(tr, runner)

	d := NewThinkPadBAT1(env)
	require.True(t, d.IsAvailable())
	require.NoError(t, d.SetThresholdLimit(context.Background(), types.ModeBalanced))

	assert.Equal(t, []privileged.Command{
		{Name: "BAT1_END_START", Arg1: "80", Arg2: "75"},
	}, runner.commands())
	applied := rec.applied(t)
	require.Len(t, applied, 1)
	assert.Equal(t, config.Battery1, applied[0].Battery)
	assert.Equal(t, 80, d.LastApplied(config.Battery1))
}

func TestThinkPadDualUsesSecondaryThresholds(t *testing.T) {
	tr := thinkpadTree(t)
	runner := writingRunner(tr)
	env, rec := newEnv(tr, runner)
	env.Config.SetEndThreshold(types.ModeBalanced, config.Battery2, 70)
	env.Config.SetStartThreshold(types.ModeBalanced, config.Battery2, 65)

	d := NewThinkPad(env)
	dual, ok := d.(DualBattery)
	require.True(t, ok)
	require.NoError(t, dual.SetThresholdLimitDual(context.Background(), types.ModeBalanced))

	assert.Equal(t, []privileged.Command{
		{Name: "BAT0_END_START", Arg1: "80", Arg2: "75"},
		{Name: "BAT1_END_START", Arg1: "70", Arg2: "65"},
	}, runner.commands())

	applied := rec.applied(t)
	require.Len(t, applied, 2)
	assert.Equal(t, config.Battery1, applied[0].Battery)
	assert.Equal(t, config.Battery2, applied[1].Battery)
	assert.Equal(t, 80, d.LastApplied(config.Battery1))
	assert.Equal(t, 70, d.LastApplied(config.Battery2))
}

func TestThinkPadDualPartialFailure(t *testing.T) {
	tr := thinkpadTree(t)
	inner := writingRunner(tr)
	runner := &fakeRunner{fn: func(cmd privileged.Command) (privileged.Result, error) {
		if strings.HasPrefix(cmd.Name, "BAT1") {
			return privileged.Result{ExitStatus: 1}, nil
		}
		return inner.fn(cmd)
	}}
	env, rec := newEnv(tr, runner)

	err := NewThinkPad(env).(DualBattery).SetThresholdLimitDual(context.Background(), types.ModeMaxLifespan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrApplyFailed))

	applied := rec.applied(t)
	require.Len(t, applied, 2)
	assert.True(t, applied[0].Applied)
	assert.False(t, applied[1].Applied)
}

func TestThinkPadShortCircuitNeedsStartToo(t *testing.T) {
	tr := thinkpadTree(t).write(endPath("BAT0"), 80).write(startPath("BAT0"), 70)
	runner := writingRunner(tr)
	env, _ := newEnv(tr, runner)

	// end matches, start (75) does not
	require.NoError(t, NewThinkPad(env).SetThresholdLimit(context.Background(), types.ModeBalanced))
	assert.Len(t, runner.commands(), 1)

	runner2 := &fakeRunner{}
	env.Runner = runner2
	require.NoError(t, NewThinkPad(env).SetThresholdLimit(context.Background(), types.ModeBalanced))
	assert.Empty(t, runner2.commands())
}

func TestThinkPadMinDiff(t *testing.T) {
	tr := thinkpadTree(t)
	runner := &fakeRunner{}
	env, _ := newEnv(tr, runner)
	env.Config.SetEndThreshold(types.ModeBalanced, config.Battery1, 76)
	env.Config.SetStartThreshold(types.ModeBalanced, config.Battery1, 75)

	err := NewThinkPad(env).SetThresholdLimit(context.Background(), types.ModeBalanced)
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)
	assert.Empty(t, runner.commands())
}
