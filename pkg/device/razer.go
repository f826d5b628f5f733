package device

import (
	"context"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/types"
)

// Helper tokens for razer-cli's battery health optimizer (BHO).
const (
	razerRead  = "RAZER_CLI_READ"
	razerWrite = "RAZER_CLI_WRITE"
)

// razer drives the optimizer through razer-cli. A threshold of 100 means
// the optimizer is off.
type razer struct {
	base
}

var _ Device = &razer{}

// NewRazer returns the razer-cli variant.
func NewRazer(env Env) Device {
	info := &Info{
		Name:                  "Razer",
		Type:                  TypeRazer,
		NeedRootPermission:    true,
		HaveVariableThreshold: true,
		HaveBalancedMode:      true,
		IconForFullCapMode:    "100",
		IconForBalanceMode:    "080",
		IconForMaxLifeMode:    "060",
		EndRanges: map[types.ChargingMode]Range{
			types.ModeFullCapacity: {Min: 100, Max: 100},
			types.ModeBalanced:     {Min: 65, Max: 85},
			types.ModeMaxLifespan:  {Min: 50, Max: 85},
		},
		IncrementsStep: 5,
		IncrementsPage: 10,
		MinDiffLimit:   5,
	}
	return &razer{base: newBase(info, env)}
}

func (d *razer) IsAvailable() bool {
	return d.env.FS.Exists(RazerCLIPath)
}

// razerLines strips the JSON-ish decoration from razer-cli output and splits
// it into lines of whitespace separated tokens.
func razerLines(output string) [][]string {
	output = strings.NewReplacer("{", "", "}", "", ",", "", ":", "").Replace(strings.TrimSpace(output))
	var lines [][]string
	for _, l := range strings.Split(output, "\n") {
		lines = append(lines, strings.Fields(l))
	}
	return lines
}

// tokenAt returns the i-th token of line, or "" if absent.
func tokenAt(lines [][]string, line, i int) string {
	if line >= len(lines) || i >= len(lines[line]) {
		return ""
	}
	return lines[line][i]
}

// razerState is the parsed answer to RAZER_CLI_READ.
type razerState struct {
	on        bool
	threshold int
}

func parseRazerRead(output string) (razerState, error) {
	lines := razerLines(output)
	if tokenAt(lines, 0, 0) != "RES" ||
		tokenAt(lines, 0, 1) != "GetBatteryHealthOptimizer" ||
		tokenAt(lines, 0, 2) != "is_on" {
		return razerState{}, protocolError("unexpected read response %q", output)
	}

	var s razerState
	switch tokenAt(lines, 0, 3) {
	case "true":
		s.on = true
	case "false":
	default:
		return razerState{}, protocolError("unexpected optimizer state %q", tokenAt(lines, 0, 3))
	}

	if s.on {
		v, err := strconv.Atoi(tokenAt(lines, 0, 5))
		if err != nil {
			return razerState{}, protocolError("unexpected optimizer threshold %q", tokenAt(lines, 0, 5))
		}
		s.threshold = v
	}
	return s, nil
}

// matches reports whether the optimizer already enforces end.
func (s razerState) matches(end int) bool {
	if end == 100 {
		return !s.on
	}
	return s.on && s.threshold == end
}

func checkRazerWrite(output string, end int) error {
	lines := razerLines(output)
	if tokenAt(lines, 0, 0) != "RES" ||
		tokenAt(lines, 0, 1) != "SetBatteryHealthOptimizer" ||
		tokenAt(lines, 0, 2) != "result" ||
		tokenAt(lines, 0, 3) != "true" {
		return protocolError("unexpected write response %q", output)
	}

	if end == 100 {
		if tokenAt(lines, 1, 0) != "Successfully" ||
			tokenAt(lines, 1, 1) != "turned" ||
			tokenAt(lines, 1, 2) != "off" ||
			tokenAt(lines, 1, 3) != "bho" {
			return protocolError("optimizer was not turned off: %q", output)
		}
		return nil
	}

	if tokenAt(lines, 1, 0) != "Battery" ||
		tokenAt(lines, 1, 1) != "health" ||
		tokenAt(lines, 1, 2) != "optimization" ||
		tokenAt(lines, 1, 4) != "on" {
		return protocolError("optimizer was not turned on: %q", output)
	}
	if v, err := strconv.Atoi(tokenAt(lines, 1, 9)); err != nil || v != end {
		return protocolError("optimizer threshold is %q, want %d", tokenAt(lines, 1, 9), end)
	}
	return nil
}

func (d *razer) SetThresholdLimit(ctx context.Context, mode types.ChargingMode) error {
	end, err := d.endTarget(mode, config.Battery1)
	if err != nil {
		return d.fail(config.Battery1, end, err)
	}

	log := d.log().WithField("end", end)

	res, err := d.env.Runner.Run(ctx, privileged.Command{Name: razerRead, CLI: true})
	switch {
	case err != nil:
		log.WithError(err).Warn("failed to read optimizer state")
	case res.ExitStatus != 0:
		log.WithField("exitStatus", res.ExitStatus).Warn("optimizer read exited with non-zero status")
	default:
		state, perr := parseRazerRead(res.Output)
		if perr != nil {
			log.WithError(perr).Debug("could not parse optimizer state")
		} else if state.matches(end) {
			log.Debug("optimizer already set, skipping write")
			return d.succeed(config.Battery1, end)
		}
	}

	bho := "on"
	if end == 100 {
		bho = "off"
	}
	res, err = d.env.Runner.Run(ctx, privileged.Command{
		Name: razerWrite,
		Arg1: bho,
		Arg2: strconv.Itoa(end),
		CLI:  true,
	})
	if err != nil {
		return d.fail(config.Battery1, end, pkgerrors.Wrapf(ErrApplyFailed, "run razer-cli: %v", err))
	}
	if res.ExitStatus != 0 {
		return d.fail(config.Battery1, end, pkgerrors.Wrapf(ErrApplyFailed, "razer-cli exited with status %d", res.ExitStatus))
	}

	logrus.WithField("output", res.Output).Trace("razer-cli write response")
	if err := checkRazerWrite(res.Output, end); err != nil {
		return d.fail(config.Battery1, end, err)
	}
	return d.succeed(config.Battery1, end)
}
