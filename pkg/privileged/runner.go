package privileged

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultElevator is the privilege elevation front-end.
const DefaultElevator = "pkexec"

// Command is one invocation of the trusted helper.
type Command struct {
	// Name is the helper command token, e.g. BAT0_END or RAZER_CLI_READ.
	Name string
	// Arg1 and Arg2 are optional positional values. Empty values are omitted.
	Arg1 string
	Arg2 string
	// CtlPath overrides the helper path. Empty uses Options.HelperPath.
	CtlPath string
	// CLI selects the structured vendor-CLI protocol, whose stdout is
	// returned in Result.Output.
	CLI bool
}

// Result is the outcome of one privileged invocation.
type Result struct {
	ExitStatus int
	Output     string
}

// Runner executes helper commands across the privilege boundary.
// A non-zero exit is reported through Result.ExitStatus; the error is only
// set when the process could not be run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Options configures a HelperRunner.
type Options struct {
	// Elevator is prepended to every argv. Empty runs the helper directly.
	Elevator string
	// HelperPath returns the trusted helper path when Command.CtlPath is empty.
	HelperPath func() string
	// Timeout bounds each invocation. Zero disables it.
	Timeout time.Duration
}

// HelperRunner runs the trusted helper through the elevation front-end.
type HelperRunner struct {
	opts Options
}

var _ Runner = &HelperRunner{}

func NewHelperRunner(opts Options) *HelperRunner {
	return &HelperRunner{opts: opts}
}

func (r *HelperRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	ctlPath := cmd.CtlPath
	if ctlPath == "" && r.opts.HelperPath != nil {
		ctlPath = r.opts.HelperPath()
	}
	if ctlPath == "" {
		return Result{}, pkgerrors.Errorf("no helper path configured for command %s", cmd.Name)
	}

	args := []string{ctlPath, cmd.Name}
	if cmd.Arg1 != "" {
		args = append(args, cmd.Arg1)
	}
	if cmd.Arg2 != "" {
		args = append(args, cmd.Arg2)
	}

	return execArgv(ctx, r.opts.Elevator, r.opts.Timeout, args, cmd.CLI)
}

// execCommand is a seam for tests.
var execCommand = exec.CommandContext

// waitDelay bounds how long Run waits for the output pipes once the deadline
// passes or the helper exits. A root helper is not killed when its
// unprivileged elevator is, so anything it left behind is abandoned.
var waitDelay = 500 * time.Millisecond

func execArgv(ctx context.Context, elevator string, timeout time.Duration, args []string, stdoutOnly bool) (Result, error) {
	if elevator != "" {
		args = append([]string{elevator}, args...)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := logrus.WithFields(logrus.Fields{
		"argv": args,
	})
	log.Debug("running privileged command")

	c := execCommand(ctx, args[0], args[1:]...)
	c.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	if stdoutOnly {
		c.Stderr = &stderr
	} else {
		c.Stderr = &stdout
	}

	start := time.Now()
	err := c.Run()

	res := Result{Output: stdout.String()}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			res.ExitStatus = exitErr.ExitCode()
		case errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil:
			// exited, but a child kept the output pipes open
			log.Warn("privileged command left its output open")
			res.ExitStatus = c.ProcessState.ExitCode()
		case ctx.Err() != nil:
			res.ExitStatus = -1
		default:
			return res, pkgerrors.Wrapf(err, "failed to run %s", args[0])
		}
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Warn("privileged command cancelled")
			if res.ExitStatus == 0 {
				res.ExitStatus = -1
			}
		}
	}

	log.WithFields(logrus.Fields{
		"exitStatus": res.ExitStatus,
		"elapsed":    time.Since(start).String(),
		"stderr":     stderr.String(),
	}).Trace("privileged command finished")

	if res.ExitStatus != 0 {
		log.WithField("exitStatus", res.ExitStatus).Warn("privileged command exited with non-zero status")
	}

	return res, nil
}
