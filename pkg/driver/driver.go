// Package driver ties device detection, helper installation and threshold
// application together. All privileged work is serialized on one worker.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/device"
	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/notify"
	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/types"
)

var (
	// ErrNotInstalled means the device needs the helper and it is missing.
	ErrNotInstalled = errors.New("privileged helper is not installed")
	// ErrNeedsUpdate means the installed helper is outdated.
	ErrNeedsUpdate = errors.New("privileged helper needs an update")
	// ErrDestroyed is returned for work submitted to, or finishing after, Destroy.
	ErrDestroyed = errors.New("driver destroyed")
	// ErrCheckPending means installation changes were requested before the
	// first installation check completed.
	ErrCheckPending = errors.New("installation check has not completed yet")
	// ErrInvalidThreshold means a threshold request was rejected before any IO.
	ErrInvalidThreshold = errors.New("invalid threshold")
)

// Options are the driver's collaborators.
type Options struct {
	Registry  *device.Registry
	Env       device.Env
	Installer privileged.Installer
	Notifier  notify.Notifier
	// User is the invoking user name, used for the helper name and installer.
	User string
	// LookPath resolves the helper on PATH. Nil uses exec.LookPath.
	LookPath privileged.LookPathFunc
}

type Driver struct {
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func(ctx context.Context)

	mu             *sync.Mutex
	state          State
	device         device.Device
	checkCompleted bool
	// lastExit is the helper-protocol status of the last apply, -1 before any.
	lastExit    int
	destroyed   bool
	destroyOnce *sync.Once
}

// New returns a Driver and starts its worker. Call Start to run the pipeline.
func New(opts Options) *Driver {
	if opts.Registry == nil {
		opts.Registry = device.DefaultRegistry()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewHub(opts.Env.Events, opts.Env.Config.ShowNotifications)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		tasks:       make(chan func(ctx context.Context)),
		mu:          &sync.Mutex{},
		state:       Uninitialized,
		lastExit:    -1,
		destroyOnce: &sync.Once{},
	}

	go d.worker()

	return d
}

func (d *Driver) worker() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case task := <-d.tasks:
			task(d.ctx)
		}
	}
}

// do runs fn on the worker and waits for its result. fn gets a context that
// is cancelled when either ctx or the driver is done.
func (d *Driver) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !d.alive() {
		return ErrDestroyed
	}

	result := make(chan error, 1)
	task := func(workerCtx context.Context) {
		taskCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(workerCtx, cancel)
		defer stop()

		result <- fn(taskCtx)
	}

	select {
	case d.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDestroyed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrDestroyed
	}
}

func (d *Driver) alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.destroyed
}

func (d *Driver) config() config.Config {
	return d.opts.Env.Config
}

func (d *Driver) log() *logrus.Entry {
	fields := logrus.Fields{"state": d.State().String()}
	if dev := d.currentDevice(); dev != nil {
		fields["device"] = dev.Info().Name
	}
	return logrus.WithFields(fields)
}

// setState records a transition and publishes it. It is a no-op once destroyed.
func (d *Driver) setState(to State, message string) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	from := d.state
	d.state = to
	d.mu.Unlock()

	d.publishState(from, to, message)
}

func (d *Driver) publishState(from, to State, message string) {
	logrus.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Debugf("driver state changed %s", message)

	if d.opts.Env.Events == nil {
		return
	}
	d.opts.Env.Events.Publish(events.DriverState, events.DriverStateEvent{
		From:    from.String(),
		To:      to.String(),
		Message: message,
		Ts:      time.Now().Unix(),
	})
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) currentDevice() device.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.device
}

func (d *Driver) saveConfig() {
	if err := d.config().Save(); err != nil {
		logrus.WithError(err).Warn("failed to save config")
	}
}

// Start detects the device, checks the helper installation when the device
// needs root, then applies the configured charging mode.
func (d *Driver) Start(ctx context.Context) error {
	return d.do(ctx, d.start)
}

// Redetect drops the current device and runs the Start pipeline again.
func (d *Driver) Redetect(ctx context.Context) error {
	return d.do(ctx, func(ctx context.Context) error {
		d.mu.Lock()
		old := d.device
		d.device = nil
		d.mu.Unlock()
		if old != nil {
			old.Destroy()
		}
		return d.start(ctx)
	})
}

func (d *Driver) start(ctx context.Context) error {
	dev, err := d.detect()
	if err != nil {
		return err
	}

	if dev.Info().NeedRootPermission {
		status, err := d.checkInstallation(ctx)
		if err != nil {
			return err
		}
		switch status {
		case types.NeedUpdate:
			d.opts.Notifier.NotifyNeedPolkitUpdate()
			return ErrNeedsUpdate
		case types.NotInstalled:
			d.opts.Notifier.NotifyNoPolkitInstalled()
			return ErrNotInstalled
		}
	} else {
		d.setState(RootCheckSkipped, "")
	}

	return d.apply(ctx)
}

func (d *Driver) detect() (device.Device, error) {
	if dev := d.currentDevice(); dev != nil {
		return dev, nil
	}

	d.setState(Detecting, "")
	dev, err := d.opts.Registry.Detect(d.opts.Env)
	d.saveConfig()
	if err != nil {
		d.setState(NoDeviceFound, err.Error())
		d.opts.Notifier.NotifyUnsupportedDevice()
		return nil, err
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		dev.Destroy()
		return nil, ErrDestroyed
	}
	d.device = dev
	d.mu.Unlock()

	d.setState(DeviceFound, dev.Info().Name)
	return dev, nil
}

// CheckInstallation locates the helper and asks it whether it is current.
// The result is persisted.
func (d *Driver) CheckInstallation(ctx context.Context) (types.InstallStatus, error) {
	var status types.InstallStatus
	err := d.do(ctx, func(ctx context.Context) error {
		var err error
		status, err = d.checkInstallation(ctx)
		return err
	})
	return status, err
}

func (d *Driver) checkInstallation(ctx context.Context) (types.InstallStatus, error) {
	d.setState(CheckingInstallation, "")

	conf := d.config()
	ctlPath, found := privileged.FindHelper(d.opts.LookPath, conf.ServiceName(), d.opts.User)
	if found {
		conf.SetCtlPath(ctlPath)
	}

	status, err := privileged.CheckInstallation(ctx, d.opts.Env.Runner, ctlPath, conf.ResourceDir(), d.opts.User)
	if !d.alive() {
		return status, ErrDestroyed
	}
	if err != nil {
		d.setState(NeedsInstall, err.Error())
		return status, err
	}

	conf.SetPolkitStatus(status)
	d.saveConfig()

	d.mu.Lock()
	d.checkCompleted = true
	d.mu.Unlock()

	switch status {
	case types.NotInstalled:
		d.setState(NeedsInstall, "")
	case types.NeedUpdate:
		d.setState(NeedsUpdate, "")
	default:
		d.setState(Installed, ctlPath)
	}

	return status, nil
}

// Install runs the installer script and, on success, applies thresholds.
func (d *Driver) Install(ctx context.Context) error {
	return d.do(ctx, func(ctx context.Context) error {
		return d.runInstaller(ctx, privileged.ActionInstall)
	})
}

// Update runs the installer script in update mode.
func (d *Driver) Update(ctx context.Context) error {
	return d.do(ctx, func(ctx context.Context) error {
		return d.runInstaller(ctx, privileged.ActionUpdate)
	})
}

// Uninstall removes the helper.
func (d *Driver) Uninstall(ctx context.Context) error {
	return d.do(ctx, func(ctx context.Context) error {
		return d.runInstaller(ctx, privileged.ActionUninstall)
	})
}

// ToggleInstallation picks install, uninstall or update from the persisted
// status. It is refused until the first installation check completed.
func (d *Driver) ToggleInstallation(ctx context.Context) error {
	return d.do(ctx, func(ctx context.Context) error {
		d.mu.Lock()
		completed := d.checkCompleted
		d.mu.Unlock()
		if !completed {
			return ErrCheckPending
		}

		var action privileged.Action
		switch d.config().PolkitStatus() {
		case types.NotInstalled:
			action = privileged.ActionInstall
		case types.Installed:
			action = privileged.ActionUninstall
		case types.NeedUpdate:
			action = privileged.ActionUpdate
		}
		return d.runInstaller(ctx, action)
	})
}

func (d *Driver) runInstaller(ctx context.Context, action privileged.Action) error {
	if d.opts.Installer == nil {
		return pkgerrors.New("no installer configured")
	}

	res, err := d.opts.Installer.Run(ctx, action)
	if !d.alive() {
		return ErrDestroyed
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to %s helper", action)
	}
	if res.ExitStatus != 0 {
		return pkgerrors.Errorf("installer %s exited with status %d", action, res.ExitStatus)
	}

	conf := d.config()
	switch action {
	case privileged.ActionInstall, privileged.ActionUpdate:
		conf.SetPolkitStatus(types.Installed)
		if ctlPath, ok := privileged.FindHelper(d.opts.LookPath, conf.ServiceName(), d.opts.User); ok {
			conf.SetCtlPath(ctlPath)
		}
		d.saveConfig()
		d.setState(Installed, string(action))
		if action == privileged.ActionInstall {
			d.opts.Notifier.NotifyPolkitInstallationSuccessful()
		} else {
			d.opts.Notifier.NotifyPolkitUpdateSuccessful()
		}

		if d.currentDevice() != nil {
			if err := d.apply(ctx); err != nil {
				d.log().WithError(err).Warn("failed to apply threshold after installation")
			}
		}
	case privileged.ActionUninstall:
		conf.SetPolkitStatus(types.NotInstalled)
		conf.SetCtlPath("")
		d.saveConfig()
		d.setState(NeedsInstall, string(action))
		d.opts.Notifier.NotifyUninstallationSuccessful()
	}

	return nil
}

// ApplyThreshold applies the configured charging mode to the device.
func (d *Driver) ApplyThreshold(ctx context.Context) error {
	return d.do(ctx, d.apply)
}

// ready reports why thresholds cannot be applied yet, if they cannot.
func (d *Driver) ready() (device.Device, error) {
	dev := d.currentDevice()
	if dev == nil {
		return nil, device.ErrNoDevice
	}
	if !dev.Info().NeedRootPermission {
		return dev, nil
	}
	switch d.config().PolkitStatus() {
	case types.NotInstalled:
		return dev, ErrNotInstalled
	case types.NeedUpdate:
		return dev, ErrNeedsUpdate
	}
	return dev, nil
}

func (d *Driver) apply(ctx context.Context) error {
	dev, err := d.ready()
	if err != nil {
		return err
	}

	mode := d.config().ChargingMode()
	d.setState(ApplyingThreshold, string(mode))

	if dual, ok := dev.(device.DualBattery); ok && dev.Info().HaveDualBattery {
		err = dual.SetThresholdLimitDual(ctx, mode)
	} else {
		err = dev.SetThresholdLimit(ctx, mode)
	}

	if !d.alive() {
		return ErrDestroyed
	}

	exit := device.ExitStatus(err)
	d.mu.Lock()
	d.lastExit = exit
	d.mu.Unlock()

	if err != nil {
		d.log().WithError(err).WithField("exitStatus", exit).Warn("failed to apply threshold")
		d.setState(ApplyFailed, err.Error())
		d.opts.Notifier.NotifyAnErrorOccurred(dev.Info().Name)
		return err
	}
	d.setState(Applied, string(mode))

	if mon, ok := dev.(device.BatteryMonitor); ok {
		if err := mon.InitializeBatteryMonitoring(d.ctx); err != nil {
			d.log().WithError(err).Warn("failed to start battery monitoring")
		}
	}

	return nil
}

// SetChargingMode persists mode and applies it.
func (d *Driver) SetChargingMode(ctx context.Context, mode types.ChargingMode) error {
	return d.do(ctx, func(ctx context.Context) error {
		dev := d.currentDevice()
		if dev == nil {
			return device.ErrNoDevice
		}
		if !dev.Info().SupportsMode(mode) {
			return pkgerrors.Wrapf(device.ErrUnsupportedMode, "%s does not support %s", dev.Info().Name, mode.LongName())
		}

		d.config().SetChargingMode(mode)
		d.saveConfig()

		return d.apply(ctx)
	})
}

// ThresholdRequest changes the thresholds stored for one mode and battery.
type ThresholdRequest struct {
	Mode    types.ChargingMode
	Battery int
	End     int
	// Start is ignored unless the device has a start threshold.
	Start int
}

// Validate checks r against the capabilities in info.
func (r ThresholdRequest) Validate(info *device.Info) error {
	if !info.HaveVariableThreshold {
		return pkgerrors.Wrapf(ErrInvalidThreshold, "%s thresholds are fixed", info.Name)
	}
	if r.Battery != config.Battery1 && !(r.Battery == config.Battery2 && info.HaveDualBattery) {
		return pkgerrors.Wrapf(ErrInvalidThreshold, "%s has no battery %d", info.Name, r.Battery+1)
	}
	endRange, ok := info.EndRanges[r.Mode]
	if !ok {
		return pkgerrors.Wrapf(device.ErrUnsupportedMode, "%s does not support %s", info.Name, r.Mode.LongName())
	}
	if !endRange.Contains(r.End) {
		return pkgerrors.Wrapf(ErrInvalidThreshold, "end threshold %d not in [%d, %d]", r.End, endRange.Min, endRange.Max)
	}
	if !info.HaveStartThreshold {
		return nil
	}
	startRange := info.StartRanges[r.Mode]
	if !startRange.Contains(r.Start) {
		return pkgerrors.Wrapf(ErrInvalidThreshold, "start threshold %d not in [%d, %d]", r.Start, startRange.Min, startRange.Max)
	}
	if r.End-r.Start < info.MinDiffLimit {
		return pkgerrors.Wrapf(ErrInvalidThreshold, "start threshold must be at least %d below end threshold", info.MinDiffLimit)
	}
	return nil
}

// SetThreshold validates and persists r. Thresholds of the active mode are
// applied right away.
func (d *Driver) SetThreshold(ctx context.Context, r ThresholdRequest) error {
	return d.do(ctx, func(ctx context.Context) error {
		dev := d.currentDevice()
		if dev == nil {
			return device.ErrNoDevice
		}
		if err := r.Validate(dev.Info()); err != nil {
			return err
		}

		conf := d.config()
		conf.SetEndThreshold(r.Mode, r.Battery, r.End)
		if dev.Info().HaveStartThreshold {
			conf.SetStartThreshold(r.Mode, r.Battery, r.Start)
		}
		d.saveConfig()

		if conf.ChargingMode() != r.Mode {
			return nil
		}
		return d.apply(ctx)
	})
}

// Status is a snapshot of the driver.
type Status struct {
	State                      State               `json:"state"`
	Device                     *device.Info        `json:"device,omitempty"`
	ChargingMode               types.ChargingMode  `json:"chargingMode"`
	PolkitStatus               types.InstallStatus `json:"polkitStatus"`
	InstallationCheckCompleted bool                `json:"installationCheckCompleted"`
	LastApplied                []int               `json:"lastApplied,omitempty"`
	LastExitStatus             *int                `json:"lastExitStatus,omitempty"`
	BatteryLevel               *int                `json:"batteryLevel,omitempty"`
}

func (d *Driver) Status() Status {
	d.mu.Lock()
	s := Status{
		State:                      d.state,
		InstallationCheckCompleted: d.checkCompleted,
	}
	if d.lastExit >= 0 {
		exit := d.lastExit
		s.LastExitStatus = &exit
	}
	dev := d.device
	d.mu.Unlock()

	s.ChargingMode = d.config().ChargingMode()
	s.PolkitStatus = d.config().PolkitStatus()

	if dev != nil {
		s.Device = dev.Info()
		s.LastApplied = []int{dev.LastApplied(config.Battery1)}
		if dev.Info().HaveDualBattery {
			s.LastApplied = append(s.LastApplied, dev.LastApplied(config.Battery2))
		}
		if mon, ok := dev.(device.BatteryMonitor); ok {
			level := mon.BatteryLevel()
			s.BatteryLevel = &level
		}
	}

	return s
}

// Destroy stops the worker and releases the device and notifier. In-flight
// helper processes are killed and their results discarded. Safe to call
// more than once.
func (d *Driver) Destroy() {
	d.destroyOnce.Do(func() {
		d.mu.Lock()
		from := d.state
		d.state = Destroyed
		d.destroyed = true
		dev := d.device
		d.mu.Unlock()

		d.cancel()
		d.publishState(from, Destroyed, "")

		if dev != nil {
			dev.Destroy()
		}
		if d.opts.Notifier != nil {
			d.opts.Notifier.Destroy()
		}
	})
}

func (s Status) String() string {
	if s.Device == nil {
		return fmt.Sprintf("%s (no device)", s.State)
	}
	return fmt.Sprintf("%s (%s)", s.State, s.Device.Name)
}
