package client

import (
	"encoding/json"
	"net/http"

	pkgerrors "github.com/pkg/errors"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/daemon"
	"github.com/batteryhealth/bhc/pkg/device"
	"github.com/batteryhealth/bhc/pkg/driver"
	"github.com/batteryhealth/bhc/pkg/powerinfo"
	"github.com/batteryhealth/bhc/pkg/types"
)

func getJSON[T any](c *Client, path, what string) (*T, error) {
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get %s", what)
	}

	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return &v, nil
}

func (c *Client) GetStatus() (*daemon.StatusResponse, error) {
	return getJSON[daemon.StatusResponse](c, "/status", "status")
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	return getJSON[config.RawFileConfig](c, "/config", "config")
}

func (c *Client) GetDevice() (*device.Info, error) {
	return getJSON[device.Info](c, "/device", "device")
}

func (c *Client) GetDevices() ([]daemon.DeviceEntry, error) {
	ret, err := getJSON[[]daemon.DeviceEntry](c, "/devices", "devices")
	if err != nil {
		return nil, err
	}
	return *ret, nil
}

func (c *Client) GetBatteryInfo() ([]powerinfo.Battery, error) {
	ret, err := getJSON[[]powerinfo.Battery](c, "/battery-info", "battery info")
	if err != nil {
		return nil, err
	}
	return *ret, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return unquote(ret), nil
}

// GetMetrics returns the Prometheus text exposition.
func (c *Client) GetMetrics() (string, error) {
	return c.Get("/metrics")
}

func (c *Client) SetChargingMode(mode types.ChargingMode) (string, error) {
	ret, err := c.Put("/charging-mode", string(mode))
	return unquote(ret), err
}

// SetThreshold stores thresholds for body.Mode. Battery is 1 or 2.
func (c *Client) SetThreshold(body daemon.ThresholdBody) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	ret, err := c.Put("/threshold", string(payload))
	return unquote(ret), err
}

func (c *Client) Apply() (string, error) {
	ret, err := c.Post("/apply", "")
	return unquote(ret), err
}

func (c *Client) Detect() (*driver.Status, error) {
	ret, err := c.Post("/detect", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to detect device")
	}

	var st driver.Status
	if err := json.Unmarshal([]byte(ret), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal status")
	}
	return &st, nil
}

// Installation runs install, update, uninstall, toggle or check and
// returns the resulting installation status.
func (c *Client) Installation(action string) (types.InstallStatus, error) {
	ret, err := c.Send(http.MethodPost, "/installation/"+action, "")
	if err != nil {
		return types.NotInstalled, pkgerrors.Wrapf(err, "failed to %s helper", action)
	}
	return types.ParseInstallStatus(unquote(ret))
}

// SetReapplySchedule sets the cron expression thresholds are re-applied on.
// An empty expression disables it.
func (c *Client) SetReapplySchedule(expr string) (string, error) {
	ret, err := c.Put("/reapply-schedule", expr)
	return unquote(ret), err
}

func (c *Client) SkipReapply() (string, error) {
	ret, err := c.Post("/reapply-schedule/skip", "")
	return unquote(ret), err
}
