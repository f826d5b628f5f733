package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/distatus/battery"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/device"
	"github.com/batteryhealth/bhc/pkg/driver"
	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/metrics"
	"github.com/batteryhealth/bhc/pkg/powerinfo"
	"github.com/batteryhealth/bhc/pkg/privileged"
	"github.com/batteryhealth/bhc/pkg/types"
)

type stubDevice struct {
	applied atomic.Int32
	mode    atomic.Value
}

func (s *stubDevice) Info() *device.Info {
	return &device.Info{
		Name:                  "Stub",
		Type:                  42,
		HaveVariableThreshold: true,
		EndRanges: map[types.ChargingMode]device.Range{
			types.ModeFullCapacity: {Min: 80, Max: 100},
			types.ModeBalanced:     {Min: 65, Max: 85},
			types.ModeMaxLifespan:  {Min: 50, Max: 85},
		},
	}
}
func (s *stubDevice) IsAvailable() bool { return true }
func (s *stubDevice) SetThresholdLimit(_ context.Context, mode types.ChargingMode) error {
	s.applied.Add(1)
	s.mode.Store(mode)
	return nil
}
func (s *stubDevice) LastApplied(int) int { return 80 }
func (s *stubDevice) Destroy()            {}

type nopInstaller struct{}

func (nopInstaller) Run(context.Context, privileged.Action) (privileged.Result, error) {
	return privileged.Result{}, nil
}

type testServer struct {
	conf      *config.File
	hub       *events.EventHub
	dev       *stubDevice
	driver    *driver.Driver
	scheduler *Scheduler
	router    http.Handler
}

func newTestServer(t *testing.T, start bool) *testServer {
	ts := &testServer{
		conf: config.NewFileFromConfig(nil, filepath.Join(t.TempDir(), "config.json")),
		hub:  events.NewEventHub(),
		dev:  &stubDevice{},
	}
	registry := device.NewRegistry(func(device.Env) device.Device { return ts.dev })
	env := device.Env{Config: ts.conf, Events: ts.hub}
	ts.driver = driver.New(driver.Options{
		Registry:  registry,
		Env:       env,
		Installer: nopInstaller{},
		User:      "alice",
		LookPath: func(string) (string, error) {
			return "", errors.New("not found")
		},
	})
	t.Cleanup(func() {
		ts.driver.Destroy()
		ts.hub.Close()
	})

	if start {
		require.NoError(t, ts.driver.Start(context.Background()))
	}

	collector := metrics.NewCollector()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	ts.scheduler = NewScheduler(func() error { return nil }, nil)

	ts.router = NewServer(ServerOptions{
		Driver:    ts.driver,
		Config:    ts.conf,
		Registry:  registry,
		Env:       env,
		Hub:       ts.hub,
		Scheduler: ts.scheduler,
		Gatherer:  reg,
	}).Router()
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "applied", resp["state"])
	assert.Equal(t, "ful", resp["chargingMode"])
	assert.Equal(t, "Stub", resp["device"].(map[string]any)["name"])
	assert.Equal(t, float64(0), resp["lastExitStatus"])
}

func TestGetDevice(t *testing.T) {
	ts := newTestServer(t, false)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/device", "").Code)

	require.NoError(t, ts.driver.Start(context.Background()))
	w := ts.do(http.MethodGet, "/device", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name": "Stub"`)
}

func TestGetDevices(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	var entries []DeviceEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, DeviceEntry{Name: "Stub", Type: 42, Available: true, Selected: true}, entries[0])
}

func TestSetChargingMode(t *testing.T) {
	ts := newTestServer(t, true)

	w := ts.do(http.MethodPut, "/charging-mode", `"bal"`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, types.ModeBalanced, ts.conf.ChargingMode())
	assert.Equal(t, int32(2), ts.dev.applied.Load())
	assert.Equal(t, types.ModeBalanced, ts.dev.mode.Load())

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/charging-mode", "nope").Code)
	// adaptive is not in the stub's ranges
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/charging-mode", "adv").Code)
}

func TestSetThreshold(t *testing.T) {
	ts := newTestServer(t, true)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"inactive mode", `{"mode":"bal","battery":1,"end":70}`, http.StatusCreated},
		{"out of range", `{"mode":"bal","battery":1,"end":90}`, http.StatusBadRequest},
		{"no such battery", `{"mode":"bal","battery":3,"end":70}`, http.StatusBadRequest},
		{"single battery device", `{"mode":"bal","battery":2,"end":70}`, http.StatusBadRequest},
		{"bad mode", `{"mode":"zzz","end":70}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(http.MethodPut, "/threshold", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	assert.Equal(t, 70, ts.conf.EndThreshold(types.ModeBalanced, config.Battery1))
	// only the start-up apply, balanced is not active
	assert.Equal(t, int32(1), ts.dev.applied.Load())
}

func TestApply(t *testing.T) {
	ts := newTestServer(t, false)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodPost, "/apply", "").Code)

	require.NoError(t, ts.driver.Start(context.Background()))
	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/apply", "").Code)
	assert.Equal(t, int32(2), ts.dev.applied.Load())
}

func TestDetect(t *testing.T) {
	ts := newTestServer(t, false)

	w := ts.do(http.MethodPost, "/detect", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 42, ts.conf.DeviceType())
	assert.Equal(t, int32(1), ts.dev.applied.Load())
}

func TestInstallation(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/installation/reboot", "").Code)
	// toggle is refused until a check completed
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, "/installation/toggle", "").Code)

	w := ts.do(http.MethodPost, "/installation/check", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"not-installed"`, w.Body.String())

	w = ts.do(http.MethodPost, "/installation/toggle", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, types.Installed, ts.conf.PolkitStatus())

	w = ts.do(http.MethodPost, "/installation/uninstall", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.NotInstalled, ts.conf.PolkitStatus())
}

func TestGetBatteryInfo(t *testing.T) {
	ts := newTestServer(t, false)

	old := batteries
	t.Cleanup(func() { batteries = old })

	batteries = func() ([]*battery.Battery, error) {
		return nil, errors.New("no power supply")
	}
	assert.Equal(t, http.StatusInternalServerError, ts.do(http.MethodGet, "/battery-info", "").Code)

	batteries = func() ([]*battery.Battery, error) {
		return []*battery.Battery{{State: battery.Charging, Current: 40000, Full: 50000, Design: 60000}}, nil
	}
	w := ts.do(http.MethodGet, "/battery-info", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []powerinfo.Battery
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, powerinfo.Charging, got[0].State)
}

func TestGetVersionAndMetrics(t *testing.T) {
	ts := newTestServer(t, true)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/version", "").Code)

	w := ts.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bhc_build_info")
}

func TestStreamEvents(t *testing.T) {
	ts := newTestServer(t, false)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// the subscription is registered asynchronously, keep publishing until one arrives
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.hub.Publish(events.BatteryLevel, events.BatteryLevelEvent{Device: "Stub", Level: 77})
			}
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event:"+events.BatteryLevel, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "data:"))
	assert.Contains(t, lines[1], `"level":77`)
}

func TestReapplySchedule(t *testing.T) {
	ts := newTestServer(t, false)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPut, "/reapply-schedule", "not a cron").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/reapply-schedule/skip", "").Code)

	w := ts.do(http.MethodPut, "/reapply-schedule", "@every 1h")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "@every 1h", ts.conf.ReapplySchedule())

	before, expr, _ := ts.scheduler.Status()
	assert.Equal(t, "@every 1h", expr)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/reapply-schedule/skip", "").Code)
	after, _, _ := ts.scheduler.Status()
	assert.True(t, after.After(before))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(ts.do(http.MethodGet, "/status", "").Body.Bytes(), &resp))
	assert.Equal(t, "@every 1h", resp.ReapplySchedule)
	assert.NotEmpty(t, resp.NextReapply)

	w = ts.do(http.MethodPut, "/reapply-schedule", "")
	require.Equal(t, http.StatusCreated, w.Code)
	next, _, _ := ts.scheduler.Status()
	assert.True(t, next.IsZero())
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{driver.ErrInvalidThreshold, http.StatusBadRequest},
		{device.ErrUnsupportedMode, http.StatusBadRequest},
		{device.ErrNoDevice, http.StatusNotFound},
		{driver.ErrNotInstalled, http.StatusConflict},
		{driver.ErrCheckPending, http.StatusConflict},
		{driver.ErrDestroyed, http.StatusServiceUnavailable},
		{device.ErrApplyFailed, http.StatusBadGateway},
		{pkgerrors.Wrap(privileged.ErrCheckInterrupted, "exit status -1"), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, errorStatus(tt.err), tt.err.Error())
	}
}
