package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batteryhealth/bhc/pkg/daemon"
	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/types"
)

// serve runs handler on a unix socket and returns a client for it.
func serve(t *testing.T, handler http.Handler) *Client {
	dir, err := os.MkdirTemp("", "bhc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "d.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return NewClient(sock)
}

func TestDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := c.Get("/status")
	assert.ErrorIs(t, err, ErrDaemonNotRunning)
}

func TestStatusCodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/device", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `"no device selected"`)
	})
	mux.HandleFunc("/apply", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `"privileged helper is not installed"`)
	})
	c := serve(t, mux)

	_, err := c.GetDevice()
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "no device selected")

	_, err = c.Apply()
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Code)
	assert.Equal(t, "privileged helper is not installed", se.Message)

	_, err = c.Send("DELETE", "/apply", "")
	assert.Error(t, err)
}

func TestAPIs(t *testing.T) {
	var gotMode, gotThreshold string
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"state":"applied","chargingMode":"bal","polkitStatus":"installed","installationCheckCompleted":true,"nextReapply":"2026-01-01T00:00:00Z"}`)
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `"v1.2.3"`)
	})
	mux.HandleFunc("/devices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"name":"MSI BAT0","type":18,"available":true,"selected":true}]`)
	})
	mux.HandleFunc("/charging-mode", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotMode = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `"charging mode set to Balanced"`)
	})
	mux.HandleFunc("/threshold", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotThreshold = string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `"ok"`)
	})
	mux.HandleFunc("/installation/check", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = io.WriteString(w, `"need-update"`)
	})
	c := serve(t, mux)

	st, err := c.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, types.ModeBalanced, st.ChargingMode)
	assert.True(t, st.InstallationCheckCompleted)
	assert.Equal(t, "2026-01-01T00:00:00Z", st.NextReapply)

	v, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", v)

	devs, err := c.GetDevices()
	require.NoError(t, err)
	assert.Equal(t, []daemon.DeviceEntry{{Name: "MSI BAT0", Type: 18, Available: true, Selected: true}}, devs)

	msg, err := c.SetChargingMode(types.ModeBalanced)
	require.NoError(t, err)
	assert.Equal(t, "bal", gotMode)
	assert.Equal(t, "charging mode set to Balanced", msg)

	_, err = c.SetThreshold(daemon.ThresholdBody{Mode: "max", Battery: 1, End: 60, Start: 50})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"max","battery":1,"end":60,"start":50}`, gotThreshold)

	status, err := c.Installation("check")
	require.NoError(t, err)
	assert.Equal(t, types.NeedUpdate, status)
}

func TestEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, ": hello\n\n")
		_, _ = fmt.Fprintf(w, "event:%s\ndata:%s\n\n", events.BatteryLevel, `{"device":"Toshiba","level":55,"ts":1}`)
		_, _ = fmt.Fprintf(w, "event:%s\ndata:%s\n\n", events.Notification, `{"kind":"apply-error"}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	c := serve(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.Events(ctx)
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, events.BatteryLevel, ev.Name)
	level, err := events.DecodeAs[events.BatteryLevelEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, 55, level.Level)

	ev = <-ch
	assert.Equal(t, events.Notification, ev.Name)

	cancel()
	for range ch {
	}
}
