package daemon

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/distatus/battery"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/config"
	"github.com/batteryhealth/bhc/pkg/driver"
	"github.com/batteryhealth/bhc/pkg/powerinfo"
	"github.com/batteryhealth/bhc/pkg/types"
	"github.com/batteryhealth/bhc/pkg/version"
)

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	driver.Status
	ReapplySchedule string `json:"reapplySchedule,omitempty"`
	NextReapply     string `json:"nextReapply,omitempty"`
	// RecentApplies are the apply outcomes of the last day, newest first.
	RecentApplies []ApplyRecord `json:"recentApplies,omitempty"`
}

// DeviceEntry is one element of GET /devices.
type DeviceEntry struct {
	Name      string `json:"name"`
	Type      int    `json:"type"`
	Available bool   `json:"available"`
	Selected  bool   `json:"selected"`
}

// ThresholdBody is the body of PUT /threshold. Battery is 1 or 2.
type ThresholdBody struct {
	Mode    string `json:"mode"`
	Battery int    `json:"battery"`
	End     int    `json:"end"`
	Start   int    `json:"start"`
}

func (s *Server) getStatus(c *gin.Context) {
	resp := StatusResponse{Status: s.driver.Status()}
	if s.scheduler != nil {
		next, expr, _ := s.scheduler.Status()
		resp.ReapplySchedule = expr
		if !next.IsZero() {
			resp.NextReapply = next.Format(time.RFC3339)
		}
	}
	if s.history != nil {
		resp.RecentApplies = s.history.Since(24 * time.Hour)
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func (s *Server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (s *Server) getDevice(c *gin.Context) {
	st := s.driver.Status()
	if st.Device == nil {
		abort(c, http.StatusNotFound, errors.New("no device selected"))
		return
	}
	c.IndentedJSON(http.StatusOK, st.Device)
}

func (s *Server) getDevices(c *gin.Context) {
	selected := s.conf.DeviceType()
	var entries []DeviceEntry
	for _, d := range s.registry.Variants(s.env) {
		info := d.Info()
		entries = append(entries, DeviceEntry{
			Name:      info.Name,
			Type:      info.Type,
			Available: d.IsAvailable(),
			Selected:  info.Type == selected,
		})
		d.Destroy()
	}
	c.IndentedJSON(http.StatusOK, entries)
}

// batteries is a seam for tests.
var batteries = battery.GetAll

func (s *Server) getBatteryInfo(c *gin.Context) {
	all, err := batteries()
	if err != nil && len(all) == 0 {
		logrus.Errorf("getBatteryInfo failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	var out []powerinfo.Battery
	for i, b := range all {
		if b == nil {
			continue
		}
		out = append(out, powerinfo.FromBattery(i, b))
	}

	if len(out) == 0 {
		abort(c, http.StatusNotFound, errors.New("no batteries found"))
		return
	}

	c.IndentedJSON(http.StatusOK, out)
}

func (s *Server) getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func readBody(c *gin.Context) (string, error) {
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(string(b)), `"`), nil
}

func (s *Server) setChargingMode(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	mode, err := types.ParseChargingMode(body)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.driver.SetChargingMode(c.Request.Context(), mode); err != nil {
		abort(c, errorStatus(err), err)
		return
	}

	logrus.Infof("set charging mode to %s", mode.LongName())
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("charging mode set to %s", mode.LongName()))
}

func (s *Server) setThreshold(c *gin.Context) {
	var body ThresholdBody
	if err := c.BindJSON(&body); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		return
	}

	mode, err := types.ParseChargingMode(body.Mode)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	idx := config.Battery1
	switch body.Battery {
	case 0, 1:
	case 2:
		idx = config.Battery2
	default:
		abort(c, http.StatusBadRequest, fmt.Errorf("battery must be 1 or 2, got %d", body.Battery))
		return
	}

	req := driver.ThresholdRequest{Mode: mode, Battery: idx, End: body.End, Start: body.Start}
	if err := s.driver.SetThreshold(c.Request.Context(), req); err != nil {
		abort(c, errorStatus(err), err)
		return
	}

	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("%s threshold set to %d", mode.LongName(), body.End))
}

func (s *Server) apply(c *gin.Context) {
	if err := s.driver.ApplyThreshold(c.Request.Context()); err != nil {
		abort(c, errorStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, "threshold applied")
}

func (s *Server) detect(c *gin.Context) {
	err := s.driver.Redetect(c.Request.Context())
	// a missing helper is reported in the status, not as a failed detection
	if err != nil && !errors.Is(err, driver.ErrNotInstalled) && !errors.Is(err, driver.ErrNeedsUpdate) {
		abort(c, errorStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, s.driver.Status())
}

func (s *Server) installation(c *gin.Context) {
	ctx := c.Request.Context()

	var err error
	switch action := c.Param("action"); action {
	case "install":
		err = s.driver.Install(ctx)
	case "update":
		err = s.driver.Update(ctx)
	case "uninstall":
		err = s.driver.Uninstall(ctx)
	case "toggle":
		err = s.driver.ToggleInstallation(ctx)
	case "check":
		var status types.InstallStatus
		status, err = s.driver.CheckInstallation(ctx)
		if err == nil {
			c.IndentedJSON(http.StatusOK, status)
			return
		}
	default:
		abort(c, http.StatusBadRequest, fmt.Errorf("unknown installation action %q", action))
		return
	}

	if err != nil {
		abort(c, errorStatus(err), err)
		return
	}
	c.IndentedJSON(http.StatusOK, s.conf.PolkitStatus())
}

func (s *Server) streamEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// clients wait for headers before reading the stream
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (s *Server) setReapplySchedule(c *gin.Context) {
	if s.scheduler == nil {
		abort(c, http.StatusServiceUnavailable, errors.New("scheduler is not running"))
		return
	}

	expr, err := readBody(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	if err := s.scheduler.Schedule(expr); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	s.conf.SetReapplySchedule(expr)
	if err := s.conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		abort(c, http.StatusInternalServerError, err)
		return
	}

	if expr == "" {
		logrus.Info("reapply schedule disabled")
		c.IndentedJSON(http.StatusCreated, "reapply schedule disabled")
		return
	}
	next, _, _ := s.scheduler.Status()
	logrus.WithField("next", next).Infof("reapply schedule set to %q", expr)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("next reapply at %s", next.Format(time.RFC3339)))
}

func (s *Server) skipReapply(c *gin.Context) {
	if s.scheduler == nil {
		abort(c, http.StatusServiceUnavailable, errors.New("scheduler is not running"))
		return
	}
	if err := s.scheduler.Skip(); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	next, _, _ := s.scheduler.Status()
	c.IndentedJSON(http.StatusOK, fmt.Sprintf("next reapply at %s", next.Format(time.RFC3339)))
}
