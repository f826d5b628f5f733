// Package metrics exposes threshold, battery and driver activity as
// prometheus metrics, fed from the event hub.
package metrics

import (
	"context"
	"runtime"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/version"
)

const namespace = "bhc"

// Collector implements prometheus.Collector.
type Collector struct {
	buildInfo     *prometheus.GaugeVec
	applyTotal    *prometheus.CounterVec
	threshold     *prometheus.GaugeVec
	batteryLevel  *prometheus.GaugeVec
	driverState   *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

var _ prometheus.Collector = &Collector{}

func NewCollector() *Collector {
	return &Collector{
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "info",
			Help:      "A metric with a constant '1' value labeled with version information",
		}, []string{"version", "revision", "goversion"}),
		applyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threshold_apply_total",
			Help:      "Threshold apply attempts by device and result",
		}, []string{"device", "battery", "result"}),
		threshold: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threshold_end_percent",
			Help:      "Last confirmed end threshold",
		}, []string{"device", "battery"}),
		batteryLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_level_percent",
			Help:      "Last reported battery level",
		}, []string{"device"}),
		driverState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "driver_state",
			Help:      "1 for the current driver state, 0 otherwise",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_transitions_total",
			Help:      "Driver state transitions by target state",
		}, []string{"to"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications emitted by kind",
		}, []string{"kind"}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.buildInfo.Describe(ch)
	c.applyTotal.Describe(ch)
	c.threshold.Describe(ch)
	c.batteryLevel.Describe(ch)
	c.driverState.Describe(ch)
	c.transitions.Describe(ch)
	c.notifications.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.buildInfo.WithLabelValues(version.Version, version.GitCommit, runtime.Version()).Set(1)

	c.buildInfo.Collect(ch)
	c.applyTotal.Collect(ch)
	c.threshold.Collect(ch)
	c.batteryLevel.Collect(ch)
	c.driverState.Collect(ch)
	c.transitions.Collect(ch)
	c.notifications.Collect(ch)
}

// Observe updates metrics from one hub event. Unknown events are ignored.
func (c *Collector) Observe(ev events.Event) {
	switch ev.Name {
	case events.ThresholdApplied:
		p, err := events.DecodeAs[events.ThresholdAppliedEvent](ev)
		if err != nil {
			break
		}
		battery := strconv.Itoa(p.Battery)
		result := "failure"
		if p.Applied {
			result = "success"
			c.threshold.WithLabelValues(p.Device, battery).Set(float64(p.Value))
		}
		c.applyTotal.WithLabelValues(p.Device, battery, result).Inc()
	case events.BatteryLevel:
		p, err := events.DecodeAs[events.BatteryLevelEvent](ev)
		if err != nil {
			break
		}
		c.batteryLevel.WithLabelValues(p.Device).Set(float64(p.Level))
	case events.DriverState:
		p, err := events.DecodeAs[events.DriverStateEvent](ev)
		if err != nil {
			break
		}
		c.driverState.Reset()
		c.driverState.WithLabelValues(p.To).Set(1)
		c.transitions.WithLabelValues(p.To).Inc()
	case events.Notification:
		p, err := events.DecodeAs[events.NotificationEvent](ev)
		if err != nil {
			break
		}
		c.notifications.WithLabelValues(p.Kind).Inc()
	}
}

// Subscriber is the read side of the event hub.
type Subscriber interface {
	Subscribe() chan events.Event
	Unsubscribe(ch chan events.Event)
}

// Run feeds the collector from hub until ctx is done or the hub is closed.
func (c *Collector) Run(ctx context.Context, hub Subscriber) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	logrus.Debug("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}
