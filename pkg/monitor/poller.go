package monitor

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/sysfs"
)

// DefaultInterval is how often battery capacity is sampled.
const DefaultInterval = 30 * time.Second

// Source delivers battery level readings. Readings may repeat; consumers
// compare by value.
type Source interface {
	// Subscribe starts delivering readings for battery (e.g. "BAT0").
	// The returned function stops delivery and is safe to call more than once.
	Subscribe(battery string) (<-chan int, func())
}

// Poller samples /sys/class/power_supply/<battery>/capacity on a ticker.
type Poller struct {
	fs       *sysfs.FS
	interval time.Duration
}

var _ Source = &Poller{}

// NewPoller returns a Poller. A non-positive interval uses DefaultInterval.
func NewPoller(fs *sysfs.FS, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{fs: fs, interval: interval}
}

func (p *Poller) Subscribe(battery string) (<-chan int, func()) {
	out := make(chan int, 1)
	stop := make(chan struct{})
	once := &sync.Once{}

	go p.loop(battery, out, stop)

	return out, func() {
		once.Do(func() { close(stop) })
	}
}

func (p *Poller) loop(battery string, out chan int, stop <-chan struct{}) {
	defer close(out)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		level, err := p.fs.BatteryCapacity(battery)
		if err != nil {
			logrus.WithError(err).WithField("battery", battery).Debug("failed to sample battery capacity")
			continue
		}

		// keep only the newest reading for slow consumers
		select {
		case out <- level:
		default:
			select {
			case <-out:
			default:
			}
			select {
			case out <- level:
			default:
			}
		}
	}
}
