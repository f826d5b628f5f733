package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/batteryhealth/bhc/pkg/events"
	"github.com/batteryhealth/bhc/pkg/metrics"
)

// ApplyRecord is one threshold.applied outcome.
type ApplyRecord struct {
	Time    time.Time `json:"time"`
	Device  string    `json:"device"`
	Battery int       `json:"battery"`
	Applied bool      `json:"applied"`
	Value   int       `json:"value"`
}

// ApplyHistory keeps the last N apply outcomes.
type ApplyHistory struct {
	max     int
	records []ApplyRecord
	mu      *sync.Mutex
}

// NewApplyHistory returns an ApplyHistory holding at most max records.
func NewApplyHistory(max int) *ApplyHistory {
	return &ApplyHistory{
		max: max,
		mu:  &sync.Mutex{},
	}
}

// Add appends rec, dropping the oldest record when full.
func (h *ApplyHistory) Add(rec ApplyRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Round to strip monotonic clock reading, which is wrong across suspend.
	rec.Time = rec.Time.Round(0)

	if len(h.records) >= h.max {
		h.records = h.records[1:]
	}
	h.records = append(h.records, rec)
}

// Records returns a copy of all records, oldest first.
func (h *ApplyHistory) Records() []ApplyRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]ApplyRecord(nil), h.records...)
}

// Since returns the records newer than last, newest first.
func (h *ApplyHistory) Since(last time.Duration) []ApplyRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []ApplyRecord
	for i := len(h.records) - 1; i >= 0; i-- {
		if time.Since(h.records[i].Time) > last {
			break
		}
		out = append(out, h.records[i])
	}
	return out
}

// Last returns the newest record, or false if there is none.
func (h *ApplyHistory) Last() (ApplyRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.records) == 0 {
		return ApplyRecord{}, false
	}
	return h.records[len(h.records)-1], true
}

// Run records threshold.applied events from hub until ctx is done or the hub closes.
func (h *ApplyHistory) Run(ctx context.Context, hub metrics.Subscriber) {
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Name != events.ThresholdApplied {
				continue
			}
			p, err := events.DecodeAs[events.ThresholdAppliedEvent](ev)
			if err != nil {
				logrus.WithError(err).Warn("failed to decode threshold event")
				continue
			}
			t := time.Now()
			if p.Ts > 0 {
				t = time.Unix(p.Ts, 0)
			}
			h.Add(ApplyRecord{Time: t, Device: p.Device, Battery: p.Battery, Applied: p.Applied, Value: p.Value})
		}
	}
}
