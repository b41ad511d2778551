package battery

import (
	"context"
	"sync/atomic"
	"time"

	"coldsign/internal/log"

	"github.com/robfig/cron/v3"
)

// sampleTimeout bounds a single gauge read.
const sampleTimeout = time.Second

// Monitor samples a Reader on a cron schedule and keeps the last voltage for
// the poll loop, which must not block on the bus.
type Monitor struct {
	r    Reader
	mv   atomic.Int64
	cron *cron.Cron
}

// NewMonitor schedules r with a robfig/cron spec such as "@every 2s".
func NewMonitor(r Reader, spec string) (*Monitor, error) {
	m := &Monitor{r: r, cron: cron.New()}
	if _, err := m.cron.AddFunc(spec, m.sample); err != nil {
		return nil, err
	}
	return m, nil
}

// Start takes one sample right away and then follows the schedule until ctx
// is done.
func (m *Monitor) Start(ctx context.Context) {
	m.sample()
	m.cron.Start()
	go func() {
		<-ctx.Done()
		<-m.cron.Stop().Done()
	}()
}

// Millivolts returns the latest sample, or 0 before the first one.
func (m *Monitor) Millivolts() int {
	return int(m.mv.Load())
}

func (m *Monitor) sample() {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()
	s, err := m.r.Read(ctx)
	if err != nil {
		log.Error("battery: sample failed", err)
		return
	}
	prev := m.mv.Swap(int64(s.VoltageMv))
	if prev != int64(s.VoltageMv) {
		log.Debug("battery: voltage", "mv", s.VoltageMv, "percent", s.Percent)
	}
}
