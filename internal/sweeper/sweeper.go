package sweeper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one expiry sweep, returning how many records it moved
type Job struct {
	Name  string
	Sweep func(ctx context.Context) (int, error)
}

// Sweeper runs expiry jobs on a fixed interval
type Sweeper struct {
	interval time.Duration
	jobs     []Job
}

// DefaultInterval replaces a non-positive interval
const DefaultInterval = time.Minute

// New creates a sweeper running jobs every interval
func New(interval time.Duration, jobs ...Job) *Sweeper {
	if interval <= 0 {
		logrus.WithField("interval", interval).Warnf("sweep interval must be positive, using %s", DefaultInterval)
		interval = DefaultInterval
	}
	return &Sweeper{interval: interval, jobs: jobs}
}

// Run sweeps once immediately and then on every tick until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every job once and returns the per-job counts. A failing job
// is logged and does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) map[string]int {
	counts := make(map[string]int, len(s.jobs))
	for _, job := range s.jobs {
		n, err := job.Sweep(ctx)
		counts[job.Name] = n
		if err != nil {
			logrus.WithError(err).WithField("job", job.Name).Error("sweep failed")
		}
	}
	return counts
}
