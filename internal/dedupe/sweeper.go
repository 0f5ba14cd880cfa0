package dedupe

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/RaikyD/vin-report-service/internal/logger"
)

// Sweeper periodically purges expired entries from a MemoryStore.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules store.Sweep on a standard cron spec
// (e.g. "@every 10m").
func StartSweeper(store *MemoryStore, schedule string) (*Sweeper, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger.Printf()))))
	if _, err := c.AddFunc(schedule, func() {
		if n := store.Sweep(); n > 0 {
			logger.Debug("dedupe entries swept", "count", n, "remaining", store.Len())
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule dedupe sweep %q: %w", schedule, err)
	}
	c.Start()
	logger.Info("dedupe sweeper scheduled", "schedule", schedule)
	return &Sweeper{cron: c}, nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
