package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often a Sweeper cleans expired entries.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically removes expired entries of every category.
type Sweeper struct {
	store      *Store
	interval   time.Duration
	categories []Category
	logger     zerolog.Logger
}

// NewSweeper creates a Sweeper over the predefined categories.
// interval <= 0 uses DefaultSweepInterval.
func NewSweeper(store *Store, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:      store,
		interval:   interval,
		categories: Categories(),
		logger:     logger,
	}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce cleans every category and returns the number of removed entries.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for _, c := range s.categories {
		total += s.store.CleanExpired(ctx, c.Options)
	}
	s.logger.Debug().Int("removed", total).Msg("Cache sweep completed")
	return total
}

// Close clears the Temp category. It is the session-end hook.
func (s *Sweeper) Close(ctx context.Context) {
	s.store.Clear(ctx, Temp)
}
