package collector

import (
	"context"
	"sync"
	"time"

	"github.com/robertof/go-lywsd03mmc-bridge/collector/model"
	"github.com/rs/zerolog/log"
)

// Recurring runs a poll cycle on a fixed interval and keeps the results of the last one around
// for concurrent readers.
type Recurring struct {
	collector *Collector

	results        []model.DeviceResult
	collectionTime time.Time
	mu             sync.Mutex

	// collector has been Start()ed
	started bool
}

func NewRecurring(c *Collector) *Recurring {
	return &Recurring{collector: c}
}

func (s *Recurring) Update(r []model.DeviceResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r == nil {
		panic("attempted to set nil results")
	}

	s.results = r
	s.collectionTime = time.Now()
}

// Latest returns the results of the last completed cycle and the time it completed at. Results
// are empty before the first cycle completes.
func (s *Recurring) Latest() ([]model.DeviceResult, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// safe to return as we replace the old slice with a new one on update.
	return s.results, s.collectionTime
}

// Start polls immediately and then every interval, until ctx is cancelled.
func (s *Recurring) Start(ctx context.Context, interval time.Duration) error {
	if s.started {
		panic("attempted to call collector.Recurring.Start() twice")
	}

	s.started = true

	log.Info().
		Dur("Interval", interval).
		Int("Devices", len(s.collector.Devices())).
		Msg("Starting recurring collector")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("Recurring collector is shutting down")
			return ctx.Err()
		case <-ticker.C:
			log.Trace().Dur("Interval", interval).Msg("Recurring collector tick: collecting...")
		}
	}
}

func (s *Recurring) tick(ctx context.Context) {
	results := s.collector.Poll(ctx)

	if ctx.Err() != nil {
		// partial results of an interrupted cycle are not worth keeping.
		return
	}

	failed := 0

	for _, res := range results {
		if res.Error != nil {
			failed++
		}
	}

	if failed > 0 {
		log.Warn().
			Int("Failed", failed).
			Int("Total", len(results)).
			Msg("Collection failed for one or more devices!")
	}

	s.Update(results)
}
