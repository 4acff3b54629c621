package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/confer/internal/observability"
)

// DefaultSweepSchedule runs a purge every five minutes
const DefaultSweepSchedule = "@every 5m"

const sweepTimeout = time.Minute

// Sweeper purges expired sessions on a cron schedule
type Sweeper struct {
	purger   Purger
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper creates a sweeper for purger. schedule accepts standard five
// field cron expressions and descriptors such as "@every 5m".
func NewSweeper(purger Purger, schedule string) (*Sweeper, error) {
	if purger == nil {
		return nil, errors.New("purger is required")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := sweepParser().Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return &Sweeper{
		purger:   purger,
		schedule: schedule,
		logger:   log.Logger.With().Str("component", "session_sweeper").Logger(),
	}, nil
}

func sweepParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Start schedules the purge
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	c := cron.New(cron.WithParser(sweepParser()))
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Info().Str("schedule", s.schedule).Msg("Session sweeper started")
	return nil
}

// Stop unschedules the purge and waits for a running one to finish
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("sweeper is not running")
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info().Msg("Session sweeper stopped")
	return nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge expired sessions")
	}
}

// Sweep runs one purge immediately
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	purged, err := s.purger.Purge(ctx)
	if purged > 0 {
		observability.RecordSessionsPurged(purged)
		s.logger.Info().Int("purged", purged).Msg("Purged expired sessions")
	}
	return purged, err
}
