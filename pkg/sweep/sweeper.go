// Package sweep removes long-unseen subscriptions on a schedule. Dispatch
// pruning handles endpoints the gateway reports dead; the sweep catches
// devices that simply never came back.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/realpolitik/push-relay/pkg/lifecycle"
)

// DefaultHorizon is how long a subscription may go unseen before the sweep
// removes it.
const DefaultHorizon = 180 * 24 * time.Hour

// Sweeper runs the stale-subscription sweep on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	svc     *lifecycle.Service
	horizon time.Duration
}

// New creates a sweeper. spec is a standard five-field cron expression;
// horizon <= 0 selects DefaultHorizon.
func New(svc *lifecycle.Service, spec string, horizon time.Duration) (*Sweeper, error) {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	s := &Sweeper{
		cron:    cron.New(),
		svc:     svc,
		horizon: horizon,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the schedule in a background goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Printf("[SWEEP] stale subscription sweep scheduled (horizon %s)", s.horizon)
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := s.svc.SweepStale(ctx, s.horizon)
	if err != nil {
		log.Printf("[SWEEP] sweep failed: %v", err)
		return
	}
	log.Printf("[SWEEP] sweep complete, removed=%d", removed)
}
