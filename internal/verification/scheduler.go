package verification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrCycleInFlight is returned when a cycle is requested while one is
// already executing.
var ErrCycleInFlight = errors.New("scoring cycle already in flight")

// Scheduler drives the pipeline: one cycle immediately on start, then
// one per interval. Cycles never overlap; a tick or kick that lands
// while a cycle is running is dropped, not queued, so two cycles can
// never race on the same candidate set.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
	log      zerolog.Logger

	kick chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inFlight atomic.Bool
}

// NewScheduler wires a scheduler around a pipeline.
func NewScheduler(pipeline *Pipeline, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Scheduler{
		pipeline: pipeline,
		interval: interval,
		log:      log,
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the background loop. It returns an error if already
// started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(runCtx)
	return nil
}

// Stop terminates the loop and waits for any in-flight cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Kick requests an early cycle, e.g. after an admin re-check request.
// Kicks coalesce; one pending kick is enough.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.runGuarded(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runGuarded(ctx)
		case <-s.kick:
			s.runGuarded(ctx)
		}
	}
}

func (s *Scheduler) runGuarded(ctx context.Context) {
	if err := s.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrCycleInFlight) {
			ticksSkipped.Inc()
			s.log.Debug().Msg("tick skipped, cycle still running")
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		cycleErrors.Inc()
		s.log.Error().Err(err).Msg("scoring cycle failed")
	}
}

// RunCycle executes exactly one cycle, or returns ErrCycleInFlight when
// one is already executing. Tests drive this directly instead of
// waiting on the wall clock.
func (s *Scheduler) RunCycle(ctx context.Context) (err error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInFlight
	}
	cycleRunning.Set(1)
	defer func() {
		cycleRunning.Set(0)
		s.inFlight.Store(false)
		if r := recover(); r != nil {
			cycleErrors.Inc()
			s.log.Error().Interface("panic", r).Msg("scoring cycle panicked")
			err = errors.New("scoring cycle panicked")
		}
	}()

	start := time.Now()
	res, err := s.pipeline.RunCycle(ctx)
	if err != nil {
		return err
	}
	cyclesRun.Inc()
	if res.Selected == 0 {
		s.log.Debug().Msg("no candidates due")
		return nil
	}
	s.log.Info().
		Int("selected", res.Selected).
		Int("scored", res.Scored).
		Int("skipped", res.Skipped).
		Dur("duration", time.Since(start)).
		Msg("scoring cycle completed")
	return nil
}
