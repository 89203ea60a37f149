package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/wabdesk/wabdesk/internal/config"
)

// SchedulerConfig controls heartbeat timing.
type SchedulerConfig struct {
	// InitialDelay is the wait before the first beat after Start.
	InitialDelay time.Duration
	// Interval is the time between beats.
	Interval time.Duration
}

// DefaultSchedulerConfig returns a 10s initial delay and a 24h interval.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		InitialDelay: config.DefaultInitialDelay,
		Interval:     config.DefaultHeartbeatInterval,
	}
}

// Scheduler runs heartbeats for one application instance. Beats never
// overlap; a failed beat is reported to the callback and never stops the loop.
type Scheduler struct {
	agent    *Agent
	config   SchedulerConfig
	onResult func(BeatResult)
	logger   zerolog.Logger

	beatMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a heartbeat scheduler. onResult may be nil.
func NewScheduler(a *Agent, cfg SchedulerConfig, onResult func(BeatResult)) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultHeartbeatInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	return &Scheduler{
		agent:    a,
		config:   cfg,
		onResult: onResult,
		logger:   a.logger.With().Str("component", "heartbeat").Logger(),
	}
}

// StartHeartbeat creates and starts a Scheduler for the agent.
func (a *Agent) StartHeartbeat(ctx context.Context, cfg SchedulerConfig, onResult func(BeatResult)) (*Scheduler, error) {
	s := NewScheduler(a, cfg, onResult)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Beat performs a single heartbeat unless one is already running.
func (s *Scheduler) Beat(ctx context.Context) BeatResult {
	if !s.beatMu.TryLock() {
		s.logger.Debug().Msg("heartbeat already in progress, skipping")
		return BeatResult{Skipped: true}
	}
	defer s.beatMu.Unlock()

	res, err := s.agent.heartbeat(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return BeatResult{Skipped: true}
		}
		s.logger.Error().Err(err).Msg("heartbeat error")
		res = BeatResult{Reason: ReasonValidationFailed}
	}

	if !res.Skipped && s.onResult != nil {
		s.onResult(res)
	}
	return res
}

// Start schedules the first beat after the initial delay and then one per
// interval until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("heartbeat scheduler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger})))
	c.Schedule(cron.Every(s.config.Interval), cron.FuncJob(func() { s.Beat(ctx) }))

	go s.run(ctx, c)

	s.logger.Info().
		Dur("initial_delay", s.config.InitialDelay).
		Dur("interval", s.config.Interval).
		Msg("heartbeat scheduler started")
	return nil
}

func (s *Scheduler) run(ctx context.Context, c *cron.Cron) {
	defer close(s.done)

	timer := time.NewTimer(s.config.InitialDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	s.Beat(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

// Stop cancels pending and future beats and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("heartbeat scheduler stopped")
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
