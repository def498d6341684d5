package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pulsecrm/internal/domain/job"
)

// HandlerFunc executes one job. A nil return completes the job; an error
// schedules a retry with backoff until attempts are exhausted.
type HandlerFunc func(ctx context.Context, j *job.Job) error

// Recurring schedules a job kind to be enqueued on a fixed interval. The
// enqueued job then rides the normal queue machinery, so a failing recurring
// task still gets retries and a DEAD-list entry.
type Recurring struct {
	Kind     string
	Queue    job.Queue
	Interval time.Duration
	Payload  json.RawMessage
}

// Scheduler drains the durable job queues with one worker loop per queue and
// fires recurring enqueues on their intervals.
type Scheduler struct {
	repo         job.Repository
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger

	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	recurring []Recurring

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped scheduler. pollInterval <= 0 defaults to 5s.
func New(repo job.Repository, pollInterval time.Duration, logger zerolog.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Scheduler{
		repo:         repo,
		pollInterval: pollInterval,
		batchSize:    20,
		logger:       logger.With().Str("service", "scheduler").Logger(),
		handlers:     make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a job kind. Must be called before Start.
func (s *Scheduler) Register(kind string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = fn
}

// RegisterRecurring adds a fixed-interval enqueue. Must be called before Start.
func (s *Scheduler) RegisterRecurring(r Recurring) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring = append(s.recurring, r)
}

// Enqueue persists a pending job due immediately.
func (s *Scheduler) Enqueue(ctx context.Context, queue job.Queue, kind string, payload json.RawMessage) (*job.Job, error) {
	j := job.New(queue, kind, payload)
	if err := s.repo.Enqueue(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return j, nil
}

// Start launches the queue workers and recurring tickers. Stop with Shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, q := range []job.Queue{job.QueueNotifications, job.QueueEmail, job.QueueCleanup} {
		s.wg.Add(1)
		go s.drainLoop(ctx, q)
	}

	s.mu.RLock()
	recurring := make([]Recurring, len(s.recurring))
	copy(recurring, s.recurring)
	s.mu.RUnlock()
	for _, r := range recurring {
		s.wg.Add(1)
		go s.recurLoop(ctx, r)
	}

	s.logger.Info().Int("recurring", len(recurring)).Msg("scheduler started")
}

// Shutdown stops the loops and waits for in-flight jobs to finish.
func (s *Scheduler) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

// ListFailed exposes the DEAD list for operator inspection.
func (s *Scheduler) ListFailed(ctx context.Context, limit, offset int) ([]*job.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListDead(ctx, limit, offset)
}

func (s *Scheduler) drainLoop(ctx context.Context, queue job.Queue) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainOnce(ctx, queue)
		}
	}
}

func (s *Scheduler) drainOnce(ctx context.Context, queue job.Queue) {
	jobs, err := s.repo.ClaimDue(ctx, queue, time.Now().UTC(), s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Str("queue", string(queue)).Msg("claim failed")
		return
	}
	for _, j := range jobs {
		s.execute(ctx, j)
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job.Job) {
	s.mu.RLock()
	fn, ok := s.handlers[j.Kind]
	s.mu.RUnlock()

	var runErr error
	if !ok {
		runErr = fmt.Errorf("no handler registered for kind %q", j.Kind)
	} else {
		runErr = fn(ctx, j)
	}

	// The terminal status write must land even when shutdown has already
	// cancelled the worker context, or the job strands in RUNNING.
	updCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr == nil {
		if err := j.MarkDone(); err == nil {
			if err := s.repo.Update(updCtx, j); err != nil {
				s.logger.Error().Err(err).Str("job_id", j.ID.String()).Msg("job completion update failed")
			}
		}
		return
	}

	retry, err := j.MarkFailed(runErr.Error())
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", j.ID.String()).Msg("job failure transition rejected")
		return
	}
	if err := s.repo.Update(updCtx, j); err != nil {
		s.logger.Error().Err(err).Str("job_id", j.ID.String()).Msg("job failure update failed")
		return
	}
	evt := s.logger.Warn().Err(runErr).
		Str("job_id", j.ID.String()).
		Str("kind", j.Kind).
		Int("attempt", j.Attempts)
	if retry {
		evt.Time("run_at", j.RunAt).Msg("job failed, retry scheduled")
	} else {
		evt.Msg("job exhausted attempts, parked on failed list")
	}
}

func (s *Scheduler) recurLoop(ctx context.Context, r Recurring) {
	defer s.wg.Done()
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Enqueue(ctx, r.Queue, r.Kind, r.Payload); err != nil {
				s.logger.Error().Err(err).Str("kind", r.Kind).Msg("recurring enqueue failed")
			}
		}
	}
}
