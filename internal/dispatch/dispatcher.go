// Package dispatch runs the side effects of appointment transitions
// (notifications, consultation seeding) off the booking path.
//
// Delivery is at-least-once towards the collaborators. Each task carries a
// key (appointment, event kind, target) and a task whose key is recorded in
// the ProcessedStore is never run again.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/appointment"
	"github.com/hackgods/geo-appointment-scheduling/internal/metrics"
	"github.com/hackgods/geo-appointment-scheduling/internal/notify"
	"github.com/hackgods/geo-appointment-scheduling/internal/records"
)

const (
	defaultWorkers        = 4
	defaultMaxAttempts    = 6
	defaultBaseDelay      = 500 * time.Millisecond
	defaultMaxDelay       = 30 * time.Second
	defaultAttemptTimeout = 10 * time.Second
)

type Dispatcher struct {
	notifier notify.Notifier
	seeder   records.Seeder
	store    ProcessedStore
	metrics  *metrics.DispatchMetrics
	logger   zerolog.Logger

	workers        int
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration

	queue *queue

	mu       sync.Mutex
	inflight map[string]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(notifier notify.Notifier, seeder records.Seeder, store ProcessedStore, logger zerolog.Logger) *Dispatcher {
	if store == nil {
		store = NewMemoryProcessedStore()
	}
	return &Dispatcher{
		notifier:       notifier,
		seeder:         seeder,
		store:          store,
		logger:         logger.With().Str("component", "dispatcher").Logger(),
		workers:        defaultWorkers,
		maxAttempts:    defaultMaxAttempts,
		baseDelay:      defaultBaseDelay,
		maxDelay:       defaultMaxDelay,
		attemptTimeout: defaultAttemptTimeout,
		queue:          newQueue(),
		inflight:       make(map[string]struct{}),
	}
}

func (d *Dispatcher) WithWorkers(n int) *Dispatcher {
	if n > 0 {
		d.workers = n
	}
	return d
}

func (d *Dispatcher) WithMaxAttempts(n int) *Dispatcher {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Dispatcher) WithBaseDelay(delay time.Duration) *Dispatcher {
	if delay > 0 {
		d.baseDelay = delay
	}
	return d
}

func (d *Dispatcher) WithMaxDelay(delay time.Duration) *Dispatcher {
	if delay > 0 {
		d.maxDelay = delay
	}
	return d
}

func (d *Dispatcher) WithAttemptTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.attemptTimeout = timeout
	}
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.DispatchMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Publish queues the side effects of ev and returns immediately. A task whose
// key is already queued or running is dropped.
func (d *Dispatcher) Publish(ev appointment.Event) {
	for _, t := range TasksFor(ev) {
		d.mu.Lock()
		if _, busy := d.inflight[t.Key]; busy {
			d.mu.Unlock()
			continue
		}
		d.inflight[t.Key] = struct{}{}
		d.mu.Unlock()

		if !d.queue.push(t) {
			d.done(t)
			d.logger.Warn().Str("task", t.Key).Msg("dispatcher stopped, task dropped")
		}
	}
	d.metrics.SetQueueDepth(d.queue.len())
}

// Start launches the workers. They run until Stop or until ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
	d.logger.Info().Int("workers", d.workers).Msg("dispatcher started")
}

// Pending is the number of queued tasks not yet picked up by a worker.
func (d *Dispatcher) Pending() int {
	return d.queue.len()
}

// Stop refuses new tasks and waits for queued ones to finish. If ctx ends
// first, in-flight work is cancelled and ctx's error returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.queue.close()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		if d.cancel != nil {
			d.cancel()
		}
		d.logger.Info().Msg("dispatcher drained")
		return nil
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		<-finished
		d.logger.Warn().Int("abandoned", d.queue.len()).Msg("dispatcher stop timed out")
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		t, ok := d.queue.pop(ctx)
		if !ok {
			return
		}
		d.metrics.SetQueueDepth(d.queue.len())
		d.handle(ctx, t)
		d.done(t)
	}
}

func (d *Dispatcher) done(t Task) {
	d.mu.Lock()
	delete(d.inflight, t.Key)
	d.mu.Unlock()
}

func (d *Dispatcher) handle(ctx context.Context, t Task) {
	log := d.logger.With().
		Str("task", t.Key).
		Str("kind", string(t.Kind)).
		Str("appointment_id", t.Event.Appointment.ID.String()).
		Logger()

	for attempt := 1; ; attempt++ {
		err := d.attempt(ctx, t)
		switch {
		case err == nil:
			d.metrics.ObserveAttempt(string(t.Kind), "success")
			return
		case errors.Is(err, errAlreadyProcessed):
			d.metrics.ObserveAttempt(string(t.Kind), "duplicate")
			log.Debug().Msg("task already processed")
			return
		case !errors.Is(err, apperr.ErrTransient):
			d.metrics.ObserveAttempt(string(t.Kind), "permanent")
			log.Error().Err(err).Int("attempt", attempt).Msg("task failed permanently")
			return
		}

		d.metrics.ObserveAttempt(string(t.Kind), "retry")
		if attempt >= d.maxAttempts {
			d.metrics.ObserveExhausted(string(t.Kind))
			log.Error().Err(err).Int("attempts", attempt).Msg("task retries exhausted, giving up")
			return
		}

		delay := d.backoff(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("task failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			log.Warn().Msg("dispatcher stopping, retry abandoned")
			return
		}
	}
}

var errAlreadyProcessed = errors.New("already processed")

func (d *Dispatcher) attempt(ctx context.Context, t Task) error {
	ctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	seen, err := d.store.AlreadyProcessed(ctx, t.Key)
	if err != nil {
		return apperr.Transient(err)
	}
	if seen {
		return errAlreadyProcessed
	}

	if err := d.execute(ctx, t); err != nil {
		return err
	}

	if _, err := d.store.MarkProcessed(ctx, t.Key); err != nil {
		// The side effect already happened; only the record is missing.
		d.logger.Error().Err(err).Str("task", t.Key).Msg("mark processed failed")
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, t Task) error {
	a := t.Event.Appointment
	switch t.Kind {
	case TaskNotify:
		return d.notifier.Send(ctx, t.RecipientID, string(t.Event.Kind), payloadFor(a))
	case TaskSeedConsultation:
		id, err := d.seeder.SeedConsultation(ctx, seedRequestFor(a))
		if err != nil {
			return err
		}
		d.logger.Info().
			Str("appointment_id", a.ID.String()).
			Str("consultation_id", id).
			Msg("consultation seeded")
		return nil
	}
	return errors.New("dispatch: unknown task kind " + string(t.Kind))
}

// backoff doubles baseDelay per attempt and stops at maxDelay, so the shift
// never overflows.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.baseDelay
	for i := 1; i < attempt; i++ {
		if delay >= d.maxDelay/2 {
			return d.maxDelay
		}
		delay *= 2
	}
	if delay <= 0 || delay > d.maxDelay {
		return d.maxDelay
	}
	return delay
}
