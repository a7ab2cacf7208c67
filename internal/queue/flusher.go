package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/risalo/backend/internal/interactions"
	"github.com/risalo/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultFlushTimeout  = 10 * time.Second
	defaultBatchLimit    = 100
	defaultMaxAttempts   = 5

	// DropReasonExhausted marks a mutation dropped after its retry budget.
	DropReasonExhausted = "retry_exhausted"
)

var (
	errMissingQueue   = errors.New("queue: flusher requires a queue")
	errMissingApplier = errors.New("queue: flusher requires an applier")
)

// Applier sends one batch to the server and returns per-mutation results.
// A returned error means the request itself failed and nothing was applied.
type Applier interface {
	Apply(ctx context.Context, batch []interactions.Mutation) ([]interactions.MutationResult, error)
}

// DropHandler is invoked for every mutation permanently abandoned, so the
// UI layer can roll back the optimistic state and notify the user.
type DropHandler func(mutation interactions.Mutation, reason string)

// FlusherConfig describes the dependencies and tuning for a Flusher.
type FlusherConfig struct {
	Queue       *MutationQueue
	Applier     Applier
	Logger      *zap.Logger
	Interval    time.Duration
	Timeout     time.Duration
	BatchLimit  int
	MaxAttempts int
	Metrics     *metrics.Metrics
	OnDrop      DropHandler
}

// Flusher drains the mutation queue to the server on a timer, on demand,
// and on reconnect. At most one flush cycle runs at a time; enqueues are
// never blocked by an in-flight flush.
type Flusher struct {
	queue       *MutationQueue
	applier     Applier
	logger      *zap.Logger
	interval    time.Duration
	timeout     time.Duration
	batchLimit  int
	maxAttempts int
	metrics     *metrics.Metrics
	onDrop      DropHandler

	stopChan chan struct{}
	kick     chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
	flushing atomic.Bool
	online   atomic.Bool
}

// NewFlusher validates the configuration and constructs a Flusher in the
// online state. Call Start to launch the background loop.
func NewFlusher(cfg FlusherConfig) (*Flusher, error) {
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	if cfg.Applier == nil {
		return nil, errMissingApplier
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFlushTimeout
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	metricSet := cfg.Metrics
	if metricSet == nil {
		metricSet = metrics.New(nil)
	}

	f := &Flusher{
		queue:       cfg.Queue,
		applier:     cfg.Applier,
		logger:      logger,
		interval:    interval,
		timeout:     timeout,
		batchLimit:  batchLimit,
		maxAttempts: maxAttempts,
		metrics:     metricSet,
		onDrop:      cfg.OnDrop,
		stopChan:    make(chan struct{}),
		kick:        make(chan struct{}, 1),
	}
	f.online.Store(true)
	return f, nil
}

// Start launches the background flush loop.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.loop()
	}()
}

// Stop performs a final flush attempt and joins the background loop.
func (f *Flusher) Stop() {
	if !atomic.CompareAndSwapUint32(&f.stopped, 0, 1) {
		return
	}
	close(f.stopChan)
	f.wg.Wait()
}

// FlushNow requests an immediate flush cycle without waiting for the timer.
// The signal coalesces: repeated calls during one cycle trigger one more.
func (f *Flusher) FlushNow() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// SetOnline records connectivity. Transitioning back online triggers an
// immediate flush of everything accumulated while offline.
func (f *Flusher) SetOnline(online bool) {
	wasOnline := f.online.Swap(online)
	if online && !wasOnline {
		f.FlushNow()
	}
}

// Status is a read-only snapshot polled by UI components.
type Status struct {
	Online   bool
	Flushing bool
	Queue    Stats
}

// Status reports connectivity, in-flight state, and queue occupancy.
func (f *Flusher) Status() Status {
	return Status{
		Online:   f.online.Load(),
		Flushing: f.flushing.Load(),
		Queue:    f.queue.Stats(),
	}
}

func (f *Flusher) loop() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.runFlushCycle()
		case <-f.kick:
			f.runFlushCycle()
		case <-f.stopChan:
			// Last chance to hand pending work to the server before the
			// session goes away.
			f.runFlushCycle()
			return
		}
	}
}

// runFlushCycle drains at most one batch. It never runs concurrently with
// itself and is skipped entirely while offline or when nothing is pending,
// so an empty queue produces no network request.
func (f *Flusher) runFlushCycle() {
	if !f.online.Load() {
		return
	}
	if !f.flushing.CompareAndSwap(false, true) {
		return
	}
	defer f.flushing.Store(false)

	batch := f.queue.All()
	if len(batch) == 0 {
		return
	}
	if len(batch) > f.batchLimit {
		batch = batch[:f.batchLimit]
	}

	f.metrics.FlushCyclesTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	results, err := f.applier.Apply(ctx, batch)
	if err != nil {
		f.requeueAll(batch, err)
		return
	}
	f.applyResults(batch, results)
}

// requeueAll handles a transport-level failure: nothing was applied, so the
// whole batch stays queued with an incremented attempt count.
func (f *Flusher) requeueAll(batch []interactions.Mutation, cause error) {
	ids := make([]string, 0, len(batch))
	for _, mutation := range batch {
		ids = append(ids, mutation.ID)
	}
	dropped := f.queue.RecordFailure(ids, f.maxAttempts)
	f.metrics.RetriedTotal.Add(float64(len(ids) - len(dropped)))
	f.reportDropped(dropped, DropReasonExhausted)

	f.logger.Warn("flush request failed, batch requeued",
		zap.String("operation", "flusher.flush"),
		zap.Int("batch_size", len(batch)),
		zap.Int("dropped", len(dropped)),
		zap.Error(cause))
}

// applyResults settles a per-mutation response: confirmed mutations leave
// the queue, permanent rejections are dropped and reported, and retryable
// failures stay queued within their attempt budget.
func (f *Flusher) applyResults(batch []interactions.Mutation, results []interactions.MutationResult) {
	byID := make(map[string]interactions.Mutation, len(batch))
	for _, mutation := range batch {
		byID[mutation.ID] = mutation
	}

	var confirmed []string
	var permanent []string
	var retryable []string
	permanentReasons := make(map[string]string)

	for _, result := range results {
		if _, known := byID[result.ID]; !known {
			continue
		}
		switch {
		case result.Success:
			confirmed = append(confirmed, result.ID)
		case interactions.RetryableFailure(result.Error):
			retryable = append(retryable, result.ID)
		default:
			permanent = append(permanent, result.ID)
			permanentReasons[result.ID] = result.Error
		}
	}

	if len(confirmed) > 0 {
		f.queue.Dequeue(confirmed)
		f.metrics.AppliedTotal.Add(float64(len(confirmed)))
	}

	if len(permanent) > 0 {
		f.queue.Dequeue(permanent)
		f.metrics.DroppedTotal.Add(float64(len(permanent)))
		for _, id := range permanent {
			mutation := byID[id]
			f.logger.Warn("mutation permanently rejected",
				zap.String("operation", "flusher.flush"),
				zap.String("mutation_id", id),
				zap.String("reason", permanentReasons[id]))
			if f.onDrop != nil {
				f.onDrop(mutation, permanentReasons[id])
			}
		}
	}

	if len(retryable) > 0 {
		dropped := f.queue.RecordFailure(retryable, f.maxAttempts)
		f.metrics.RetriedTotal.Add(float64(len(retryable) - len(dropped)))
		f.reportDropped(dropped, DropReasonExhausted)
	}
}

func (f *Flusher) reportDropped(dropped []interactions.Mutation, reason string) {
	if len(dropped) == 0 {
		return
	}
	f.metrics.DroppedTotal.Add(float64(len(dropped)))
	for _, mutation := range dropped {
		f.logger.Warn("mutation abandoned after exhausting retries",
			zap.String("operation", "flusher.flush"),
			zap.String("mutation_id", mutation.ID),
			zap.Int("attempts", mutation.Attempts))
		if f.onDrop != nil {
			f.onDrop(mutation, reason)
		}
	}
}
