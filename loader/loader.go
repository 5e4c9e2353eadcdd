// Package loader runs feed loads in the background and hands results to a
// presentation layer.
//
// Every load attempt gets a generation number. A worker's result is delivered
// only if its generation is still the loader's current one when delivery runs;
// Restart and Reset advance the generation, so anything still in flight from
// before is dropped instead of being sent to the Consumer. Workers are never
// interrupted: a superseded worker runs to completion, bounded by the fetcher
// timeouts, and its output is discarded.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/st-keller/quakefeed-client/earthquake"
	"github.com/st-keller/quakefeed-client/request"
	"github.com/st-keller/quakefeed-client/standard"
	"github.com/st-keller/quakefeed-client/types"
)

// State of the loader.
type State int

const (
	Idle State = iota
	Loading
	Delivered
)

// String returns string representation.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Loading:
		return "Loading"
	case Delivered:
		return "Delivered"
	default:
		return fmt.Sprintf("Invalid(%d)", int(s))
	}
}

// DefaultAttemptTimeout bounds one worker: connect timeout plus read timeout.
const DefaultAttemptTimeout = 25 * time.Second

// Consumer receives load notifications. All calls for one loader are made
// through its Dispatcher, one at a time, in order.
type Consumer interface {
	OnLoadStarted()
	OnLoadFinished(result earthquake.Result)
	OnLoadReset()
}

// ConsumerFuncs adapts plain functions to Consumer. Nil fields are skipped.
type ConsumerFuncs struct {
	Started  func()
	Finished func(result earthquake.Result)
	Reset    func()
}

// OnLoadStarted implements Consumer.
func (f ConsumerFuncs) OnLoadStarted() {
	if f.Started != nil {
		f.Started()
	}
}

// OnLoadFinished implements Consumer.
func (f ConsumerFuncs) OnLoadFinished(result earthquake.Result) {
	if f.Finished != nil {
		f.Finished(result)
	}
}

// OnLoadReset implements Consumer.
func (f ConsumerFuncs) OnLoadReset() {
	if f.Reset != nil {
		f.Reset()
	}
}

// Fetcher retrieves the raw feed body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor turns the body into a Result.
type Extractor interface {
	Extract(body string) earthquake.Result
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(body string) earthquake.Result

// Extract implements Extractor.
func (f ExtractorFunc) Extract(body string) earthquake.Result {
	return f(body)
}

// Deps are the collaborators a Loader needs. All fields are required.
type Deps struct {
	Endpoint     string
	Fetcher      Fetcher
	Extractor    Extractor
	Connectivity types.ConnectivityMonitor
	Consumer     Consumer
}

// Validate checks that every dependency is present.
func (d Deps) Validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("Endpoint required")
	}
	if d.Fetcher == nil {
		return fmt.Errorf("Fetcher required")
	}
	if d.Extractor == nil {
		return fmt.Errorf("Extractor required")
	}
	if d.Connectivity == nil {
		return fmt.Errorf("Connectivity required")
	}
	if d.Consumer == nil {
		return fmt.Errorf("Consumer required")
	}
	return nil
}

// Option configures a Loader.
type Option func(*Loader)

// WithDispatcher delivers callbacks through d instead of the loader's own serial queue.
func WithDispatcher(d Dispatcher) Option {
	return func(l *Loader) {
		l.dispatch = d
	}
}

// WithLogs sets the log sink.
func WithLogs(logs *standard.RecentLogs) Option {
	return func(l *Loader) {
		l.logs = logs
	}
}

// WithAttemptTimeout overrides DefaultAttemptTimeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.attemptTimeout = d
		}
	}
}

// cacheEntry is the last delivered result and the generation that produced it.
type cacheEntry struct {
	generation uint64
	result     earthquake.Result
}

// Loader owns the load lifecycle. Start, Restart, Reset and Attach are meant
// to be called from one controlling goroutine; they never block on the network.
type Loader struct {
	endpoint       string
	fetcher        Fetcher
	extractor      Extractor
	connectivity   types.ConnectivityMonitor
	logs           *standard.RecentLogs
	dispatch       Dispatcher
	queue          *serialQueue // nil when a custom Dispatcher is used
	attemptTimeout time.Duration

	mu         sync.Mutex
	consumer   Consumer
	state      State
	generation uint64
	cached     *cacheEntry
	closed     bool

	workers sync.WaitGroup
}

// New creates an Idle loader.
func New(deps Deps, opts ...Option) (*Loader, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loader deps: %w", err)
	}

	l := &Loader{
		endpoint:       deps.Endpoint,
		fetcher:        deps.Fetcher,
		extractor:      deps.Extractor,
		connectivity:   deps.Connectivity,
		consumer:       deps.Consumer,
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logs == nil {
		l.logs = standard.NewRecentLogsTo(100, nil)
	}
	if l.dispatch == nil {
		l.queue = newSerialQueue()
		l.dispatch = l.queue.post
	}

	return l, nil
}

// Start begins a load unless one is already running, in which case the call is
// coalesced and Start returns false.
func (l *Loader) Start(params request.Params) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	if l.state == Loading {
		gen := l.generation
		l.mu.Unlock()
		l.logs.Debug("Load already in progress, coalescing", map[string]interface{}{
			"generation": gen,
		})
		return false
	}
	gen := l.beginLocked()
	l.mu.Unlock()

	l.launch(gen, params)
	return true
}

// Restart drops the cached result and any in-flight result, then starts a new load.
// A worker still running for an older generation is left to finish; its result is discarded.
func (l *Loader) Restart(params request.Params) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.cached = nil
	gen := l.beginLocked()
	l.mu.Unlock()

	l.launch(gen, params)
}

// Reset clears the cached result and returns to Idle without loading.
// A load in flight is invalidated. The Consumer gets OnLoadReset.
func (l *Loader) Reset() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.state == Loading {
		l.generation++
	}
	l.cached = nil
	l.state = Idle
	gen := l.generation
	l.mu.Unlock()

	l.logs.Debug("Loader reset", map[string]interface{}{
		"generation": gen,
	})
	l.dispatch(func() {
		l.currentConsumer().OnLoadReset()
	})
}

// Attach replaces the Consumer. If a result is cached it is delivered to the
// new Consumer, so a recreated presentation layer gets the last data without a new fetch.
func (l *Loader) Attach(c Consumer) {
	if c == nil {
		return
	}

	l.mu.Lock()
	l.consumer = c
	cached := l.cached
	l.mu.Unlock()

	if cached == nil {
		return
	}
	l.dispatch(func() {
		// a Restart or Reset issued before this task runs supersedes the cached result
		l.mu.Lock()
		stale := l.cached != cached || cached.generation != l.generation
		l.mu.Unlock()
		if stale {
			return
		}
		c.OnLoadFinished(cached.result)
	})
}

// Cached returns the last delivered result and its generation.
func (l *Loader) Cached() (uint64, earthquake.Result, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached == nil {
		return 0, earthquake.Result{}, false
	}
	return l.cached.generation, l.cached.result, true
}

// State returns the current state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Generation returns the current generation.
func (l *Loader) Generation() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

// Wait blocks until every spawned worker has returned and, with the default
// dispatcher, until all pending callbacks have run. Do not call it from a callback.
func (l *Loader) Wait() {
	l.workers.Wait()
	if l.queue != nil {
		l.queue.drain()
	}
}

// Close stops accepting loads, waits for workers and flushes callbacks.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.workers.Wait()
	if l.queue != nil {
		l.queue.close()
	}
}

// beginLocked advances the generation and enters Loading. Caller holds mu.
func (l *Loader) beginLocked() uint64 {
	l.generation++
	l.state = Loading
	return l.generation
}

func (l *Loader) currentConsumer() Consumer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consumer
}

// launch notifies the Consumer and spawns the worker for gen. It never touches
// the network, so the controlling goroutine does not block.
func (l *Loader) launch(gen uint64, params request.Params) {
	attemptID := uuid.NewString()
	l.logs.Info("Load started", map[string]interface{}{
		"generation": gen,
		"attempt_id": attemptID,
		"minmag":     params.MinMagnitude,
		"orderby":    params.OrderBy.String(),
	})
	l.dispatch(func() {
		l.currentConsumer().OnLoadStarted()
	})

	l.workers.Add(1)
	go l.work(gen, attemptID, params)
}

func (l *Loader) work(gen uint64, attemptID string, params request.Params) {
	defer l.workers.Done()

	ctx, cancel := context.WithTimeout(context.Background(), l.attemptTimeout)
	defer cancel()

	l.deliverIfCurrent(gen, attemptID, l.load(ctx, params))
}

// load runs build, connectivity check, fetch and extract for one attempt.
// Offline fails with NoConnectivity before the fetcher is touched.
func (l *Loader) load(ctx context.Context, params request.Params) earthquake.Result {
	if err := params.Validate(); err != nil {
		return earthquake.Failed(earthquake.InvalidRequest, fmt.Errorf("%w: %v", earthquake.ErrInvalidRequest, err))
	}
	url, err := request.Build(l.endpoint, params)
	if err != nil {
		return earthquake.Failed(earthquake.InvalidRequest, err)
	}

	if !l.connectivity.IsConnected() {
		return earthquake.Failed(earthquake.NoConnectivity, earthquake.ErrNoConnectivity)
	}

	body, err := l.fetcher.Fetch(ctx, url)
	if err != nil {
		return earthquake.Failed(earthquake.KindNone, err)
	}

	return l.extractor.Extract(body)
}

// deliverIfCurrent caches result and hands it to the Consumer when gen is
// still current at the moment the dispatched task runs; otherwise it is dropped.
func (l *Loader) deliverIfCurrent(gen uint64, attemptID string, result earthquake.Result) {
	l.dispatch(func() {
		l.mu.Lock()
		if gen != l.generation {
			current := l.generation
			l.mu.Unlock()
			l.logs.Debug("Dropping stale result", map[string]interface{}{
				"generation": gen,
				"current":    current,
				"attempt_id": attemptID,
				"result":     result.String(),
			})
			return
		}
		l.cached = &cacheEntry{generation: gen, result: result}
		l.state = Delivered
		consumer := l.consumer
		l.mu.Unlock()

		ctx := map[string]interface{}{
			"generation": gen,
			"attempt_id": attemptID,
			"result":     result.String(),
		}
		if result.Kind() == earthquake.Failure {
			l.logs.WarnNoTrigger("Load failed", ctx)
		} else {
			l.logs.Info("Load finished", ctx)
		}
		consumer.OnLoadFinished(result)
	})
}
