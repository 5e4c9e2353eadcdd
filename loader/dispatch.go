package loader

import "sync"

// Dispatcher runs fn on the consumer's context. It must run tasks in the
// order they were posted and must not block the caller on fn.
type Dispatcher func(fn func())

// Inline runs fn on the calling goroutine. Callbacks may then arrive from
// worker goroutines; use it only when the consumer is itself goroutine-safe.
func Inline(fn func()) {
	fn()
}

// serialQueue is the default Dispatcher: an unbounded FIFO drained by one goroutine.
// Posting never blocks, so a callback may call back into the loader.
type serialQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	running bool
	closed  bool
	done    chan struct{}
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *serialQueue) post(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.tasks = append(q.tasks, fn)
	q.cond.Broadcast()
}

func (q *serialQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.running = true
		q.mu.Unlock()

		fn()

		q.mu.Lock()
		q.running = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// drain blocks until the queue is empty and idle. Must not be called from a task.
func (q *serialQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) > 0 || q.running {
		q.cond.Wait()
	}
}

// close runs the remaining tasks, then stops the goroutine.
func (q *serialQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
