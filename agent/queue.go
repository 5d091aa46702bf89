package agent

import "sync"

// writeQueue serializes claim persistence writes for a session. Tasks run on
// a single worker in submission order, so concurrent claim updates never
// interleave their writes and a crash mid-write never leaves a later claim
// persisted ahead of an earlier one.
type writeQueue struct {
	wg sync.WaitGroup

	// mu guards tasks against Enqueue racing Close.
	mu     sync.Mutex
	tasks  chan func()
	closed bool
}

func newWriteQueue() *writeQueue {
	q := &writeQueue{tasks: make(chan func(), 64)}
	go q.run()
	return q
}

func (q *writeQueue) run() {
	for task := range q.tasks {
		task()
		q.wg.Done()
	}
}

// Enqueue appends a task, reporting whether it was accepted. Tasks submitted
// after Close are dropped. Blocks only if the queue is saturated.
func (q *writeQueue) Enqueue(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.wg.Add(1)
	q.tasks <- task
	return true
}

// Flush blocks until every task enqueued so far has run.
func (q *writeQueue) Flush() {
	q.wg.Wait()
}

// Close stops the worker once the queued tasks drain. Safe to call more
// than once.
func (q *writeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}
