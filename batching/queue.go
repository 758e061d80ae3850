// Package batching turns individually submitted values into ordered batches for bulk remote
// submission. Each value gets its own completion handle.
//
// The owner registers a drain callback. The first Add after the queue went idle invokes it once;
// the owner then repeatedly calls FillCurrentBatch, sends GetCurrentBatchValues somewhere and
// reports the outcome with CompleteElements, until FillCurrentBatch finds nothing left to do.
package batching

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jizhuozhi/go-future"
)

var (
	// ErrQueueClosed is returned by Add once the queue is inactive
	ErrQueueClosed = errors.New("queue closed")
	// ErrCancelled resolves ops cancelled by the caller or by HandleError(Cancel)
	ErrCancelled = errors.New("cancelled")
)

// Trigger gates drain requests
type Trigger uint8

const (
	// TriggerOpen means no drain is outstanding; the next Add requests one
	TriggerOpen Trigger = iota
	// TriggerClosed means a drain was requested and has not yet found the queue idle
	TriggerClosed
)

func (t Trigger) String() string {
	if t == TriggerOpen {
		return "open"
	}
	return "closed"
}

// Action tells HandleError what to do with the tracked ops.
// The zero value is not a valid action and is handled like CompleteWithException.
type Action uint8

const (
	// Retry returns the current batch to the front of pending
	Retry Action = iota + 1
	// Cancel resolves every op with ErrCancelled and closes the queue
	Cancel
	// Complete resolves every op successfully with the zero result and closes the queue
	Complete
	// CompleteWithException resolves every op with the error and closes the queue
	CompleteWithException
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Cancel:
		return "cancel"
	case Complete:
		return "complete"
	case CompleteWithException:
		return "complete_with_exception"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Queue buffers values of type V whose ops resolve to F.
// pending, batch, trigger and active are guarded by mu so a value is never in both collections
// and a trigger flip is never observed apart from the element that caused it.
type Queue[V, F any] struct {
	mu           sync.Mutex
	pending      []*Op[V, F]
	batch        []*Op[V, F]
	trigger      Trigger
	active       bool
	drain        func(count int)
	initialBatch int
}

// New creates an active queue. drain is called outside the queue lock with initialBatch (or the
// pending size when initialBatch <= 0) whenever an Add finds the trigger open.
func New[V, F any](drain func(count int), initialBatch int) *Queue[V, F] {
	return &Queue[V, F]{
		trigger:      TriggerOpen,
		active:       true,
		drain:        drain,
		initialBatch: initialBatch,
	}
}

// Add queues a value. It fails with ErrQueueClosed once the queue is inactive.
func (q *Queue[V, F]) Add(value V) (*Op[V, F], error) {
	op := newOp[V, F](value)

	q.mu.Lock()
	if !q.active {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.pending = append(q.pending, op)
	fire := q.trigger == TriggerOpen
	if fire {
		q.trigger = TriggerClosed
	}
	hint := q.initialBatch
	if hint <= 0 {
		hint = len(q.pending)
	}
	q.mu.Unlock()

	if fire && q.drain != nil {
		q.drain(hint)
	}
	return op, nil
}

// FillCurrentBatch moves up to max ops from the head of pending to the tail of the batch and
// reports whether anything moved. When nothing moved and the batch holds no unresolved op the
// queue is idle: the batch is cleared and the trigger reopens.
func (q *Queue[V, F]) FillCurrentBatch(max int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max, len(q.pending))
	if n <= 0 {
		if len(q.pending) == 0 && q.batchCompleteLocked() {
			clear(q.batch)
			q.batch = q.batch[:0]
			q.trigger = TriggerOpen
		}
		return false
	}

	q.batch = append(q.batch, q.pending[:n]...)
	clear(q.pending[:n])
	q.pending = q.pending[n:]
	return true
}

// GetCurrentBatchValues returns the values of unresolved batch ops in order. Ops resolved out of
// band (cancelled by their caller) are dropped from the batch so positions stay aligned with the
// returned values.
func (q *Queue[V, F]) GetCurrentBatchValues() []V {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.batch[:0]
	for _, op := range q.batch {
		if !op.IsDone() {
			kept = append(kept, op)
		}
	}
	clear(q.batch[len(kept):])
	q.batch = kept

	values := make([]V, len(kept))
	for i, op := range kept {
		values[i] = op.value
	}
	return values
}

// IsBatchComplete reports whether the batch is empty or fully resolved
func (q *Queue[V, F]) IsBatchComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.batchCompleteLocked()
}

func (q *Queue[V, F]) batchCompleteLocked() bool {
	for _, op := range q.batch {
		if !op.IsDone() {
			return false
		}
	}
	return true
}

// CompleteElements resolves and removes the first count batch ops. errs holds failures keyed by
// position in the batch; every other op succeeds with value(i) (or the zero F when value is nil).
func (q *Queue[V, F]) CompleteElements(count int, errs map[int]error, value func(i int) F) {
	q.mu.Lock()
	n := min(count, len(q.batch))
	if n <= 0 {
		q.mu.Unlock()
		return
	}
	done := make([]*Op[V, F], n)
	copy(done, q.batch[:n])
	clear(q.batch[:n])
	q.batch = q.batch[n:]
	q.mu.Unlock()

	for i, op := range done {
		if err := errs[i]; err != nil {
			var zero F
			op.resolve(zero, err)
			continue
		}
		var result F
		if value != nil {
			result = value(i)
		}
		op.resolve(result, nil)
	}
}

// HandleError applies action to the tracked ops. Every action except Retry resolves all ops and
// closes the queue.
func (q *Queue[V, F]) HandleError(err error, action Action) {
	q.mu.Lock()
	if action == Retry {
		requeued := make([]*Op[V, F], 0, len(q.batch)+len(q.pending))
		requeued = append(requeued, q.batch...)
		requeued = append(requeued, q.pending...)
		q.pending = requeued
		q.batch = nil
		q.trigger = TriggerClosed
		q.mu.Unlock()
		return
	}

	ops := make([]*Op[V, F], 0, len(q.batch)+len(q.pending))
	ops = append(ops, q.batch...)
	ops = append(ops, q.pending...)
	q.batch = nil
	q.pending = nil
	q.active = false
	q.mu.Unlock()

	var zero F
	for _, op := range ops {
		switch action {
		case Cancel:
			if err != nil {
				op.resolve(zero, fmt.Errorf("%w: %w", ErrCancelled, err))
			} else {
				op.resolve(zero, ErrCancelled)
			}
		case Complete:
			op.resolve(zero, nil)
		default:
			op.resolve(zero, err)
		}
	}
}

// Flush returns a future that resolves once every op tracked at call time has resolved,
// whatever the outcome of each op. Ops added later are not waited for.
func (q *Queue[V, F]) Flush() *future.Future[struct{}] {
	q.mu.Lock()
	ops := make([]*Op[V, F], 0, len(q.batch)+len(q.pending))
	ops = append(ops, q.batch...)
	ops = append(ops, q.pending...)
	q.mu.Unlock()

	p := future.NewPromise[struct{}]()
	if len(ops) == 0 {
		p.Set(struct{}{}, nil)
		return p.Future()
	}

	go func() {
		for _, op := range ops {
			<-op.done
		}
		p.Set(struct{}{}, nil)
	}()
	return p.Future()
}

// Close stops accepting values. Tracked ops are left for the owner to drain.
func (q *Queue[V, F]) Close() {
	q.mu.Lock()
	q.active = false
	q.mu.Unlock()
}

// IsActive reports whether Add still accepts values
func (q *Queue[V, F]) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Pending returns the values not yet claimed by a batch, in order
func (q *Queue[V, F]) Pending() []V {
	q.mu.Lock()
	defer q.mu.Unlock()

	values := make([]V, len(q.pending))
	for i, op := range q.pending {
		values[i] = op.value
	}
	return values
}

// Trigger returns the current trigger state
func (q *Queue[V, F]) Trigger() Trigger {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.trigger
}
