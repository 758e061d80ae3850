package batching

import (
	"context"
	"sync/atomic"

	"github.com/jizhuozhi/go-future"
)

// Op is one queued value and its completion handle. It is resolved exactly once, either by the
// queue owner or by the caller through Cancel.
type Op[V, F any] struct {
	value    V
	promise  *future.Promise[F]
	fut      *future.Future[F]
	done     chan struct{}
	resolved atomic.Bool
	result   F
	err      error
}

func newOp[V, F any](value V) *Op[V, F] {
	p := future.NewPromise[F]()
	return &Op[V, F]{
		value:   value,
		promise: p,
		fut:     p.Future(),
		done:    make(chan struct{}),
	}
}

// Failed returns an op that is already completed with err. Used for values rejected before they
// reach a queue, e.g. serialization failures.
func Failed[V, F any](value V, err error) *Op[V, F] {
	op := newOp[V, F](value)
	var zero F
	op.resolve(zero, err)
	return op
}

// resolve completes the op; later calls are ignored and report false.
func (o *Op[V, F]) resolve(result F, err error) bool {
	if !o.resolved.CompareAndSwap(false, true) {
		return false
	}
	o.result = result
	o.err = err
	o.promise.Set(result, err)
	close(o.done)
	return true
}

// Value returns the queued value
func (o *Op[V, F]) Value() V {
	return o.value
}

// Done is closed once the op is resolved
func (o *Op[V, F]) Done() <-chan struct{} {
	return o.done
}

// IsDone reports whether the op has been resolved or claimed for resolution
func (o *Op[V, F]) IsDone() bool {
	return o.resolved.Load()
}

// Get blocks until the op is resolved
func (o *Op[V, F]) Get() (F, error) {
	return o.fut.Get()
}

// Wait blocks until the op is resolved or ctx is done
func (o *Op[V, F]) Wait(ctx context.Context) (F, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		var zero F
		return zero, ctx.Err()
	}
}

// Cancel resolves the op with ErrCancelled. It has no effect once the value was resolved, and it
// does not recall a value already handed to a remote append.
func (o *Op[V, F]) Cancel() bool {
	var zero F
	return o.resolve(zero, ErrCancelled)
}

// Future exposes the underlying future
func (o *Op[V, F]) Future() *future.Future[F] {
	return o.fut
}
