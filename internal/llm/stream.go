package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
)

// StreamHandle controls an in-flight StreamChat call.
type StreamHandle struct {
	cancel  context.CancelFunc
	once    sync.Once
	aborted atomic.Bool
	done    chan struct{}
}

// Abort stops the underlying provider call. Only the first call has an
// effect. After Abort returns no further OnText or OnEnd is delivered.
func (h *StreamHandle) Abort() {
	h.once.Do(func() {
		h.aborted.Store(true)
		h.cancel()
	})
}

// Aborted reports whether Abort has been called.
func (h *StreamHandle) Aborted() bool {
	return h.aborted.Load()
}

// Done is closed once the provider goroutine has returned.
func (h *StreamHandle) Done() <-chan struct{} {
	return h.done
}

// StartStream runs fn in its own goroutine and turns its emitted deltas and
// final error into callbacks. A panic inside fn (or inside OnText, which runs
// on the same goroutine) is reported through OnError.
func StartStream(ctx context.Context, cb Callbacks, fn func(ctx context.Context, emit func(delta string)) error) *StreamHandle {
	streamCtx, cancel := context.WithCancel(ctx)
	h := &StreamHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()

		var buf strings.Builder
		emit := func(delta string) {
			if delta == "" || h.Aborted() {
				return
			}
			buf.WriteString(delta)
			if cb.OnText != nil {
				cb.OnText(delta)
			}
		}

		err := runRecovered(streamCtx, fn, emit)
		if h.Aborted() {
			return
		}
		if err != nil {
			if cb.OnError != nil {
				cb.OnError(err)
			}
			return
		}
		if cb.OnEnd != nil {
			cb.OnEnd(buf.String())
		}
	}()

	return h
}

func runRecovered(ctx context.Context, fn func(context.Context, func(string)) error, emit func(string)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[llm] recovered panic in stream: %v", r)
			err = fmt.Errorf("stream panic: %v", r)
		}
	}()
	return fn(ctx, emit)
}
