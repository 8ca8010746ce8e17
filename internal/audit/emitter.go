package audit

import (
	"context"
	"log"
	"time"
)

// emitTimeout bounds a single async emit so shutdown can drain in-flight
// goroutines. DrainDuration must stay >= emitTimeout.
const emitTimeout = 5 * time.Second

// DrainDuration is how long callers should wait after stopping the HTTP
// server before closing the emitter, so in-flight async emits can finish.
const DrainDuration = emitTimeout

// Emitter sends audit events somewhere durable. Implementations may block
// briefly; callers treat errors as log-and-continue.
type Emitter interface {
	Emit(ctx context.Context, e *Event) error
	Close() error
}

// EmitAsync runs Emit in a goroutine with a short timeout so request handlers
// are never blocked on the audit trail. emitter and event may be nil.
//
// The goroutine uses context.Background() so request cancellation does not
// abort an emit that already started.
func EmitAsync(emitter Emitter, e *Event) {
	if emitter == nil || e == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, e); err != nil {
			log.Printf("audit: async emit failed: %v", err)
		}
	}()
}
