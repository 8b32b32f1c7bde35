package bus

import (
	"context"
	"sync/atomic"

	"github.com/drblury/phaseflow/message"
)

// KeyBus is the exchange property holding the bus an exchange runs on.
const KeyBus = "phaseflow.bus"

var defaultBus atomic.Pointer[Bus]

// SetDefault makes b the process default bus and returns the previous one.
// The default is only a fallback for code that holds neither a context nor an
// exchange; dispatch never changes it. A nil b clears it.
func SetDefault(b *Bus) (prev *Bus) {
	return defaultBus.Swap(b)
}

// Default returns the process default bus, or nil.
func Default() *Bus {
	return defaultBus.Load()
}

type ctxKey struct{}

// WithContext returns a context carrying b. Dispatch scopes the bus to one
// message this way, so concurrent dispatches on different buses never see
// each other's bus.
func WithContext(ctx context.Context, b *Bus) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext returns the bus carried by ctx, falling back to Default.
func FromContext(ctx context.Context) *Bus {
	if ctx != nil {
		if b, ok := ctx.Value(ctxKey{}).(*Bus); ok && b != nil {
			return b
		}
	}
	return Default()
}

// Set records b on ex and makes its properties the exchange's fallback
// property source.
func Set(ex *message.Exchange, b *Bus) {
	if ex == nil {
		return
	}
	ex.Put(KeyBus, b)
	if b != nil {
		ex.SetFallback(b)
	}
}

// Of returns the bus recorded on ex, or nil.
func Of(ex *message.Exchange) *Bus {
	if ex == nil {
		return nil
	}
	v, _ := ex.Get(KeyBus)
	b, _ := v.(*Bus)
	return b
}
