package internal

import (
	"context"
	"sync"
)

// TelemetryEmitter receives named measurements. The default emitter drops
// them; the server registers one that logs through zap.
type TelemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

const (
	MetricStoreLatency   = "modepress_store_latency_ms"
	MetricCascadeActions = "modepress_cascade_actions"
	MetricBreakerOpen    = "modepress_breaker_rejections"
)

var (
	teleMu   sync.Mutex
	teleImpl TelemetryEmitter = func(context.Context, string, map[string]string, any) {}
)

// RegisterTelemetryEmitter installs fn. A nil fn restores the no-op emitter.
func RegisterTelemetryEmitter(fn TelemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(context.Context, string, map[string]string, any) {}
		return
	}
	teleImpl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitStoreLatency records the duration of one store call in milliseconds.
func EmitStoreLatency(ctx context.Context, collection, op string, ms int64) {
	emit(ctx, MetricStoreLatency, map[string]string{"collection": collection, "op": op}, ms)
}

// EmitCascade records how many dependents one cascade action touched.
// action is "remove", "nullify", "pull" or "failure".
func EmitCascade(ctx context.Context, collection, action string, n int64) {
	if n == 0 {
		return
	}
	emit(ctx, MetricCascadeActions, map[string]string{"collection": collection, "action": action}, n)
}

// EmitBreakerRejection records a call refused by an open circuit breaker.
func EmitBreakerRejection(ctx context.Context, collection, op string) {
	emit(ctx, MetricBreakerOpen, map[string]string{"collection": collection, "op": op}, int64(1))
}
