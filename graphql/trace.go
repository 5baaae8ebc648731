package graphql

import "context"

// SubscriptionTrace holds hooks called while a subscription runs on the
// goroutine calling Subscriber.Subscribe.
type SubscriptionTrace struct {
	// Acknowledged is called once the server acknowledged the connection,
	// before the subscribe message is sent.
	Acknowledged func(id string)
}

type traceKey struct{}

// WithSubscriptionTrace returns a copy of ctx carrying trace.
func WithSubscriptionTrace(ctx context.Context, trace *SubscriptionTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

// ContextSubscriptionTrace returns the trace carried by ctx, or nil.
func ContextSubscriptionTrace(ctx context.Context) *SubscriptionTrace {
	trace, _ := ctx.Value(traceKey{}).(*SubscriptionTrace)
	return trace
}
