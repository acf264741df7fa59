package embeddings

import (
	"context"

	"coursecast/internal/services/cost_tracker"
)

type callKey struct{}

// WithCall attaches the caller identity used to attribute embedding cost
func WithCall(ctx context.Context, call cost_tracker.Call) context.Context {
	return context.WithValue(ctx, callKey{}, call)
}

// CallFromContext returns the caller attached by WithCall, or a zero Call
func CallFromContext(ctx context.Context) cost_tracker.Call {
	call, _ := ctx.Value(callKey{}).(cost_tracker.Call)
	return call
}
