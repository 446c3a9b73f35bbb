package mcpservice

import "context"

// ProgressReporter forwards progress updates of a long-running operation to
// the client. Transports inject an implementation into the request context;
// tool code retrieves it and calls Report.
type ProgressReporter interface {
	// Report emits one progress update. total may be zero when unknown.
	Report(ctx context.Context, progress, total float64) error
}

type progressKey struct{}

// WithProgressReporter returns a context carrying the reporter.
func WithProgressReporter(ctx context.Context, pr ProgressReporter) context.Context {
	if pr == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, pr)
}

// ProgressFrom retrieves the ProgressReporter from ctx if one was injected.
func ProgressFrom(ctx context.Context) (ProgressReporter, bool) {
	if pr, ok := ctx.Value(progressKey{}).(ProgressReporter); ok && pr != nil {
		return pr, true
	}
	return nil, false
}
