package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/nearby/internal/tracing"
)

// Fetch outcomes recorded on metrics and in response metadata.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
)

// Result is the outcome of fetching one source: either a list of values or
// the error that prevented it.
type Result[T any] struct {
	Source  string
	Values  []T
	Err     error
	Skipped bool
	Elapsed time.Duration
}

// Outcome classifies the result for metrics.
func (r Result[T]) Outcome() string {
	switch {
	case r.Skipped:
		return OutcomeSkipped
	case r.Err == nil:
		return OutcomeOK
	case errors.Is(r.Err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

// OrEmpty is the single place a failed source becomes an empty stream.
// The failure is logged and counted; callers only ever see values.
func (r Result[T]) OrEmpty(ctx context.Context, logger *slog.Logger, metrics *Metrics, endpoint string) []T {
	if metrics != nil {
		metrics.ObserveSourceFetch(endpoint, r.Source, r.Outcome(), r.Elapsed.Seconds())
	}
	if r.Err == nil {
		return r.Values
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.WarnContext(ctx, "source fetch failed, continuing without it",
		"endpoint", endpoint,
		"source", r.Source,
		"outcome", r.Outcome(),
		"error", r.Err)
	return []T{}
}

// Skip returns a Result for a source that was not queried for this request.
func Skip[T any](source string) Result[T] {
	return Result[T]{Source: source, Values: []T{}, Skipped: true}
}

// Fetch runs fn under its own timeout and wraps any failure in a
// SourceFetchError. It never returns an error itself and never panics.
func Fetch[T any](ctx context.Context, source string, timeout time.Duration, fn func(context.Context) ([]T, error)) (res Result[T]) {
	res.Source = source
	start := time.Now()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ctx, endSpan := tracing.StartSourceSpan(ctx, source)

	defer func() {
		if p := recover(); p != nil {
			tracing.AddEvent(ctx, "panic recovered", attribute.String("panic", fmt.Sprint(p)))
			res.Values = nil
			res.Err = &SourceFetchError{Source: source, Err: panicError{p}}
		}
		res.Elapsed = time.Since(start)
		endSpan(len(res.Values), res.Err)
	}()

	values, err := fn(ctx)
	if err == nil {
		// A source that finished after the deadline still counts as timed out.
		err = ctx.Err()
	}
	if err != nil {
		res.Err = &SourceFetchError{Source: source, Err: err}
		return res
	}
	if values == nil {
		values = []T{}
	}
	res.Values = values
	return res
}

type panicError struct{ value any }

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
