package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler is the terminal function that submits the invocation.
type Handler func(ctx context.Context) error

// Middleware wraps invocation scheduling with cross-cutting logic.
// Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, inv *Invocation, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}

// Wrap returns a Runner whose Invoke passes through the middleware chain.
func Wrap(r Runner, mws ...Middleware) Runner {
	chain := Chain(mws...)
	return RunnerFunc(func(ctx context.Context, inv *Invocation) error {
		return chain(ctx, inv, func(ctx context.Context) error {
			return r.Invoke(ctx, inv)
		})
	})
}

// Recover returns middleware that recovers from panics in the runner.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("agent runner panicked",
					slog.String("role", inv.Role),
					slog.String("invocation_id", inv.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic invoking %s agent: %v", inv.Role, r)
			}
		}()
		return next(ctx)
	}
}

// Logging returns middleware that logs invocation scheduling.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		start := time.Now()
		err := next(ctx)
		if err != nil {
			logger.Error("agent invocation rejected",
				slog.String("role", inv.Role),
				slog.String("work_unit", inv.WorkUnitID),
				slog.String("invocation_id", inv.ID.String()),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("agent invocation scheduled",
				slog.String("role", inv.Role),
				slog.String("work_unit", inv.WorkUnitID),
				slog.String("invocation_id", inv.ID.String()),
			)
		}
		return err
	}
}

// Timeout returns middleware that bounds how long invocation submission
// may take. This bounds the scheduling call only — the agent itself runs
// out of process and is never awaited synchronously.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}

// tracerName is the instrumentation scope name for foreman tracing.
const tracerName = "github.com/xraph/foreman"

// Tracing returns middleware that wraps invocation scheduling in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this becomes a pass-through.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided
// tracer, for injecting a specific TracerProvider in tests.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		ctx, span := tracer.Start(ctx, "foreman.agent.invoke",
			trace.WithAttributes(
				attribute.String("foreman.invocation.id", inv.ID.String()),
				attribute.String("foreman.instance.id", inv.InstanceID.String()),
				attribute.String("foreman.work_unit", inv.WorkUnitID),
				attribute.String("foreman.role", inv.Role),
				attribute.String("foreman.stage", inv.Stage),
			),
			trace.WithSpanKind(trace.SpanKindProducer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
