package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes stay low-cardinality: operation, protocol, action and
// status only. File names and URLs belong in logs, never in attributes.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with component and outcome.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentTransportOperation instruments a transfer or probe against a remote source.
func (t *Telemetry) InstrumentTransportOperation(ctx context.Context, protocol, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	err := t.InstrumentOperation(ctx, "transport_"+operation, "transport", func(ctx context.Context) error {
		ctx, span := t.Tracer().Start(ctx, protocol+"_"+operation)
		defer span.End()

		span.SetAttributes(
			attribute.String("transport.protocol", protocol),
			attribute.String("transport.operation", operation),
		)

		return fn(ctx)
	})

	t.RecordTransportOperation(protocol, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentFetch instruments one cache fetch. fn reports the action it took, which is
// only known once the local copy has been inspected.
func (t *Telemetry) InstrumentFetch(ctx context.Context, fn func(ctx context.Context) (string, error)) error {
	if t == nil {
		_, err := fn(ctx)

		return err
	}

	start := time.Now()

	if t.fetchesActive != nil {
		t.fetchesActive.Add(ctx, 1)
		defer t.fetchesActive.Add(ctx, -1)
	}

	action := "unknown"

	err := t.InstrumentOperation(ctx, "fetch", "cache", func(ctx context.Context) error {
		var err error

		action, err = fn(ctx)

		return err
	})

	if action == "" {
		action = "unknown"
	}

	t.RecordFetch(action, statusOf(err), time.Since(start))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
