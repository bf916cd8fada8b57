// Package observability configures process-wide logging and trace propagation.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Log formats accepted by Instrument.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatOTel = "otel"
)

// OTLP protocols accepted by Instrument. Empty keeps OpenTelemetry records on stderr.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

const instrumentationName = "github.com/florianilch/authkeeper"

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Instrument installs the default slog logger and the W3C trace context propagator.
// OTLP exporters read their endpoint from the standard OTEL_EXPORTER_OTLP_* variables.
func Instrument(ctx context.Context, level slog.Level, format, otlpProtocol string) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	handler, shutdown, err := newHandler(ctx, os.Stderr, level, format, otlpProtocol)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(handler))
	return shutdown, nil
}

func newHandler(ctx context.Context, w io.Writer, level slog.Level, format, otlpProtocol string) (slog.Handler, ShutdownFunc, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", FormatText:
		return slog.NewTextHandler(w, opts), noopShutdown, nil
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), noopShutdown, nil
	case FormatOTel:
		exporter, err := newExporter(ctx, w, otlpProtocol)
		if err != nil {
			return nil, nil, err
		}

		var processor sdklog.Processor
		if otlpProtocol == "" {
			processor = sdklog.NewSimpleProcessor(exporter)
		} else {
			processor = sdklog.NewBatchProcessor(exporter)
		}

		provider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
		)
		return otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider)), provider.Shutdown, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newExporter(ctx context.Context, w io.Writer, otlpProtocol string) (sdklog.Exporter, error) {
	var (
		exporter sdklog.Exporter
		err      error
	)
	switch otlpProtocol {
	case "":
		exporter, err = stdoutlog.New(stdoutlog.WithWriter(w))
	case ProtocolGRPC:
		exporter, err = otlploggrpc.New(ctx)
	case ProtocolHTTP:
		exporter, err = otlploghttp.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", otlpProtocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s log exporter: %w", otlpProtocolName(otlpProtocol), err)
	}
	return exporter, nil
}

func otlpProtocolName(p string) string {
	if p == "" {
		return "stdout"
	}
	return "otlp/" + p
}

// severity maps a slog level onto the minimum OpenTelemetry severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
