// Package logging builds the process logger: a text handler on stderr,
// optionally fanned out to an OTLP collector.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

const serviceName = "cwg"

// Config never names a file: cwg runs with capabilities on behalf of an
// unprivileged caller and writes nothing to disk.
type Config struct {
	Level string
	// OTLPEndpoint is a host:port accepting OTLP over HTTP.
	OTLPEndpoint string
	Stderr       io.Writer
}

// ParseLevel maps error, warn, info and debug to a level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return slog.LevelError, nil
	case "warn":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level: %q (want error, warn, info or debug)", s)
	}
}

// Setup returns the logger and a shutdown function that flushes exported
// records.
func Setup(ctx context.Context, config Config) (*slog.Logger, func(context.Context) error, error) {
	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, nil, err
	}

	stderr := config.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	handlers := fanoutHandler{slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})}
	shutdown := func(context.Context) error { return nil }

	if config.OTLPEndpoint != "" {
		exporter, err := otlploghttp.New(ctx,
			otlploghttp.WithEndpoint(config.OTLPEndpoint),
			otlploghttp.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("could not create OTLP log exporter: %w", err)
		}
		provider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
			sdklog.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
		)
		handlers = append(handlers, newExportHandler(provider, level))
		shutdown = func(ctx context.Context) error {
			if err := provider.Shutdown(ctx); err != nil {
				return fmt.Errorf("could not flush OTLP logs: %w", err)
			}
			return nil
		}
	}

	return slog.New(handlers), shutdown, nil
}

// newExportHandler bridges records at or above level into provider.
func newExportHandler(provider *sdklog.LoggerProvider, level slog.Leveler) slog.Handler {
	return leveledHandler{
		Handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
		level:   level,
	}
}
