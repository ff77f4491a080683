package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logKey is a context key whose value is copied onto log lines under the same name.
type logKey string

const (
	correlationIDKey logKey = "correlationId"
	mandateIDKey     logKey = "mandateId"
)

// contextFields lists the keys WithContextLogger looks for, in field order.
var contextFields = []logKey{correlationIDKey, mandateIDKey}

// NewLogger builds the JSON production logger. An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "timestamp"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		Encoding:          "json",
		EncoderConfig:     encoder,
		Sampling:          &zap.SamplingConfig{Initial: 100, Thereafter: 100},
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
		InitialFields:     map[string]any{"service": "mandate-engine"},
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "" {
		return zapcore.InfoLevel, nil
	}

	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

func withValue(ctx context.Context, key logKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func valueFrom(ctx context.Context, key logKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withValue(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return valueFrom(ctx, correlationIDKey)
}

// WithMandateID tags ctx with the mandate being resolved.
func WithMandateID(ctx context.Context, mandateID string) context.Context {
	return withValue(ctx, mandateIDKey, mandateID)
}

func MandateIDFromContext(ctx context.Context) (string, bool) {
	return valueFrom(ctx, mandateIDKey)
}

// WithContextLogger returns logger with a field for every tagged value ctx carries.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	var fields []zap.Field
	for _, key := range contextFields {
		if v, ok := valueFrom(ctx, key); ok {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
