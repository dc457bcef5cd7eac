package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/carlot/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the process logger, installs it as the zap global and flushes
// it when the fx app stops. lc may be nil.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	zc, err := zapConfig(cfg)
	if err != nil {
		return nil, err
	}
	log, err := zc.Build(buildOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "carlot"
	}
	ctxlogger.SetServiceName(service)
	log = log.With(
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.StopHook(func() { _ = log.Sync() }))
	}
	return log, nil
}

// NewCLI builds a logger for one-shot commands. The returned func flushes it.
func NewCLI(cfg Config) (*zap.Logger, func(), error) {
	log, err := New(nil, cfg)
	if err != nil {
		return nil, func() {}, err
	}
	return log, func() { _ = log.Sync() }, nil
}

// zapConfig writes to stderr so command reports on stdout stay clean.
func zapConfig(cfg Config) (zap.Config, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.Sampling = nil

	level := strings.TrimSpace(cfg.Level)
	switch {
	case cfg.Debug:
		level = "debug"
	case level == "":
		level = "info"
	}
	if err := zc.Level.UnmarshalText([]byte(level)); err != nil {
		return zap.Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zc, nil
}

func buildOptions(cfg Config) []zap.Option {
	var opts []zap.Option
	if cfg.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if cfg.Debug {
		return opts
	}
	window, first, thereafter := cfg.SamplingWindow, cfg.SamplingInitial, cfg.SamplingThereafter
	if window <= 0 {
		window = time.Second
	}
	if first <= 0 {
		first = 100
	}
	if thereafter <= 0 {
		thereafter = 100
	}
	return append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, window, first, thereafter)
	}))
}

// FromContext returns the global logger with the correlation, run and
// trace fields of ctx.
func FromContext(ctx context.Context) *zap.Logger {
	return ctxlogger.FromContext(ctx)
}

// WithContext adds the correlation, run and trace fields of ctx to base.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	return ctxlogger.WithContext(ctx, base)
}
