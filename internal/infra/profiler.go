package infra

import (
	"fmt"
	"log/slog"

	"github.com/grafana/pyroscope-go"
)

// StartProfiler starts continuous profiling when a server address is configured.
// The returned stop function is always safe to call.
func StartProfiler(cfg *Config) (func(), error) {
	if cfg.Profiling.ServerAddress == "" {
		return func() {}, nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.App.Name,
		ServerAddress:   cfg.Profiling.ServerAddress,
		Tags: map[string]string{
			"symbol":  cfg.Trading.Symbol,
			"version": cfg.App.Version,
		},
		Logger: slogProfilerLogger{log: slog.Default().With("module", "profiler")},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
	if err != nil {
		return func() {}, fmt.Errorf("pyroscope start: %w", err)
	}

	return func() { _ = profiler.Stop() }, nil
}

// slogProfilerLogger routes pyroscope's printf-style logs into slog.
type slogProfilerLogger struct {
	log *slog.Logger
}

func (l slogProfilerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l slogProfilerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l slogProfilerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}
