package obs

import (
	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
)

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enabled         bool              `json:"enabled" yaml:"enabled"`
	ApplicationName string            `json:"applicationName" yaml:"application_name"`
	ServerAddress   string            `json:"serverAddress" yaml:"server_address" validate:"required_if=Enabled true"`
	Tags            map[string]string `json:"tags" yaml:"tags"`
}

// StartProfiler starts pyroscope when enabled. The returned stop function
// is never nil.
func StartProfiler(cfg ProfilingConfig) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}
	name := cfg.ApplicationName
	if name == "" {
		name = "tradecore"
	}
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: name,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		Logger:          emptyLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return func() {}, errors.Wrap(err, "start pyroscope")
	}
	return func() {
		_ = profiler.Stop()
	}, nil
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
