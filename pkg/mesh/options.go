package mesh

import (
	"log/slog"

	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/log"
	"github.com/mesh-runtime/mesh-go/pkg/metrics"
)

// Option configures a mesh at Create. Submeshes inherit the options of
// their parent.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	capture log.Logger
	metrics *metrics.Metrics
	policy  *device.Policy
	factory command.Factory
}

// WithLogger sets the operational logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCaptureLogger sets the capture log that receives mesh, trace and
// replay events.
func WithCaptureLogger(logger log.Logger) Option {
	return func(o *options) {
		o.capture = logger
	}
}

// WithMetrics records mesh activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithPolicy overrides the placement policy of the configuration.
func WithPolicy(p device.Policy) Option {
	return func(o *options) {
		o.policy = &p
	}
}

// WithCommandFactory sets the command builder used for trace footers and
// replay sequences. Its alignment must match the configured host alignment.
func WithCommandFactory(f command.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}
