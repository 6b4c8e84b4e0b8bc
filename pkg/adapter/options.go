package adapter

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	logger          *zap.Logger
	responseTimeout time.Duration
	initTimeout     time.Duration
}

// Option configures Initialize.
type Option func(*options)

// WithLogger sets the logger used by the adapter and its ingress.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithResponseTimeout bounds how long a command waits for its reply. Zero,
// the default, waits forever.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) { o.responseTimeout = d }
}

// WithInitTimeout bounds each wait of the initialization handshake. Zero,
// the default, waits forever.
func WithInitTimeout(d time.Duration) Option {
	return func(o *options) { o.initTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
