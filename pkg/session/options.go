package session

import (
	"time"

	"github.com/randchat/matchclient/pkg/logger"
	"github.com/randchat/matchclient/pkg/monitoring"
	"github.com/randchat/matchclient/pkg/webrtc"
)

type Options struct {
	SkipDelay     time.Duration
	LossDelay     time.Duration
	SearchTimeout time.Duration

	Renderer Renderer
	Preview  Preview
	Sink     webrtc.RemoteSink
	Metrics  *monitoring.Metrics
	Logger   *logger.Logger
}

type Option func(*Options)

func WithRenderer(r Renderer) Option           { return func(opts *Options) { opts.Renderer = r } }
func WithPreview(p Preview) Option             { return func(opts *Options) { opts.Preview = p } }
func WithSink(s webrtc.RemoteSink) Option      { return func(opts *Options) { opts.Sink = s } }
func WithMetrics(m *monitoring.Metrics) Option { return func(opts *Options) { opts.Metrics = m } }
func WithLogger(log *logger.Logger) Option     { return func(opts *Options) { opts.Logger = log } }
func WithSearchTimeout(d time.Duration) Option { return func(opts *Options) { opts.SearchTimeout = d } }

// WithDelays sets the pauses before the automatic searches.
func WithDelays(skip, loss time.Duration) Option {
	return func(opts *Options) { opts.SkipDelay, opts.LossDelay = skip, loss }
}
