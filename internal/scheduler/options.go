package scheduler

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

type options struct {
	Logger   *slog.Logger
	Limit    int
	Recorder Recorder
	Tracer   Tracer
	Location *time.Location
	RunID    func() string
	Cron     *cron.Cron
}

// Option applies configuration to the scheduler service.
type Option func(*options)

func defaultOptions() options {
	return options{
		Logger:   slog.Default(),
		Location: time.UTC,
		RunID:    uuid.NewString,
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithBatchLimit caps the entries synced per credential pair and run
func WithBatchLimit(limit int) Option {
	return func(o *options) {
		o.Limit = limit
	}
}

// WithRecorder records run metrics
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.Recorder = r
	}
}

// WithTracer wraps every run in a span
func WithTracer(t Tracer) Option {
	return func(o *options) {
		o.Tracer = t
	}
}

// WithLocation sets the timezone cron expressions are evaluated in
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.Location = loc
	}
}

// WithRunID replaces the run id generator.
func WithRunID(fn func() string) Option {
	return func(o *options) {
		o.RunID = fn
	}
}

// WithCron supplies a preconfigured cron scheduler instance.
func WithCron(c *cron.Cron) Option {
	return func(o *options) {
		o.Cron = c
	}
}
