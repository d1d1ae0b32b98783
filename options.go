package offsetalloc

import (
	"github.com/getsentry/sentry-go"
	"golang.org/x/exp/slog"
)

const defaultMaxAllocs = 131072

// Option configures an Allocator at construction time.
type Option func(*config)

type config struct {
	maxAllocs uint32
	logger    *slog.Logger
	hub       *sentry.Hub
}

func defaultConfig() config {
	return config{
		maxAllocs: defaultMaxAllocs,
	}
}

// WithMaxAllocs overrides the default node-pool capacity of 131072. This is
// the upper bound on simultaneously live allocations plus free regions.
func WithMaxAllocs(maxAllocs uint32) Option {
	return func(c *config) {
		c.maxAllocs = maxAllocs
	}
}

// WithLogger attaches a structured logger. Allocate and Free emit Debug
// records through it; if unset, logging is skipped entirely rather than
// routed to a discard logger, so the hot path never pays for formatting
// log attributes nobody reads.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithSentryHub attaches a Sentry hub that construction failures are
// reported through before the panic that raised them propagates.
func WithSentryHub(hub *sentry.Hub) Option {
	return func(c *config) {
		c.hub = hub
	}
}
