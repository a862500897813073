package trace

import (
	"fmt"
	"io"

	"github.com/arloliu/ctftrace/internal/options"
	"github.com/arloliu/ctftrace/metrics"
	"github.com/arloliu/ctftrace/packet"
	"github.com/arloliu/ctftrace/stream"
	"github.com/sirupsen/logrus"
)

// Config holds the Reader settings.
type Config struct {
	live         bool
	headerWindow int64
	logger       logrus.FieldLogger
	metrics      *metrics.Collector
}

// NewConfig returns the default configuration: not live, silent logger, no metrics.
func NewConfig() *Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &Config{
		headerWindow: packet.DefaultHeaderWindow,
		logger:       logger,
	}
}

// Option configures a Reader.
type Option = options.Option[*Config]

// WithLive reads the trace while it is still being written.
func WithLive(live bool) Option {
	return options.NoError(func(c *Config) {
		c.live = live
	})
}

// WithHeaderWindow sets the initial number of bytes mapped to decode a packet
// header and context.
func WithHeaderWindow(n int64) Option {
	return options.New(func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("header window must be positive, got %d", n)
		}
		c.headerWindow = n

		return nil
	})
}

// WithLogger sets the logger used by the reader and its stream readers.
func WithLogger(logger logrus.FieldLogger) Option {
	return options.NoError(func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	})
}

// WithMetrics mirrors event, packet and lost-event counters into c.
func WithMetrics(c *metrics.Collector) Option {
	return options.NoError(func(cfg *Config) {
		cfg.metrics = c
	})
}

func (c *Config) streamOptions() []stream.ReaderOption {
	return []stream.ReaderOption{
		stream.WithLive(c.live),
		stream.WithHeaderWindow(c.headerWindow),
		stream.WithLogger(c.logger),
		stream.WithMetrics(c.metrics),
	}
}
