package stream

import (
	"fmt"
	"io"

	"github.com/arloliu/ctftrace/internal/options"
	"github.com/arloliu/ctftrace/metrics"
	"github.com/arloliu/ctftrace/packet"
	"github.com/sirupsen/logrus"
)

// ReaderConfig holds the settings shared by an Input and its Reader.
type ReaderConfig struct {
	live         bool
	headerWindow int64
	logger       logrus.FieldLogger
	metrics      *metrics.Collector
}

// NewReaderConfig returns the defaults: not live, DefaultHeaderWindow and a
// logger that discards everything.
func NewReaderConfig() *ReaderConfig {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &ReaderConfig{
		headerWindow: packet.DefaultHeaderWindow,
		logger:       logger,
	}
}

// ReaderOption configures a ReaderConfig.
type ReaderOption = options.Option[*ReaderConfig]

// WithLive marks the file as still being written. A live reader reports
// StatusWait instead of StatusFinish at the end of the file, and a packet that is
// only partially written is retried later instead of failing.
func WithLive(live bool) ReaderOption {
	return options.NoError(func(c *ReaderConfig) {
		c.live = live
	})
}

// WithHeaderWindow sets the initial number of bytes mapped to decode a packet
// header and context.
func WithHeaderWindow(n int64) ReaderOption {
	return options.New(func(c *ReaderConfig) error {
		if n <= 0 {
			return fmt.Errorf("header window must be positive, got %d", n)
		}
		c.headerWindow = n

		return nil
	})
}

// WithLogger sets the logger. Nil keeps the current one.
func WithLogger(logger logrus.FieldLogger) ReaderOption {
	return options.NoError(func(c *ReaderConfig) {
		if logger != nil {
			c.logger = logger
		}
	})
}

// WithMetrics reports indexed packets and lost events to c.
func WithMetrics(c *metrics.Collector) ReaderOption {
	return options.NoError(func(cfg *ReaderConfig) {
		cfg.metrics = c
	})
}
