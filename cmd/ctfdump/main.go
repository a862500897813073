// Command ctfdump prints the events of a trace directory in timestamp order.
//
//	ctfdump [--live] [--seek TS | --last] [--limit N] TRACE_DIR
//
// With --live the command keeps polling the trace for new packets and files until
// interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arloliu/ctftrace"
	"github.com/arloliu/ctftrace/metrics"
	"github.com/arloliu/ctftrace/trace"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type options struct {
	Live         bool          `long:"live" description:"Keep reading while the trace is being written"`
	PollInterval time.Duration `long:"poll-interval" default:"500ms" description:"Delay between polls of a live trace"`
	Seek         int64         `long:"seek" default:"-1" description:"Start at the first event at or after this timestamp (clock cycles)"`
	Last         bool          `long:"last" description:"Print only the last event of the trace"`
	Limit        int           `long:"limit" description:"Stop after this many events (0 for no limit)"`
	Nanos        bool          `long:"ns" description:"Print timestamps in nanoseconds of the trace clock"`
	KeepGoing    bool          `long:"keep-going" description:"Log corrupt stream files and continue with the others"`
	HeaderWindow int64         `long:"header-window" default:"4096" description:"Initial bytes mapped to decode a packet header"`
	MetricsAddr  string        `long:"metrics-addr" description:"Serve Prometheus metrics on this address"`
	LogLevel     string        `long:"log-level" default:"warning" choice:"debug" choice:"info" choice:"warning" choice:"error" description:"Log level"`

	Args struct {
		Dir string `positional-arg-name:"TRACE_DIR" required:"yes"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(opts.LogLevel)
	if err != nil {
		logger.WithError(err).Error("invalid log level")
		os.Exit(1)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, &opts, os.Stdout, logger)
	stop()
	if err != nil {
		logger.WithError(err).Error("ctfdump failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, out io.Writer, logger logrus.FieldLogger) error {
	var collector *metrics.Collector
	if opts.MetricsAddr != "" {
		collector = metrics.NewCollector("ctfdump")
		srv, err := serveMetrics(opts.MetricsAddr, collector, logger)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	r, err := ctftrace.Open(opts.Args.Dir,
		trace.WithLive(opts.Live),
		trace.WithHeaderWindow(opts.HeaderWindow),
		trace.WithLogger(logger),
		trace.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	switch {
	case opts.Last:
		if err := r.GoToLastEvent(); err != nil {
			return err
		}
	case opts.Seek >= 0:
		skipped, err := r.Seek(opts.Seek)
		if err != nil {
			return err
		}
		logger.WithField("skipped", skipped).Debug("seek done")
	}

	printed := 0
	for {
		for ev, err := range r.Events() {
			if err != nil {
				if !opts.KeepGoing {
					return err
				}
				logger.WithError(err).Error("stream file dropped")

				continue
			}

			line := *ev
			if opts.Nanos {
				line.Timestamp = ctftrace.Nanos(r.Trace(), ev.Timestamp)
			}
			if _, err := fmt.Fprintln(out, line.String()); err != nil {
				return err
			}

			printed++
			if (opts.Limit > 0 && printed >= opts.Limit) || opts.Last {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
		}

		if !opts.Live {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.PollInterval):
		}
		if _, err := r.Update(); err != nil {
			return err
		}
	}

	logger.WithField("events", printed).Info("trace done")

	return nil
}

func serveMetrics(addr string, collector *metrics.Collector, logger logrus.FieldLogger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return srv, nil
}
