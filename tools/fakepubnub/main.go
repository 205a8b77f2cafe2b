// Command fakepubnub serves the fake PubNub HTTP surface for local testing
// of the client and the pubnub CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pkt.systems/pslog"

	"github.com/Thejuampi/pubnub-client-go/internal/fakeserver"
)

type config struct {
	addr        string
	pollTimeout time.Duration
	journalMax  int
	latency     time.Duration
	failEvery   int
	authKeys    string
	logLevel    string
}

func parseFlags(flagSet *flag.FlagSet, args []string) (config, error) {
	var cfg config
	flagSet.StringVar(&cfg.addr, "addr", "127.0.0.1:18090", "listen address")
	flagSet.DurationVar(&cfg.pollTimeout, "poll-timeout", 20*time.Second, "maximum long-poll wait before an empty response")
	flagSet.IntVar(&cfg.journalMax, "journal-max", 100_000, "maximum retained events before eviction")
	flagSet.DurationVar(&cfg.latency, "latency", 0, "artificial per-request latency")
	flagSet.IntVar(&cfg.failEvery, "fail-every", 0, "answer every n-th subscribe with HTTP 503 (0 disables)")
	flagSet.StringVar(&cfg.authKeys, "auth", "", "comma-separated accepted auth keys (empty accepts all)")
	flagSet.StringVar(&cfg.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error, none)")
	if err := flagSet.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.failEvery < 0 || cfg.journalMax < 0 {
		return cfg, fmt.Errorf("fail-every and journal-max must not be negative")
	}
	return cfg, nil
}

func newLogger(level string) (pslog.Logger, error) {
	level = strings.TrimSpace(level)
	if level == "" || strings.EqualFold(level, "none") {
		return pslog.NoopLogger(), nil
	}
	parsed, ok := pslog.ParseLevel(level)
	if !ok {
		return nil, fmt.Errorf("log-level: invalid value %q", level)
	}
	if parsed == pslog.Disabled || parsed == pslog.NoLevel {
		return pslog.NoopLogger(), nil
	}
	return pslog.NewWithOptions(context.Background(), os.Stderr, pslog.Options{
		Mode:       pslog.ModeConsole,
		TimeFormat: time.RFC3339,
		MinLevel:   parsed,
	}).With("app", "fakepubnub"), nil
}

func splitKeys(raw string) []string {
	var keys []string
	for _, key := range strings.Split(raw, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func run(ctx context.Context, cfg config, logger pslog.Logger, ready chan<- string) error {
	fake := fakeserver.New(fakeserver.Options{
		PollTimeout: cfg.pollTimeout,
		JournalMax:  cfg.journalMax,
		Latency:     cfg.latency,
		FailEvery:   cfg.failEvery,
		AuthKeys:    splitKeys(cfg.authKeys),
		Logger:      logger,
	})
	listener, err := net.Listen("tcp", cfg.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.addr, err)
	}
	server := &http.Server{Handler: fake, ReadHeaderTimeout: 5 * time.Second}

	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()
	logger.Info("fakepubnub.listening", "addr", listener.Addr().String(), "poll_timeout", cfg.pollTimeout, "fail_every", cfg.failEvery)
	if ready != nil {
		ready <- listener.Addr().String()
	}

	select {
	case err := <-served:
		fake.Close()
		return err
	case <-ctx.Done():
	}
	fake.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("fakepubnub.shutdown.error", "error", err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	stats := fake.Stats()
	logger.Info("fakepubnub.stopped", "publishes", stats.Publishes, "polls", stats.Polls, "failures", stats.Failures)
	return nil
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakepubnub: %v\n", err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakepubnub: %v\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Error("fakepubnub.failed", "error", err)
		os.Exit(1)
	}
}
