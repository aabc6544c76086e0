package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dnsroute/internal/log"
	"dnsroute/internal/meta"
	"dnsroute/internal/metrics"
	"dnsroute/internal/network"
	"dnsroute/internal/noise"
	"dnsroute/internal/protocol"
	"dnsroute/internal/report"
	"dnsroute/internal/routing"

	"github.com/getsentry/raven-go"
)

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("DNSROUTE_CONFIG"),
		"path to the configuration file on disk",
	)
	listenAddr := flag.String(
		"listen",
		"",
		"TCP listening address; overrides listener.tcp.addr from the config",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled dnsroute version SHA",
	)
	verbosity := flag.String(
		"verbosity",
		"info",
		"desired logging verbosity: one of error, warn, info, debug",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("dnsroute-server/%s\n", meta.Version())
		return
	}

	// Logging configuration; default to log.Info verbosity
	level, ok := log.ParseLevel(*verbosity)
	if !ok {
		level = log.Info
	}
	logger := log.NewConsoleLogger(level)
	logger.Debug("main: initialized logger: level=%v", level)

	if *configPath == "" {
		fatal(logger, "main: no configuration file; pass -config or set DNSROUTE_CONFIG")
	}

	// Parse application configuration
	logger.Debug("main: reading and parsing config: path=%s", *configPath)
	config, err := meta.ParseConfig(*configPath)
	if err != nil {
		fatal(logger, "main: %v", err)
	}

	logger.Debug("main: reading and parsing routing rules: path=%s", config.Routing.RulesPath)
	table, err := meta.ParseRules(config.Routing.RulesPath)
	if err != nil {
		fatal(logger, "main: error loading routing rules: path=%s err=%v", config.Routing.RulesPath, err)
	}

	// Configure error reporting
	reportErrors := config.Application != nil && config.Application.SentryDSN != ""
	if reportErrors {
		if err := raven.SetDSN(config.Application.SentryDSN); err != nil {
			fatal(logger, "main: invalid sentry DSN: err=%v", err)
		}
		raven.SetRelease(meta.Version())
	}

	// Configure metrics reporting
	clientCxLifecycleHook := metrics.NewNoopConnectionLifecycleHook()
	clientCxIOHook := metrics.NewNoopConnectionIOHook()
	resolverHook := metrics.NewNoopResolverHook()

	if config.Metrics != nil && config.Metrics.Statsd != nil {
		addr := config.Metrics.Statsd.Address
		sampleRate := float32(config.Metrics.Statsd.SampleRate)

		logger.Info("main: configuring statsd metrics reporting: addr=%s sample_rate=%f", addr, sampleRate)

		if clientCxLifecycleHook, err = metrics.NewAsyncStatsdConnectionLifecycleHook(
			"client",
			addr,
			sampleRate,
			meta.Version(),
		); err != nil {
			fatal(logger, "main: %v", err)
		}

		if clientCxIOHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			"client",
			addr,
			sampleRate,
			meta.Version(),
		); err != nil {
			fatal(logger, "main: %v", err)
		}

		if resolverHook, err = metrics.NewAsyncStatsdResolverHook(addr, sampleRate, meta.Version()); err != nil {
			fatal(logger, "main: %v", err)
		}
	} else {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
	}

	// Open the resolution log
	sink, err := report.CreateCSVSink(config.ReportPath())
	if err != nil {
		fatal(logger, "main: %v", err)
	}
	defer sink.Close()

	filter := noise.NewFilter(config.Routing.NoiseKeywords...)
	logger.Debug("main: configured noise filter: keywords=%v", filter.Keywords())

	h := &protocol.ResolverHandler{
		Engine:         routing.NewEngine(table),
		Filter:         filter,
		Sink:           sink,
		ClientCxIOHook: clientCxIOHook,
		ResolverHook:   resolverHook,
		Logger:         logger,
		Opts: protocol.ResolverOpts{
			ReportErrors: reportErrors,
		},
	}

	// Configure the server listener
	addr := config.ListenAddress()
	if *listenAddr != "" {
		addr = *listenAddr
	}

	opts := network.TCPServerOpts{
		ReadTimeout:              config.ReadTimeout(),
		WriteTimeout:             config.WriteTimeout(),
		MaxConcurrentConnections: config.MaxConcurrentConnections(),
	}

	tcpServer := network.NewTCPServer(addr, clientCxLifecycleHook, opts)
	if err := tcpServer.Listen(); err != nil {
		fatal(logger, "main: %v", err)
	}

	logger.Info(
		"main: listening for queries: addr=%s max_concurrent_conns=%d read_timeout=%v write_timeout=%v report=%s",
		tcpServer.Addr(),
		opts.MaxConcurrentConnections,
		opts.ReadTimeout,
		opts.WriteTimeout,
		config.ReportPath(),
	)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- tcpServer.Serve(h)
	}()

	// Serve until interrupted
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	exitCode := awaitShutdown(logger, signals, serveErr)

	if err := tcpServer.Close(); err != nil {
		logger.Debug("main: error closing listener: err=%v", err)
	}

	if err := sink.Close(); err != nil {
		fatal(logger, "main: error closing report: err=%v", err)
	}

	logger.Info("main: stopped: exit_code=%d", exitCode)
	os.Exit(exitCode)
}

// awaitShutdown blocks until a termination signal arrives or the server stops on its own, and
// returns the process exit code. Serve only returns before Close on an accept failure, so that
// path is always an error exit.
func awaitShutdown(logger log.Logger, signals <-chan os.Signal, serveErr <-chan error) int {
	select {
	case sig := <-signals:
		logger.Info("main: shutting down: signal=%v", sig)
		return 0
	case err := <-serveErr:
		logger.Error("main: server stopped unexpectedly: err=%v", err)
		return 1
	}
}

// fatal logs an unrecoverable startup error and exits.
func fatal(logger log.Logger, format string, v ...interface{}) {
	logger.Error(format, v...)
	os.Exit(1)
}
