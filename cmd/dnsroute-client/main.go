package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dnsroute/internal/capture"
	"dnsroute/internal/log"
	"dnsroute/internal/meta"
	"dnsroute/internal/metrics"
	"dnsroute/internal/network"
	"dnsroute/internal/noise"
	"dnsroute/internal/protocol"
	"dnsroute/internal/report"
)

// defaultResolver is dialed when no -resolver flag is given.
const defaultResolver = "127.0.0.1:9999"

// listFlag is a repeatable flag whose values may also be comma separated.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(value string) error {
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*l = append(*l, item)
		}
	}

	return nil
}

func main() {
	var resolvers, noiseKeywords listFlag

	capturePath := flag.String(
		"capture",
		"capture.pcap",
		"path to the pcap file whose DNS queries are replayed",
	)
	flag.Var(
		&resolvers,
		"resolver",
		"resolver address as host:port; repeatable or comma separated (default "+defaultResolver+")",
	)
	flag.Var(
		&noiseKeywords,
		"noise-keyword",
		"additional noise keyword; repeatable or comma separated",
	)
	lbPolicyName := flag.String(
		"lb-policy",
		network.RoundRobin.String(),
		"policy for spreading queries across resolvers: one of RoundRobin, Random, HistoricalConnections, Availability, Failover",
	)
	concurrency := flag.Int(
		"concurrency",
		1,
		"maximum number of queries in flight",
	)
	connectTimeout := flag.Duration(
		"connect-timeout",
		5*time.Second,
		"timeout for establishing each resolver connection",
	)
	readTimeout := flag.Duration(
		"read-timeout",
		5*time.Second,
		"timeout for each read from a resolver connection",
	)
	writeTimeout := flag.Duration(
		"write-timeout",
		5*time.Second,
		"timeout for each write to a resolver connection",
	)
	queryTimeout := flag.Duration(
		"query-timeout",
		0,
		"bound on each whole query session; zero disables",
	)
	reportPath := flag.String(
		"report",
		"report.csv",
		"path of the CSV report to write",
	)
	statsdAddr := flag.String(
		"statsd-addr",
		"",
		"statsd address for client metrics; metrics are disabled when empty",
	)
	statsdSampleRate := flag.Float64(
		"statsd-sample-rate",
		1.0,
		"statsd sample rate in range [0.0, 1.0]",
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
		fmt.Printf("dnsroute-client/%s\n", meta.Version())
		return
	}

	// Logging configuration; default to log.Info verbosity
	level, ok := log.ParseLevel(*verbosity)
	if !ok {
		level = log.Info
	}
	logger := log.NewConsoleLogger(level)
	logger.Debug("main: initialized logger: level=%v", level)

	if len(resolvers) == 0 {
		resolvers = listFlag{defaultResolver}
	}

	if *statsdSampleRate < 0 || *statsdSampleRate > 1 {
		fatal(logger, "main: statsd sample rate must be in range [0.0, 1.0]")
	}

	// Collect the clean queries to replay
	observations, err := capture.Open(*capturePath)
	if err != nil {
		fatal(logger, "main: %v", err)
	}

	queries := protocol.Sequence(observations, noise.NewFilter(noiseKeywords...))
	logger.Info(
		"main: read capture: path=%s queries=%d clean=%d",
		*capturePath,
		len(observations),
		len(queries),
	)

	if len(queries) == 0 {
		fmt.Println("no clean DNS queries found")
		return
	}

	// Configure metrics reporting
	upstreamCxLifecycleHook := metrics.NewNoopConnectionLifecycleHook()
	upstreamCxIOHook := metrics.NewNoopConnectionIOHook()
	sessionHook := metrics.NewNoopSessionHook()

	if *statsdAddr != "" {
		sampleRate := float32(*statsdSampleRate)

		logger.Info("main: configuring statsd metrics reporting: addr=%s sample_rate=%f", *statsdAddr, sampleRate)

		if upstreamCxLifecycleHook, err = metrics.NewAsyncStatsdConnectionLifecycleHook(
			"upstream",
			*statsdAddr,
			sampleRate,
			meta.Version(),
		); err != nil {
			fatal(logger, "main: %v", err)
		}

		if upstreamCxIOHook, err = metrics.NewAsyncStatsdConnectionIOHook(
			"upstream",
			*statsdAddr,
			sampleRate,
			meta.Version(),
		); err != nil {
			fatal(logger, "main: %v", err)
		}

		if sessionHook, err = metrics.NewAsyncStatsdSessionHook(*statsdAddr, sampleRate, meta.Version()); err != nil {
			fatal(logger, "main: %v", err)
		}
	}

	// Configure resolver clients
	var clients []network.Client
	for _, addr := range resolvers {
		logger.Debug("main: configuring resolver client: addr=%s", addr)

		clients = append(clients, network.NewTCPClient(addr, upstreamCxLifecycleHook, network.TCPClientOpts{
			ConnectTimeout: *connectTimeout,
			ReadTimeout:    *readTimeout,
			WriteTimeout:   *writeTimeout,
		}))
	}

	lbPolicy, ok := network.ParseLoadBalancingPolicy(*lbPolicyName)
	if !ok {
		logger.Warn(
			"main: unknown load balancing policy; use default: supplied=%s default=%s",
			*lbPolicyName,
			lbPolicy,
		)
	}

	upstream, err := network.NewShardedClient(clients, lbPolicy)
	if err != nil {
		fatal(logger, "main: %v", err)
	}

	// Create the report up front so an unwritable path fails before any query is sent
	sink, err := report.CreateCSVSink(*reportPath)
	if err != nil {
		fatal(logger, "main: %v", err)
	}
	defer sink.Close()

	// Dispatch every query; an interrupt abandons in-flight sessions
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := &protocol.Dispatcher{
		Session: &protocol.Session{
			Upstream:         upstream,
			UpstreamCxIOHook: upstreamCxIOHook,
			SessionHook:      sessionHook,
		},
		Logger: logger,
		Opts: protocol.DispatcherOpts{
			Concurrency: *concurrency,
			Timeout:     *queryTimeout,
		},
	}

	logger.Debug(
		"main: dispatching queries: resolvers=%v policy=%s concurrency=%d",
		[]string(resolvers),
		lbPolicy,
		*concurrency,
	)
	outcomes := dispatcher.Run(ctx, queries)

	if err := sink.AppendAll(protocol.Records(outcomes)); err != nil {
		fatal(logger, "main: %v", err)
	}

	if err := sink.Close(); err != nil {
		fatal(logger, "main: error closing report: err=%v", err)
	}

	counts := make(map[protocol.OutcomeKind]int)
	for _, outcome := range outcomes {
		counts[outcome.Kind]++
	}

	fmt.Printf(
		"report saved to %s: queries=%d resolved=%d rejected=%d errors=%d\n",
		*reportPath,
		len(outcomes),
		counts[protocol.Resolved],
		counts[protocol.Rejected],
		counts[protocol.Failed],
	)
}

// fatal logs an unrecoverable startup error and exits.
func fatal(logger log.Logger, format string, v ...interface{}) {
	logger.Error(format, v...)
	os.Exit(1)
}
