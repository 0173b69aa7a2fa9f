package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/gatewayhttp"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/lifespan"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/log"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/probe"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/prof"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/ratelimit"
	v "github.com/keithlinneman/linnemanlabs-gateway/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix GATEWAY_ and validate
	cfg.FillFromEnv(flag.CommandLine, "GATEWAY_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Commit:          vi.Commit,
		BuildId:         vi.BuildId,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "gateway")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"startup_timeout", conf.StartupTimeout,
		"shutdown_timeout", conf.ShutdownTimeout,
		"callback_timeout", conf.CallbackTimeout,
		"shutdown_ack", conf.ShutdownAck,
		"drain_delay", conf.DrainDelay,
		"rate_limit_per_second", conf.RateLimitPerSecond,
		"rate_limit_burst", conf.RateLimitBurst,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "gateway",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:     conf.EnableTracing,
		Endpoint:    conf.OTLPEndpoint,
		Insecure:    true,
		SampleRatio: conf.TraceSample,
		Service:     v.AppName,
		Component:   "gateway",
		Version:     vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	var m *metrics.GatewayMetrics = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "gateway", vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// Application lifecycle: the coordinator answers the startup/shutdown
	// handshake for the hosted application, the host drives it over an
	// in-memory pipe and gates readiness on the exchange.
	coordinator := lifespan.New(
		lifespan.WithLogger(L),
		lifespanAckOption(conf.ShutdownAck),
		lifespan.WithCallbackTimeout(conf.CallbackTimeout),
		lifespan.WithOnTransition(func(s lifespan.State) {
			m.SetLifespanState(s.String())
		}),
		lifespan.WithCallbackObserver(m.ObserveCallbackDuration),
	)

	host := lifespan.NewHost(
		countLifespanEvents(coordinator.Handler(), m.IncLifespanEvent),
		lifespan.WithHostLogger(L),
	)

	startCtx, startCancel := context.WithTimeout(ctx, conf.StartupTimeout)
	err = host.Start(startCtx)
	startCancel()
	if err != nil {
		L.Error(ctx, err, "lifespan startup failed")
		os.Exit(1)
	}
	m.SetAppReady(true)

	// setup toggle for server shutdown
	var gate probe.ShutdownGate

	// setup readiness checks, both shutdown gate and the lifespan
	// handshake must pass
	readiness := probe.All(
		gate.Probe(),
		probe.CheckFunc(func(ctx context.Context) error {
			return host.Ready()
		}),
	)

	// Setup rate limiter middleware for the public listener
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitPerSecond, conf.RateLimitBurst),
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// start public gateway http server
	gatewayHTTPStop, err := gatewayhttp.Start(ctx, &gatewayhttp.Options{
		Port:         conf.HTTPPort,
		Health:       probe.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		Logger:       L,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start gateway http listener")
		os.Exit(1)
	}
	defer func() { _ = gatewayHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	// sg restricts inbound to internal monitoring infrastructure
	// we reject connections from public ips in middleware to prevent
	// accidental exposure if sg is misconfigured
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       probe.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// wait for ctrl+c / sigterm
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	gate.Set("draining")
	m.SetAppReady(false)
	L.Info(context.Background(), "shutdown gate closed")

	// allow in-flight requests to finish and the load balancer to detect
	// unhealthy before listeners stop; a second signal skips the wait
	L.Info(context.Background(), "sleeping for in-flight and load balancer health checks to drain", "drain_delay", conf.DrainDelay)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainDelay):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := gatewayHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "gateway http server shutdown")
	}

	// run the shutdown half of the lifespan handshake after the listener
	// stopped accepting so callbacks see no in-flight traffic
	if err := host.Stop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "lifespan shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func lifespanAckOption(ack bool) lifespan.Option {
	if ack {
		return lifespan.WithShutdownAck()
	}
	return func(*lifespan.Coordinator) {}
}

// countLifespanEvents wraps the app side of the lifespan connection so
// every event crossing it in either direction is counted.
func countLifespanEvents(app gateway.Handler, count func(kind string)) gateway.Handler {
	return func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		countingReceive := func(ctx context.Context) (gateway.Event, error) {
			ev, err := receive(ctx)
			if err == nil {
				count(ev.Kind())
			}
			return ev, err
		}
		countingSend := func(ctx context.Context, ev gateway.Event) error {
			err := send(ctx, ev)
			if err == nil {
				count(ev.Kind())
			}
			return err
		}
		return app(ctx, scope, countingReceive, countingSend)
	}
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
