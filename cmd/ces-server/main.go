// Command ces-server is the Execution API's daemon entry point: it
// wires the Session Registry, Kernel Host, Streaming Channel, and
// optional ambient services (audit, tracing, metrics, gRPC health)
// behind one HTTP listener. Config loading, flag-override precedence,
// and the signal-driven shutdown loop are grounded on daemonCmd() in
// cmd/nova/main.go (teacher).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/oriys/ces/internal/api"
	"github.com/oriys/ces/internal/audit"
	"github.com/oriys/ces/internal/backend"
	"github.com/oriys/ces/internal/backend/container"
	"github.com/oriys/ces/internal/backend/localprocess"
	"github.com/oriys/ces/internal/config"
	"github.com/oriys/ces/internal/grpcsrv"
	"github.com/oriys/ces/internal/kernel"
	"github.com/oriys/ces/internal/logging"
	"github.com/oriys/ces/internal/metrics"
	"github.com/oriys/ces/internal/registry"
	"github.com/oriys/ces/internal/stream"
	"github.com/oriys/ces/internal/tracing"
	"github.com/oriys/ces/internal/verifier"
)

var (
	configFile  string
	host        string
	port        int
	apiKey      string
	workDir     string
	logLevel    string
	metricsAddr string
	grpcAddr    string
	backendKind string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ces-server",
		Short: "Run the Code Execution Service daemon",
		RunE:  runServer,
	}
	cmd.Flags().StringVar(&configFile, "config", "", "path to a JSON config file")
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config/env)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config/env)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "shared-secret API key (overrides config/env)")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "session working directory root (overrides config/env)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "separate listen addr for /metrics, empty disables it")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "enable the gRPC health server on this addr")
	cmd.Flags().StringVar(&backendKind, "backend", "localprocess", "kernel backend: localprocess or container")
	return cmd
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("api-key") {
		cfg.Server.APIKey = apiKey
	}
	if cmd.Flags().Changed("work-dir") {
		cfg.Server.WorkDir = workDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Server.LogLevel = logLevel
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Server.MetricsAddr = metricsAddr
	}
	if cmd.Flags().Changed("grpc-addr") {
		cfg.GRPC.Enabled = true
		cfg.GRPC.Addr = grpcAddr
	}

	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)
	logging.SetLevelFromString(cfg.Server.LogLevel)

	if err := tracing.Init(context.Background(), tracing.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.Init(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	if err := os.MkdirAll(cfg.Server.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	var policy *verifier.Policy
	if cfg.Verifier.PolicyFile != "" {
		loaded, err := verifier.LoadPolicyFile(cfg.Verifier.PolicyFile)
		if err != nil {
			return fmt.Errorf("load verifier policy: %w", err)
		}
		policy = loaded
	} else {
		policy = verifier.Permissive()
	}

	be, err := selectBackend(backendKind, cfg)
	if err != nil {
		return err
	}
	defer be.Shutdown()

	kernelHost := kernel.New(be, policy, cfg.Verifier.Enabled)
	reg := registry.New(cfg.Server.WorkDir, kernelHost)
	defer reg.CleanupAll()

	streams, err := selectStreamQueue(cfg)
	if err != nil {
		return err
	}

	// The audit batcher is created and flushed on shutdown here; no
	// component enqueues execution records to it, so the sink receives
	// no rows.
	var auditBatcher *audit.Batcher
	if cfg.Audit.Enabled {
		sink, err := audit.NewPostgresSink(context.Background(), cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("init audit sink: %w", err)
		}
		auditBatcher = audit.NewBatcher(sink, audit.Config{
			BatchSize:     cfg.Audit.BatchSize,
			BufferSize:    cfg.Audit.BufferSize,
			FlushInterval: cfg.Audit.FlushInterval,
			Timeout:       cfg.Audit.Timeout,
		})
		defer auditBatcher.Shutdown(5 * time.Second)
	}

	handler := api.NewHandler(reg, kernelHost, streams, be, api.Config{
		APIKey:        cfg.Server.APIKey,
		StreamDepth:   cfg.Stream.QueueDepth,
		StreamGrace:   cfg.Stream.GracePeriod,
		StreamKeepIdl: cfg.Stream.KeepaliveIdle,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	if cfg.Server.MetricsAddr == "" {
		handler.RegisterMetrics(mux)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logging.Op().Info("execution API started", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("http server error", "error", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		handler.RegisterMetrics(metricsMux)
		metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}
		go func() {
			logging.Op().Info("metrics listener started", "addr", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Op().Error("metrics server error", "error", err)
			}
		}()
	}

	var grpcServer *grpcsrv.Server
	if cfg.GRPC.Enabled {
		grpcServer = grpcsrv.New("ces")
		if err := grpcServer.Start(cfg.GRPC.Addr); err != nil {
			return fmt.Errorf("start grpc health server: %w", err)
		}
	}

	logging.Op().Info("waiting for signals (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Op().Info("shutdown signal received")
	if grpcServer != nil {
		grpcServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	return nil
}

func selectBackend(kind string, cfg *config.Config) (backend.Backend, error) {
	switch kind {
	case "", "localprocess":
		return localprocess.New(localprocess.DefaultConfig()), nil
	case "container":
		return container.New(container.DefaultConfig()), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}

func selectStreamQueue(cfg *config.Config) (stream.Queue, error) {
	switch cfg.Stream.Backend {
	case "", "memory":
		return stream.NewMemoryQueue(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Stream.RedisAddr})
		return stream.NewRedisQueue(client, cfg.Stream.GracePeriod+cfg.Stream.KeepaliveIdle), nil
	default:
		return nil, fmt.Errorf("unknown stream backend %q", cfg.Stream.Backend)
	}
}
