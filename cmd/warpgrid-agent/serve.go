package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/warpgrid/internal/config"
	"github.com/oriys/warpgrid/internal/logging"
	"github.com/oriys/warpgrid/internal/metrics"
	"github.com/oriys/warpgrid/internal/observability"
	"github.com/oriys/warpgrid/internal/shim/capability"
	"github.com/oriys/warpgrid/internal/shim/dbproxy"
	"github.com/oriys/warpgrid/internal/shim/dnsresolve"
	"github.com/oriys/warpgrid/internal/shim/shimconfig"
	"github.com/oriys/warpgrid/internal/shim/vfs"
)

func serveCmd() *cobra.Command {
	var (
		logLevel   string
		listenAddr string
		vsockPort  uint32
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the shim agent daemon",
		Long:  "Start the connection pool manager, DNS resolver, virtual filesystem, and capability binding listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.ListenAddr = listenAddr
			}
			if cmd.Flags().Changed("vsock-port") {
				cfg.Daemon.VsockPort = vsockPort
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if cfg.Observability.Tracing.ServiceName == "" {
				cfg.Observability.Tracing.ServiceName = "warpgrid-agent"
			}
			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				pm := metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
				stopMetrics := startMetricsServer(pm, cfg.Observability.Metrics.ListenAddr)
				defer stopMetrics()
			}

			shim, err := loadShimConfig(cfg.ShimConfigPath)
			if err != nil {
				return fmt.Errorf("load shim config: %w", err)
			}

			resolver := dnsresolve.NewResolver(shim.ServiceRegistry, shim.EtcHostsContent)
			cachedResolver := dnsresolve.NewCachedResolver(resolver, shim.DNSCacheConfig)

			poolManager := dbproxy.NewManager(shim.PoolConfig, dbproxy.NewTCPConnectionFactory(shim.PoolConfig))
			stopReaper := startPoolMaintenance(poolManager, shim.PoolConfig)
			defer stopReaper()

			fileMap, err := buildFileMap(context.Background(), shim.FilesystemConfig)
			if err != nil {
				return fmt.Errorf("build virtual file map: %w", err)
			}
			fsHost := vfs.NewHost(fileMap)

			binding := capability.New(cachedResolver, poolManager, fsHost)

			listener, err := openCapabilityListener(cfg.Daemon)
			if err != nil {
				return fmt.Errorf("open capability listener: %w", err)
			}
			server := capability.NewServer(binding, listener)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- server.Serve(ctx)
			}()

			logging.Op().Info("warpgrid-agent started", "listen_addr", cfg.Daemon.ListenAddr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigCh:
				logging.Op().Info("shutdown signal received")
			case err := <-serveErr:
				if err != nil {
					logging.Op().Warn("capability listener stopped", "error", err)
				}
			}

			cancel()
			drained := poolManager.Drain(context.Background())
			logging.Op().Info("drained connection pools", "count", drained)
			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Unix socket path for the capability binding listener")
	cmd.Flags().Uint32Var(&vsockPort, "vsock-port", 0, "vsock port to listen on instead of a Unix socket")

	return cmd
}

// loadShimConfig reads the declarative shim document at path, falling back
// to shimconfig.Default() when no path is configured -- an agent started
// with no ShimConfigPath still runs with every shim enabled at its
// standard settings.
func loadShimConfig(path string) (shimconfig.ShimConfig, error) {
	if path == "" {
		return shimconfig.Default(), nil
	}
	return shimconfig.FromYAMLFile(path)
}

// openCapabilityListener prefers a vsock listener when the daemon config
// names a nonzero port -- the expected path when the agent runs inside a
// microVM guest -- and otherwise binds the Unix domain socket at
// cfg.ListenAddr, matching internal/config.DaemonConfig's doc comments.
func openCapabilityListener(cfg config.DaemonConfig) (net.Listener, error) {
	if cfg.VsockPort != 0 {
		l, err := capability.NewVsockListener(cfg.VsockPort)
		if err == nil {
			return l, nil
		}
		logging.Op().Warn("vsock listen failed, falling back to unix socket", "port", cfg.VsockPort, "error", err)
	}
	return capability.NewUnixListener(cfg.ListenAddr)
}

// startMetricsServer mounts the Prometheus exposition handler on its own
// HTTP server, matching the teacher's mux.Handle("/metrics", ...) idiom,
// and returns a stop function that shuts it down.
func startMetricsServer(pm *metrics.PrometheusMetrics, listenAddr string) func() {
	if listenAddr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", pm.Handler())
	srv := &http.Server{Addr: listenAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Warn("metrics server stopped", "error", err)
		}
	}()
	logging.Op().Info("metrics endpoint started", "addr", listenAddr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// startPoolMaintenance runs ReapIdle, HealthCheckIdle, and LogStats on
// their own tickers, and returns a stop function that halts all three.
func startPoolMaintenance(m *dbproxy.Manager, cfg dbproxy.PoolConfig) func() {
	stop := make(chan struct{})

	reapInterval := cfg.IdleTimeout / 2
	if reapInterval <= 0 {
		reapInterval = 30 * time.Second
	}
	healthInterval := cfg.HealthCheckInterval
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	// LogStats shares the health-check cadence: both are periodic,
	// non-urgent observability sweeps over the same pool set.
	statsInterval := healthInterval

	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.ReapIdle()
			case <-stop:
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.HealthCheckIdle()
			case <-stop:
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogStats()
			case <-stop:
				return
			}
		}
	}()

	return func() { close(stop) }
}

// buildFileMap layers an operator's extra_virtual_paths on top of the
// standard catalog. An "s3://bucket/key" value is resolved through
// vfs.S3StaticLoader at construction time; anything else is inline
// content, matching SPEC_FULL.md §6's "s3:// source form alongside inline
// bytes" note.
func buildFileMap(ctx context.Context, fsCfg shimconfig.FilesystemConfig) (*vfs.VirtualFileMap, error) {
	base := vfs.WithDefaults()
	if len(fsCfg.ExtraVirtualPaths) == 0 {
		return base, nil
	}

	var s3Loader *vfs.S3StaticLoader
	builder := vfs.NewBuilder()
	for path, content := range fsCfg.ExtraVirtualPaths {
		if _, _, ok := vfs.ParseS3URI(content); ok {
			if s3Loader == nil {
				var err error
				s3Loader, err = vfs.NewS3StaticLoader(ctx)
				if err != nil {
					return nil, fmt.Errorf("init s3 static loader: %w", err)
				}
			}
			data, err := s3Loader.LoadURI(ctx, content)
			if err != nil {
				return nil, err
			}
			builder = builder.WithStaticFile(path, data)
			continue
		}
		builder = builder.WithStaticFile(path, []byte(content))
	}
	return vfs.Merge(base, builder.Build()), nil
}
