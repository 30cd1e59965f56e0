// Package runtime implements the runtime façade (C12): it loads
// configuration, wires an adapter bridge per configured adapter
// section onto the shared plugin manager, optionally mounts a
// Prometheus/health listener, and drives start-up and shutdown across
// everything it owns.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alloyrt/alloy/internal/bridge"
	"github.com/alloyrt/alloy/internal/buildinfo"
	"github.com/alloyrt/alloy/internal/config"
	"github.com/alloyrt/alloy/internal/events"
	"github.com/alloyrt/alloy/internal/metrics"
	"github.com/alloyrt/alloy/internal/onebot"
	"github.com/alloyrt/alloy/internal/plugin"

	// Registers the ws-server/ws-client/http-server/http-client
	// capabilities (C1) as a side effect of being imported.
	_ "github.com/alloyrt/alloy/internal/transport"
)

// Runtime owns every long-lived object a process needs: the loaded
// config, the operational event bus, the metrics registry, the plugin
// manager, and one adapter bridge per configured adapter section.
type Runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Registry
	plugins *plugin.Manager

	mu       sync.Mutex
	bridges  map[string]*bridge.Bridge
	metricsSrv *http.Server
}

// New implements §4.12's new(): loads configuration from default
// search paths (or the explicit configPath, if non-empty), falling
// back to config.Default() on any failure, and initializes logging.
// It constructs one onebot.Adapter-backed bridge per entry in
// cfg.Adapters, all sharing one plugin.Manager as their Dispatcher.
func New(configPath string) (*Runtime, error) {
	cfg, warnings := loadConfig(configPath)

	logger := configureLogging(cfg.LogLevel)
	for _, w := range warnings {
		logger.Warn(w)
	}
	logger.Info("alloyrt starting", "version", buildinfo.Version, "adapters", len(cfg.Adapters))

	bus := events.New()
	metricsReg := metrics.New()
	plugins := plugin.New(bus, metricsReg)

	rt := &Runtime{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		metrics: metricsReg,
		plugins: plugins,
		bridges: make(map[string]*bridge.Bridge),
	}

	for name := range cfg.Adapters {
		rt.registerAdapter(name)
	}

	return rt, nil
}

func loadConfig(configPath string) (*config.Config, []string) {
	var warnings []string

	path, err := config.FindConfig(configPath)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("no config file found, starting with defaults: %v", err))
		return config.Default(), warnings
	}

	cfg, err := config.Load(path)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("config %q invalid, starting with defaults: %v", path, err))
		return config.Default(), warnings
	}
	return cfg, warnings
}

// configureLogging installs a slog default handler at the requested
// level. Safe to call more than once (e.g. from tests constructing
// several Runtimes); each call simply replaces the process-wide
// default with an equivalent handler.
func configureLogging(level string) *slog.Logger {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// registerAdapter implements §4.12's register_adapter<A>(): for now
// every adapter section instantiates the one protocol module this
// runtime ships, onebot.Adapter, named after its config key.
func (rt *Runtime) registerAdapter(name string) {
	adapter := onebot.New(name)
	br := bridge.New(adapter, rt.plugins,
		bridge.WithBus(rt.bus),
		bridge.WithMetrics(rt.metrics),
	)
	rt.mu.Lock()
	rt.bridges[name] = br
	rt.mu.Unlock()
}

// RegisterPlugin adds a plugin descriptor to the shared plugin
// manager's load set, decoding its config section from cfg.Plugins.
// Must be called before Run.
func (rt *Runtime) RegisterPlugin(d *plugin.Descriptor) error {
	raw, err := rt.cfg.RawPluginConfig(d.Name)
	if err != nil {
		return fmt.Errorf("runtime: plugin %q: %w", d.Name, err)
	}
	rt.plugins.Register(d, raw)
	return nil
}

// Bus returns the operational event bus, for an admin log tail or
// similar diagnostic subscriber.
func (rt *Runtime) Bus() *events.Bus { return rt.bus }

// Metrics returns the metrics registry, for code wiring its own
// /metrics listener instead of relying on the config-driven one.
func (rt *Runtime) Metrics() *metrics.Registry { return rt.metrics }

// Run implements §4.12's run(): loads all registered plugins, starts
// the optional metrics listener, awaits on_start across every bridge,
// blocks on SIGINT/SIGTERM, then awaits on_shutdown across everything.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.plugins.LoadAll(ctx)

	if rt.cfg.Metrics.Listen != "" {
		rt.startMetricsListener(rt.cfg.Metrics.Listen)
	}

	rt.mu.Lock()
	bridges := make(map[string]*bridge.Bridge, len(rt.bridges))
	for k, v := range rt.bridges {
		bridges[k] = v
	}
	rt.mu.Unlock()

	for name, br := range bridges {
		adapterCfg := rt.cfg.Adapters[name]
		if err := br.OnStart(ctx, adapterCfg); err != nil {
			rt.logger.Warn("adapter start failed", "adapter", name, "error", err)
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	rt.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for name, br := range bridges {
		if err := br.OnShutdown(shutdownCtx); err != nil {
			rt.logger.Warn("adapter shutdown failed", "adapter", name, "error", err)
		}
	}
	rt.stopMetricsListener(shutdownCtx)

	return nil
}

func (rt *Runtime) startMetricsListener(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","uptime":%q}`, buildinfo.Uptime().String())
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	rt.mu.Lock()
	rt.metricsSrv = srv
	rt.mu.Unlock()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.logger.Warn("metrics listener stopped", "error", err)
		}
	}()
	rt.logger.Info("metrics listener started", "addr", addr)
}

func (rt *Runtime) stopMetricsListener(ctx context.Context) {
	rt.mu.Lock()
	srv := rt.metricsSrv
	rt.mu.Unlock()
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		rt.logger.Warn("metrics listener shutdown failed", "error", err)
	}
}
