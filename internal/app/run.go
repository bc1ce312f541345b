package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/portierproxy/portier/internal/configstore"
	"github.com/portierproxy/portier/internal/gateway"
	"github.com/portierproxy/portier/internal/proxy"
	"github.com/portierproxy/portier/internal/secrets"
)

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	serversPath := fs.String("servers", "./servers.json", "path to servers file (file backend)")
	dbPath := fs.String("db", "", "path to sqlite servers db file (sqlite backend)")
	postgresDSN := fs.String("postgres-dsn", "", "postgres connection string (postgres backend)")
	redisAddr := fs.String("redis-addr", "", "redis address host:port (redis backend)")
	redisDB := fs.Int("redis-db", 0, "redis database number")
	listen := fs.String("listen", ":8080", "proxy listen address")
	metricsListen := fs.String("metrics-listen", "", "metrics listen address (empty disables)")
	grpcHealthListen := fs.String("grpc-health-listen", "", "gRPC health listen address (empty disables)")
	pidFile := fs.String("pid-file", "", "write process PID to file")
	logLevel := fs.String("log-level", "info", "log level (debug|info|warn|error)")
	dotenvPath := fs.String("dotenv", "", "load environment variables from file (dev only)")
	accessLogOn := fs.Bool("access-log", false, "log every request")
	accessLogFile := fs.String("access-log-file", "", "append access log to file instead of stderr (implies --access-log)")
	watch := fs.Bool("watch", false, "watch servers file for reload (file backend only)")
	traceCollector := fs.String("trace-collector", "", "OTLP/HTTP trace collector endpoint (enables tracing)")
	traceInsecure := fs.Bool("trace-insecure", false, "allow plain HTTP to the trace collector")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := newRuntimeLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	slog.SetDefault(logger)

	releasePIDFile, err := claimPIDFile(strings.TrimSpace(*pidFile))
	if err != nil {
		logger.Error("pid_file_failed", slog.Any("err", err))
		return 1
	}
	defer releasePIDFile()

	if strings.TrimSpace(*dotenvPath) != "" {
		if err := loadDotenv(strings.TrimSpace(*dotenvPath)); err != nil {
			logger.Error("dotenv_failed", slog.Any("err", err))
			return 1
		}
	}

	// Snapshot after dotenv so file-provided secrets are visible.
	secretMap := secrets.Snapshot()

	appMetrics := newRuntimeMetrics()

	var shutdownTracing func(context.Context) error
	tracingEnabled := strings.TrimSpace(*traceCollector) != ""
	if tracingEnabled {
		shutdownTracing, err = initTracing(context.Background(), tracingConfig{
			Collector: strings.TrimSpace(*traceCollector),
			Insecure:  *traceInsecure,
		}, func(err error) {
			appMetrics.incTracingExportErrors()
			logger.Error("tracing_export_failed", slog.Any("err", err))
		})
		if err != nil {
			appMetrics.incTracingInitFailures()
			logger.Error("tracing_init_failed", slog.Any("err", err))
			return 1
		}
		appMetrics.setTracingEnabled(true)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
		logger.Info("tracing_enabled")
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, backend, err := newConfigStore(ctx, *serversPath, *dbPath, *postgresDSN, *redisAddr, *redisDB)
	if err != nil {
		logger.Error("open_store_failed", slog.Any("err", err))
		return 1
	}
	defer func() { _ = store.Close() }()
	logger.Info("store_backend_selected", slog.String("backend", backend))

	globalAuth := gateway.NewGlobalAuthLoader(store, secretMap)
	if _, err := globalAuth.Load(ctx); err != nil {
		// Fail fast on a malformed global policy instead of rejecting
		// every request with a 500 at runtime.
		logger.Error("global_auth_invalid", slog.Any("err", err))
		return 1
	}

	srv := proxy.NewServer(store, globalAuth, secretMap, logger)
	srv.ObserveDecision = appMetrics.observeDecision
	srv.ObserveFailure = appMetrics.observeFailure
	srv.ObserveBackendStatus = appMetrics.observeBackendStatus

	if fileStore, ok := store.(*configstore.FileStore); ok {
		hupCh := make(chan os.Signal, 1)
		signal.Notify(hupCh, syscall.SIGHUP)
		defer signal.Stop(hupCh)
		reloadNow := func(trigger string) {
			if err := fileStore.Reload(); err != nil {
				logger.Error("reload_failed", slog.String("trigger", trigger), slog.Any("err", err))
				return
			}
			logger.Info("servers_reloaded", slog.String("trigger", trigger))
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hupCh:
					reloadNow("signal_sighup")
				}
			}
		}()
		if *watch {
			go watchServersFile(ctx, fileStore.Path(), logger, func() {
				reloadNow("watch")
			})
		}
	} else if *watch {
		logger.Warn("watch_ignored", slog.String("backend", backend))
	}

	var handler http.Handler = srv
	handler = wrapTracingHandler(tracingEnabled, "portier.proxy", handler)
	if *accessLogOn || strings.TrimSpace(*accessLogFile) != "" {
		accessLogger, accessSink, err := newAccessLogger(strings.TrimSpace(*accessLogFile))
		if err != nil {
			logger.Error("access_log_failed", slog.Any("err", err))
			return 1
		}
		if accessSink != nil {
			defer func() { _ = accessSink.Close() }()
		}
		handler = accessLog(accessLogger, handler)
	}

	proxyLn, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Error("listen_failed", slog.String("addr", *listen), slog.Any("err", err))
		return 1
	}
	proxySrv := &http.Server{Handler: handler}
	serveAsync(logger, "proxy", proxySrv, proxyLn, cancel)
	logger.Info("proxy_listening", slog.String("addr", proxyLn.Addr().String()))
	httpServers := []*http.Server{proxySrv}

	if strings.TrimSpace(*metricsListen) != "" {
		metricsLn, err := net.Listen("tcp", strings.TrimSpace(*metricsListen))
		if err != nil {
			logger.Error("listen_failed", slog.String("addr", *metricsListen), slog.Any("err", err))
			return 1
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", newMetricsHandler(version, time.Now(), appMetrics))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		metricsSrv := &http.Server{Handler: mux}
		serveAsync(logger, "metrics", metricsSrv, metricsLn, cancel)
		logger.Info("metrics_listening", slog.String("addr", metricsLn.Addr().String()))
		httpServers = append(httpServers, metricsSrv)
	}

	if strings.TrimSpace(*grpcHealthListen) != "" {
		healthLn, err := net.Listen("tcp", strings.TrimSpace(*grpcHealthListen))
		if err != nil {
			logger.Error("listen_failed", slog.String("addr", *grpcHealthListen), slog.Any("err", err))
			return 1
		}
		grpcSrv, healthSrv := newHealthGRPCServer()
		go func() {
			if err := grpcSrv.Serve(healthLn); err != nil {
				logger.Error("grpc_server_error", slog.Any("err", err))
				cancel()
			}
		}()
		logger.Info("grpc_health_listening", slog.String("addr", healthLn.Addr().String()))
		defer func() {
			healthSrv.Shutdown()
			grpcSrv.GracefulStop()
		}()
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, s := range httpServers {
		_ = s.Shutdown(shutdownCtx)
	}

	return 0
}

// newConfigStore opens the configuration backend selected by flags.
// At most one of db/postgres/redis may be set; the file backend is the
// default.
func newConfigStore(ctx context.Context, serversPath, dbPath, postgresDSN, redisAddr string, redisDB int) (configstore.Store, string, error) {
	selected := 0
	for _, v := range []string{dbPath, postgresDSN, redisAddr} {
		if strings.TrimSpace(v) != "" {
			selected++
		}
	}
	if selected > 1 {
		return nil, "", errors.New("at most one of --db, --postgres-dsn, --redis-addr may be set")
	}

	switch {
	case strings.TrimSpace(postgresDSN) != "":
		s, err := configstore.NewPostgresStore(ctx, postgresDSN)
		return s, "postgres", err
	case strings.TrimSpace(redisAddr) != "":
		s, err := configstore.NewRedisStore(ctx, redisAddr, os.Getenv("PORTIER_REDIS_PASSWORD"), redisDB)
		return s, "redis", err
	case strings.TrimSpace(dbPath) != "":
		s, err := configstore.NewSQLiteStore(dbPath)
		return s, "sqlite", err
	default:
		s, err := configstore.NewFileStore(serversPath)
		return s, "file", err
	}
}

func watchServersFile(ctx context.Context, path string, logger *slog.Logger, reload func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if reload == nil {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}
	defer w.Close()

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}

	logger.Info("watching_servers", slog.String("path", path))

	// Debounce to coalesce bursty editor/atomic-write events.
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(200 * time.Millisecond)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(200 * time.Millisecond)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watch_error", slog.Any("err", err))
		case <-timerCh:
			timerCh = nil
			reload()
		}
	}
}

func claimPIDFile(pidFile string) (func(), error) {
	pidFile = strings.TrimSpace(pidFile)
	if pidFile == "" {
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err != nil {
		return nil, err
	}

	if pid, err := readPIDFile(pidFile); err == nil && pid > 0 {
		if pidRunning(pid) {
			return nil, fmt.Errorf("pid file %q points to running process %d", pidFile, pid)
		}
	}

	pid := os.Getpid()
	if err := writePIDFile(pidFile, pid); err != nil {
		return nil, err
	}

	return func() {
		cur, err := readPIDFile(pidFile)
		if err != nil {
			return
		}
		if cur == pid {
			_ = os.Remove(pidFile)
		}
	}, nil
}

func writePIDFile(pidFile string, pid int) error {
	tmp, err := os.CreateTemp(filepath.Dir(pidFile), "."+filepath.Base(pidFile)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	keepTemp := false
	defer func() {
		_ = tmp.Close()
		if !keepTemp {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(tmp, "%d\n", pid); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, pidFile); err != nil {
		return err
	}
	keepTemp = true
	return nil
}

func readPIDFile(pidFile string) (int, error) {
	b, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return 0, fmt.Errorf("pid file %q is empty", pidFile)
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q contains invalid pid %q", pidFile, raw)
	}
	return pid, nil
}

func pidRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombiePID(pid) {
		return false
	}
	return pidAlive(pid)
}

func isZombiePID(pid int) bool {
	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	data, err := os.ReadFile(statPath)
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return false
	}
	return fields[2] == "Z"
}
