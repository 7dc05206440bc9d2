// Command messenger runs the symphony-messenger bus as a standalone
// process: it loads layered YAML config, wires the configured
// transports, starts one worker pool per transport that has a queue
// configured, runs the scheduler loop, and serves an admin HTTP API
// (health, metrics, dead-letter inspection, schedule listing, and a
// live attempt stream over a websocket).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Ap3pp3rs94/symphony-messenger/pkg/config"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/messenger"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/metrics"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport/postgres"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/transport/sqlite"
	"github.com/Ap3pp3rs94/symphony-messenger/pkg/worker"
)

func main() {
	fs := flag.NewFlagSet("messenger", flag.ExitOnError)
	configRoot := fs.String("config", "./config", "Directory containing messenger.yaml and env/<env>/messenger.yaml")
	env := fs.String("env", os.Getenv("MESSENGER_ENV"), "Environment overlay name (e.g. prod, staging)")
	addr := fs.String("addr", ":8090", "Admin HTTP API listen address")
	concurrency := fs.Int("worker-concurrency", 4, "Worker goroutines per started transport")
	_ = fs.Parse(os.Args[1:])

	log := stdLogger

	loader := config.Loader{Root: *configRoot, Env: *env}
	cfg, err := loader.Load()
	if err != nil {
		fatal("config_load_failed", err)
	}

	promExporter := metrics.NewPrometheusExporter("symphony_messenger")
	m, err := messenger.New(messenger.Options{Config: cfg, Log: log, Prometheus: promExporter})
	if err != nil {
		fatal("messenger_init_failed", err)
	}

	closers, err := registerTransports(m, cfg)
	if err != nil {
		fatal("transport_registration_failed", err)
	}
	defer closeAll(closers)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for name, tc := range cfg.Transports {
		if tc.Queue == "" {
			continue
		}
		if err := m.StartWorker(ctx, name, worker.Options{Queue: tc.Queue, Concurrency: *concurrency, Log: toWorkerLogger(log)}); err != nil {
			fatal("start_worker_failed", err)
		}
	}

	go func() {
		if err := m.RunScheduler(ctx, time.Second); err != nil && ctx.Err() == nil {
			log("error", "scheduler_stopped", map[string]any{"error": err.Error()})
		}
	}()

	srv := newAdminServer(*addr, m)
	go func() {
		log("info", "admin_api_listening", map[string]any{"addr": *addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log("error", "admin_api_failed", map[string]any{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	log("info", "shutting_down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	for name := range cfg.Transports {
		_ = m.StopWorker(shutdownCtx, name)
	}
}

// registerTransports builds and registers a transport.Transport for
// every entry in cfg.Transports, dispatching on its Type. It returns
// the io.Closer-shaped durable backends so main can close them on exit.
func registerTransports(m *messenger.Messenger, cfg config.Config) ([]closer, error) {
	var closers []closer
	for name, tc := range cfg.Transports {
		switch tc.Type {
		case "sync":
			m.RegisterTransport(name, transport.NewSync())
		case "postgres":
			dsn, _ := tc.Options["dsn"].(string)
			if dsn == "" {
				return closers, fmt.Errorf("transport %q: options.dsn is required", name)
			}
			drv, err := postgres.Open(dsn, postgres.Options{})
			if err != nil {
				return closers, fmt.Errorf("transport %q: %w", name, err)
			}
			if err := drv.EnsureSchema(context.Background()); err != nil {
				return closers, fmt.Errorf("transport %q: %w", name, err)
			}
			m.RegisterTransport(name, transport.NewDurable(name, drv))
			closers = append(closers, drv)
		case "sqlite":
			path, _ := tc.Options["path"].(string)
			if path == "" {
				path = "./" + name + ".db"
			}
			drv, err := sqlite.Open(path, sqlite.Options{})
			if err != nil {
				return closers, fmt.Errorf("transport %q: %w", name, err)
			}
			if err := drv.EnsureSchema(context.Background()); err != nil {
				return closers, fmt.Errorf("transport %q: %w", name, err)
			}
			m.RegisterTransport(name, transport.NewDurable(name, drv))
			closers = append(closers, drv)
		default:
			return closers, fmt.Errorf("transport %q: unknown type %q", name, tc.Type)
		}
	}
	return closers, nil
}

type closer interface{ Close() error }

func closeAll(cs []closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

func toWorkerLogger(log messenger.LoggerFn) worker.LoggerFn {
	return worker.LoggerFn(log)
}

func stdLogger(level, msg string, fields map[string]any) {
	ts := time.Now().UTC().Format(time.RFC3339)
	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintf(os.Stdout, "%s %s %s%s\n", ts, strings.ToUpper(level), msg, b.String())
}

func fatal(msg string, err error) {
	stdLogger("error", msg, map[string]any{"error": err.Error()})
	os.Exit(1)
}
