package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinyclue/duocapture/internal/conf"
	duoerrors "github.com/tinyclue/duocapture/internal/errors"
	"github.com/tinyclue/duocapture/internal/logging"
	"github.com/tinyclue/duocapture/internal/pipeline"
	"github.com/tinyclue/duocapture/internal/telemetry"
)

// runRealtime builds the pipeline, optionally starts the telemetry
// endpoint and Sentry reporter, runs until SIGINT/SIGTERM, and exits with
// the §6 process exit code.
func runRealtime(settings *conf.Settings) error {
	if settings.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: settings.Sentry.DSN}); err != nil {
			logging.Warn("duocapture: sentry init failed, continuing without telemetry", "error", err)
		} else {
			duoerrors.SetTelemetryReporter(duoerrors.NewSentryReporter(true))
			defer sentry.Flush(2 * time.Second)
		}
	}

	p, err := pipeline.New(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "duocapture: initialization failed: %v\n", err)
		os.Exit(2)
	}

	if settings.Telemetry.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		pool, bufferMgr, monitor, storageMgr := p.Telemetry()
		registry.MustRegister(telemetry.NewCollector(pool, bufferMgr, monitor, storageMgr))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: settings.Telemetry.Listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("duocapture: telemetry endpoint failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := p.Run(ctx)
	os.Exit(code)
	return nil
}
