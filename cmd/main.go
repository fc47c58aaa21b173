// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/absmach/dgate"
	"github.com/absmach/dgate/pkg/breaker"
	"github.com/absmach/dgate/pkg/broker"
	"github.com/absmach/dgate/pkg/engine"
	"github.com/absmach/dgate/pkg/health"
	"github.com/absmach/dgate/pkg/metrics"
	"github.com/absmach/dgate/pkg/platform"
	natsplatform "github.com/absmach/dgate/pkg/platform/nats"
	"github.com/absmach/dgate/pkg/platform/snapshot"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const (
	svcName     = "dgate"
	engineCheck = "engine"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := dgate.NewConfig(env.Options{})
	if err != nil {
		log.Fatalf("failed to load %s configuration: %s", svcName, err)
	}

	logger, err := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to create logger: %s", err)
	}
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error(fmt.Sprintf("%s service terminated with error: %s", svcName, err))
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("%s service stopped", svcName))
}

func run(cfg dgate.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(svcName, reg)
	checker := health.NewChecker(0)

	pub, err := broker.Connect(ctx, broker.Config{
		URL:      cfg.BrokerURL,
		ClientID: cfg.BrokerClientID,
		Username: cfg.BrokerUsername,
		Password: cfg.BrokerPassword,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer pub.Close()
	checker.Register("broker", pub.HealthCheck)

	notifier, source, closePlatform, err := newPlatform(cfg, m, checker, logger)
	if err != nil {
		return err
	}
	defer closePlatform()

	eng := engine.New(engine.Config{
		Defaults:        cfg.Options(),
		Host:            cfg.Host,
		TargetHost:      cfg.TargetHost,
		TargetPort:      cfg.TargetPort,
		WSPort:          cfg.WSPort,
		WSPath:          cfg.WSPath,
		TargetWSURL:     cfg.TargetWSURL,
		TLSConfig:       cfg.TLSConfig,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	}, platform.MetricsMiddleware(notifier, m), pub, m)
	checker.Register(engineCheck, eng.HealthCheck)

	ops := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.HTTPPort),
		Handler:           health.MakeHandler(checker, engineCheck, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		defer cancel()
		return eng.Run(ctx, source)
	})

	g.Go(func() error {
		return serveOps(ctx, ops, logger)
	})

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

// newPlatform returns the notifier and event source of the configured
// management plane and a function releasing its resources.
func newPlatform(cfg dgate.Config, m *metrics.Metrics, checker *health.Checker, logger *slog.Logger) (platform.Notifier, platform.Source, func(), error) {
	switch cfg.Platform {
	case dgate.PlatformNATS:
		conn, err := natsplatform.Connect(cfg.NATSURL, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		checker.Register("nats", natsplatform.HealthCheck(conn))

		cb := breaker.New(breaker.Config{Name: "nats"})
		cb.OnStateChange(func(name string, from, to breaker.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			if to == breaker.StateOpen {
				m.CircuitBreakerTrips.WithLabelValues(name).Inc()
			}
			logger.Warn("circuit breaker state changed",
				slog.String("backend", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		})

		notifier := natsplatform.NewNotifier(conn, cfg.NATSPrefix, cb)
		source := natsplatform.NewSource(conn, cfg.NATSPrefix, logger)
		return notifier, source, func() {
			if err := conn.Drain(); err != nil {
				logger.Warn("failed to drain NATS connection", slog.String("error", err.Error()))
			}
		}, nil
	default:
		return platform.NewLogNotifier(logger), snapshot.NewSource(cfg.DevicesFile, cfg.Options()), func() {}, nil
	}
}

func serveOps(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("operations server started", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("operations server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
