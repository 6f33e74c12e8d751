/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"duel-settlement-go/internal/common"
	"duel-settlement-go/internal/config"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// component is a background loop with the Start/Stop shape shared by the
// listener, confirmer, sweeper and mirror.
type component struct {
	name  string
	start func(ctx context.Context) error
	stop  func()
}

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zap.L().Info("Starting duel settlement server")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	components := []component{
		{
			name:  "sweeper",
			start: func(ctx context.Context) error { services.Sweeper.Start(ctx); return nil },
			stop:  services.Sweeper.Stop,
		},
	}
	if services.Gateway != nil {
		// The confirmer must be running before the listener starts notifying it.
		components = append(components,
			component{name: "confirmer", start: services.Confirmer.Start, stop: services.Confirmer.Stop},
			component{name: "listener", start: services.Listener.Start, stop: services.Listener.Stop},
		)
	}
	if services.Mirror != nil {
		components = append(components, component{
			name:  "mirror",
			start: func(ctx context.Context) error { services.Mirror.Start(ctx); return nil },
			stop:  services.Mirror.Stop,
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, c := range components {
		c := c
		if err := c.start(gctx); err != nil {
			zap.L().Fatal("Failed to start component", zap.String("component", c.name), zap.Error(err))
		}
		zap.L().Info("Component started", zap.String("component", c.name))
		g.Go(func() error {
			<-gctx.Done()
			c.stop()
			return nil
		})
	}

	if services.Gateway != nil {
		g.Go(func() error {
			resumed, err := services.Payouts.ResumeApproved(gctx, 100)
			if err != nil {
				zap.L().Error("Failed to resume approved payouts", zap.Error(err))
				return nil
			}
			zap.L().Info("Resumed approved payouts", zap.Int("count", resumed))
			return nil
		})
	}

	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           services.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.HTTP.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("Shutdown signal received, stopping HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	zap.L().Info("Press Ctrl+C to stop")
	if err := g.Wait(); err != nil {
		zap.L().Error("Server stopped with error", zap.Error(err))
		return
	}
	zap.L().Info("All components stopped gracefully")
}
