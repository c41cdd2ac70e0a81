// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Command streamsync runs the long-lived firehose ingest pipeline:
// FirehoseClient reads the upstream commit stream and hands each frame to
// OperationsDispatcher, which classifies, routes, and durably persists
// records to the JSON cache. It runs until an orchestrator sends SIGINT
// or SIGTERM, or until a cursor persistence failure forces a non-zero
// exit so the orchestrator restarts it, per spec.md §7.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/config"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/inject"
	"github.com/METResearchGroup/bluesky-research-sub004/internal/stream/util/stopper"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Error("streamsync: exiting")
		os.Exit(1)
	}
}

func run() error {
	cfg := &config.Config{}
	cfg.Bind(pflag.CommandLine)

	metricsAddr := pflag.String("metricsAddr", ":9090", "address to serve Prometheus metrics on")
	pflag.Parse()

	if err := cfg.Preflight(); err != nil {
		return err
	}

	ctx := stopper.WithContext(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("streamsync: shutdown signal received")
		ctx.Stop(30 * time.Second)
	}()

	app, cleanup, err := inject.InitializeStreamApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
	ctx.Go(func() error {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	go func() {
		<-ctx.Stopping()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := app.Registry.Start(ctx); err != nil {
		return err
	}

	log.WithField("relayHost", cfg.RelayHost).Info("streamsync: starting firehose client")
	if err := app.Firehose.Run(ctx); err != nil && err != context.Canceled {
		ctx.Stop(30 * time.Second)
		ctx.Wait()
		return err
	}

	return ctx.Wait()
}
