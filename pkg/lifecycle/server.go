/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package lifecycle drives the long-running footnote commands (join-listen,
// replicate-listen, share-listen) through a common start/signal/stop shape.
// There is no RPC server here: the transport each listener binds to is a
// black-box bidirectional stream, not something this package owns.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/footnote/pkg/logger"
)

const ShutdownTimeout = 10 * time.Second

// Service defines the interface that all long-running listener commands
// must implement. Start may return nil on its own once the command's work is
// naturally finished (join-listen, after one successful pairing attempt) or
// it may block serving indefinitely until ctx is cancelled (replicate-listen
// / share-listen, accepting sync sessions in a loop); either shape drives
// cleanly through RunServer.
type Service interface {
	Start(context.Context) error
	Stop(context.Context) error
}

// ServerOptions holds configuration for driving a Service through RunServer.
type ServerOptions struct {
	ServiceName  string
	Service      Service
	LoggerConfig *logger.Config
	Logger       logger.Logger // Optional: if provided, uses this logger instead of creating a new one
}

var (
	errShutdownTimeout = errors.New("timeout shutting down")
	errServiceStop     = errors.New("service stop failed")
)

// RunServer starts a service with the provided options and handles its
// signal-driven shutdown lifecycle.
func RunServer(ctx context.Context, opts *ServerOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var log logger.Logger

	if opts.Logger == nil {
		createdLogger, err := CreateComponentLogger(ctx, opts.ServiceName, opts.LoggerConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		log = createdLogger

		defer func() {
			if err := ShutdownLogger(); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown logger")
			}
		}()
	} else {
		log = opts.Logger
	}

	done := make(chan error, 1)

	go func() {
		log.Info().Str("service", opts.ServiceName).Msg("Starting service")
		done <- opts.Service.Start(ctx)
	}()

	return handleShutdown(ctx, cancel, opts.Service, done, log)
}

// handleShutdown waits for whichever comes first: a termination signal, the
// service finishing Start on its own, or ctx being cancelled by the caller
// (e.g. the CLI's own signal-bound context). A signal or an external ctx
// cancellation both drive the same graceful Stop; a Service that finishes
// Start by itself needs no further stop call.
func handleShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	svc Service,
	done chan error,
	log logger.Logger,
) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, initiating shutdown")
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("service exited with error")

			return fmt.Errorf("service start failed: %w", err)
		}

		log.Info().Msg("service finished")

		return nil
	case <-ctx.Done():
		log.Info().Msg("context canceled, initiating shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	cancel()

	stopErr := make(chan error, 1)

	go func() {
		stopErr <- svc.Stop(shutdownCtx)
	}()

	select {
	case <-shutdownCtx.Done():
		log.Error().Msg("shutdown timed out")

		return fmt.Errorf("%w: %w", errShutdownTimeout, shutdownCtx.Err())
	case err := <-stopErr:
		if err != nil {
			return fmt.Errorf("%w: %w", errServiceStop, err)
		}

		return nil
	}
}
