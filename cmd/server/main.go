// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package main is the entry point for the cloud save gateway.
//
// The gateway persists player save files for Sawyer's RPG: integrity
// validation with checksum recovery, chunked compression, per-slot
// conflict-aware sync, and per-user storage quotas, served over a
// JWT-authenticated REST API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, environment (Koanf v2)
//  2. Storage: BadgerDB local index, or in-memory stores when no path
//     is configured
//  3. Compression codec and integrity validator
//  4. Event bus: in-process pub/sub for save lifecycle events
//  5. Gateway service: the save/load/sync/delete pipeline
//  6. HTTP server: chi router with JWT auth, rate limits, and metrics
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (JWT_SECRET, HTTP_PORT, LOCAL_INDEX_PATH, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (10s timeout)
//   - Closes the event bus and local index
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/api"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/compress"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/config"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/events"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/gateway"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/identity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/integrity"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/localindex"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/remote"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Logging.ToLogging())
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("max_slots", cfg.CloudSave.MaxSlots).
		Str("compression", string(cfg.Compression.Algorithm)).
		Msg("Starting cloud save gateway")

	// Storage: BadgerDB local index when a path is configured, otherwise
	// in-memory stores. Memory mode loses saves on restart and is meant
	// for development only.
	var (
		docs  remote.DocumentStore
		blobs remote.BlobStore
		index *localindex.Index
	)
	if cfg.LocalIndex.Path != "" || cfg.LocalIndex.InMemory {
		index, err = localindex.Open(cfg.LocalIndex)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.LocalIndex.Path).Msg("Failed to open local index")
		}
		defer func() {
			if err := index.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing local index")
			}
		}()
		docs = index.Documents()
		blobs = index.Blobs()
		logging.Info().Str("path", cfg.LocalIndex.Path).Msg("Local index opened")
	} else {
		docs = remote.NewMemoryDocumentStore()
		blobs = remote.NewMemoryBlobStore()
		logging.Warn().Msg("No local index path configured, saves are held in memory only")
	}

	codec, err := compress.NewCodec(cfg.Compression)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build compression codec")
	}

	// The item catalog is an injected capability; without one, inventory
	// item IDs are accepted as-is.
	validator := integrity.NewValidator(cfg.Integrity, nil)

	bus := events.NewBus(cfg.Events)
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	svc, err := gateway.NewService(cfg.CloudSave, gateway.Deps{
		Docs:      docs,
		Blobs:     blobs,
		Codec:     codec,
		Validator: validator,
		Bus:       bus,
		Retry:     cfg.Retry,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build gateway service")
	}

	// Development tolerates a missing JWT_SECRET by minting an ephemeral
	// signing key; production refuses to start (enforced in config).
	secret := cfg.Security.JWTSecret
	if secret == "" && cfg.Server.Environment != "production" {
		secret = strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
		logging.Warn().Msg("JWT_SECRET is not set, tokens are signed with an ephemeral key and expire on restart")
	}
	idm, err := identity.NewManager(secret, cfg.Security.SessionTimeout)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token manager")
	}

	mw := api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
	})
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	router := api.NewRouter(api.NewHandler(svc), mw, idm)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEventService(supervisor.NewEventRelayService(bus))
	if index != nil {
		tree.AddStorageService(supervisor.NewIndexGCService(index, 0))
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svcReport := range unstopped {
		logging.Warn().Str("service", svcReport.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Gateway stopped gracefully")
}
