// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/events"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/localindex"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
)

// HTTPServer matches *http.Server's lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService adapts an HTTP server's blocking ListenAndServe to
// suture's context-driven Serve contract.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps the server. shutdownTimeout bounds how long
// in-flight requests get to drain on shutdown.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// The original context is already cancelled; shutdown needs its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }

// EventRelayService drains the save event bus and writes every event to
// the structured log, giving operators a durable trail of save
// completions, failures, quota warnings and sync conflicts even when no
// other subscriber is attached.
type EventRelayService struct {
	bus *events.Bus
}

// NewEventRelayService creates the relay over the given bus.
func NewEventRelayService(bus *events.Bus) *EventRelayService {
	return &EventRelayService{bus: bus}
}

// Serve implements suture.Service.
func (s *EventRelayService) Serve(ctx context.Context) error {
	stream, err := s.bus.Subscribe(ctx)
	if err != nil {
		// The bus only fails to subscribe once closed, which is terminal.
		return suture.ErrDoNotRestart
	}

	for {
		select {
		case e, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return suture.ErrDoNotRestart
			}
			s.log(e)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *EventRelayService) log(e events.Event) {
	entry := logging.Info()
	switch e.Kind {
	case events.KindSaveFailed, events.KindQuotaWarning, events.KindSyncConflict:
		entry = logging.Warn()
	}
	entry.
		Str("kind", string(e.Kind)).
		Str("event_id", e.EventID).
		Str("user_id", e.UserID).
		Int("slot", e.SlotNumber).
		Str("operation_id", e.OperationID).
		Str("error_code", e.ErrorCode).
		Msg("save event")
}

func (s *EventRelayService) String() string { return "event-relay" }

// IndexGCService periodically runs BadgerDB value-log garbage
// collection on the local index. Only wired when the service runs with
// an on-disk index.
type IndexGCService struct {
	index    *localindex.Index
	interval time.Duration
}

// NewIndexGCService creates the GC loop. interval defaults to 5 minutes.
func NewIndexGCService(index *localindex.Index, interval time.Duration) *IndexGCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &IndexGCService{index: index, interval: interval}
}

// Serve implements suture.Service.
func (s *IndexGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.index.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("local index GC failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *IndexGCService) String() string { return "index-gc" }
