// Package supervisor owns one Miniserver connection's whole lifecycle:
// discovery, handshake, entity-graph construction, and the three
// long-running loops (keepalive, ingest, snapshot) that run for as long as
// the connection stays up (§7).
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/loxone-go/miniserverd/internal/config"
	"github.com/loxone-go/miniserverd/internal/discovery"
	"github.com/loxone-go/miniserverd/internal/handshake"
	"github.com/loxone-go/miniserverd/internal/model"
	"github.com/loxone-go/miniserverd/internal/snapshot"
	"github.com/loxone-go/miniserverd/internal/store"
	"github.com/loxone-go/miniserverd/internal/telemetry"
	"github.com/loxone-go/miniserverd/internal/wire"
)

// keepAliveInterval matches the 60s cadence the reference client holds a
// connection open with (§4.5).
const keepAliveInterval = 60 * time.Second

// Supervisor drives the discover -> handshake -> run cycle for one
// Miniserver, reconnecting on any abnormal close (§7).
type Supervisor struct {
	cfg   config.Miniserver
	store store.Store

	handshakeLatency *telemetry.LatencyStats
}

// New builds a Supervisor that persists through st.
func New(cfg config.Miniserver, st store.Store) *Supervisor {
	return &Supervisor{
		cfg:              cfg,
		store:            st,
		handshakeLatency: telemetry.NewLatencyStats("handshake"),
	}
}

// Stats reports this supervisor's handshake-latency statistics, useful for
// diagnostics dumps (§4.10).
func (s *Supervisor) Stats() string {
	return s.handshakeLatency.String()
}

// Run connects and serves until ctx is cancelled. A clean server-initiated
// close (code 1000) ends Run without error; any other disconnect reason is
// retried with a fixed backoff (§7).
func (s *Supervisor) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Second
	bo.MaxInterval = 20 * time.Second
	bo.Multiplier = 1 // fixed-delay reconnect, not exponential (§7)
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	for {
		err := s.runOnce(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if isCleanClose(err) {
			slog.Info("supervisor: connection closed cleanly, exiting")
			return nil
		}

		delay := bo.NextBackOff()
		slog.Error("supervisor: connection lost, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce performs one full discover -> handshake -> serve cycle. Every
// exit, including cancellation of ctx (reported as ctx's error), is
// returned as an error for Run to classify.
func (s *Supervisor) runOnce(ctx context.Context) error {
	disco := discovery.New(s.cfg.Hostname, 10*time.Second)

	info, err := disco.GetInfo(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: discover: %w", err)
	}

	publicKeyPEM, err := disco.GetPublicKey(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: fetch public key: %w", err)
	}

	hostname := info.EffectiveHostname(s.cfg.Hostname)
	url := fmt.Sprintf("%s://%s/ws/rfc6455", info.Scheme(), hostname)

	slog.Info("supervisor: dialling", "url", url)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("supervisor: dial: %w", err)
	}
	defer conn.Close()

	codec := wire.New(conn)

	handshakeStart := time.Now()
	result, err := handshake.Run(ctx, codec, publicKeyPEM, s.cfg.User, s.cfg.Password)
	s.handshakeLatency.Since(handshakeStart)
	if err != nil {
		return fmt.Errorf("supervisor: handshake: %w", err)
	}
	slog.Info("supervisor: handshake complete", "stats", s.handshakeLatency.String())

	var doc model.StructureDocument
	if err := json.Unmarshal(result.Structure, &doc); err != nil {
		return fmt.Errorf("supervisor: decode structure document: %w", err)
	}

	building, err := model.NewBuilding(doc)
	if err != nil {
		return fmt.Errorf("supervisor: build entity graph: %w", err)
	}
	slog.Debug("supervisor: entity graph built", "rooms", len(building.Rooms), "dump", spew.Sdump(building.Rooms))

	var mu sync.Mutex
	sched := snapshot.New(s.store, &mu, building)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runKeepAlive(gctx, codec) })
	g.Go(func() error { return runIngest(gctx, codec, &mu, building, sched) })
	g.Go(func() error { return sched.Run(gctx) })

	return g.Wait()
}

// runKeepAlive sends a keepalive frame every 60s until ctx is cancelled or
// sending fails (§4.5, §7).
func runKeepAlive(ctx context.Context, codec *wire.Codec) error {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := codec.SendKeepAlive(); err != nil {
				return fmt.Errorf("supervisor: keepalive: %w", err)
			}
			slog.Debug("supervisor: keepalive sent")
		}
	}
}

// runIngest reads frames off codec for as long as ctx is live, routing
// VALUE_STATES updates into building and notifying sched of every change
// (§4.6, §6). Any other message identifier is read and discarded.
func runIngest(ctx context.Context, codec *wire.Codec, mu *sync.Mutex, building *model.Building, sched *snapshot.Scheduler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		header, err := codec.ReadHeader()
		if err != nil {
			return fmt.Errorf("supervisor: read header: %w", err)
		}

		if header.Identifier == wire.Keepalive || header.Size == 0 {
			continue
		}

		if header.Identifier != wire.ValueStates {
			if _, err := codec.ReadText(); err != nil {
				return fmt.Errorf("supervisor: drain unsupported message: %w", err)
			}
			continue
		}

		updates, err := codec.ReadValueStates(header)
		if err != nil {
			return fmt.Errorf("supervisor: read value states: %w", err)
		}

		for _, u := range updates {
			mu.Lock()
			change := building.ApplyUpdate(u.ID, u.Value)
			mu.Unlock()

			if err := sched.OnUpdate(ctx, change); err != nil {
				return fmt.Errorf("supervisor: persist snapshot: %w", err)
			}
		}
	}
}

// isCleanClose reports whether err is a *websocket.CloseError reporting the
// normal-closure code, the only disconnect reason that should not trigger a
// reconnect (§7).
func isCleanClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure
	}
	return false
}
