// Package realtime subscribes to the push channel and feeds remote
// changes into the sync engine between pull cycles. Notifications go
// through the exact resolution path a pull uses; the listener never
// writes to the store directly.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	internalapi "github.com/iudanet/hearthsync/internal/api"
	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/pkg/api"
)

//go:generate moq -out applier_mock.go . Applier

// Applier receives remote-origin records for resolution. Satisfied by
// *engine.Engine.
type Applier interface {
	ApplyRemote(ctx context.Context, remote *models.Entity) error
}

// Listener maintains a websocket subscription for the given entity
// types. Any pub/sub transport speaking the ChangeMessage format can
// stand behind the URL; the resolver and engine never know which.
type Listener struct {
	applier     Applier
	logger      *slog.Logger
	url         string
	entityTypes []string
}

// New creates a listener; url is the websocket endpoint of the change
// feed.
func New(wsURL string, entityTypes []string, applier Applier, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		url:         wsURL,
		entityTypes: entityTypes,
		applier:     applier,
		logger:      logger.With("component", "realtime"),
	}
}

// Run connects and consumes notifications until the context is
// canceled, reconnecting with exponential backoff after transport
// failures.
func (l *Listener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		if err := l.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := bo.NextBackOff()
			l.logger.Warn("realtime connection lost, reconnecting",
				"error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		bo.Reset()
	}
}

// consume runs one connection until it fails or the context ends.
func (l *Listener) consume(ctx context.Context) error {
	u, err := url.Parse(l.url)
	if err != nil {
		return fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	q.Set("types", strings.Join(l.entityTypes, ","))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("realtime dial failed: %w", err)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "listener shutting down")
	}()

	l.logger.Info("realtime channel connected", "types", l.entityTypes)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("realtime read failed: %w", err)
		}
		if err := l.handleMessage(ctx, data); err != nil {
			// A bad message must not kill the subscription; the next
			// pull cycle delivers the change anyway.
			l.logger.Warn("failed to handle realtime message", "error", err)
		}
	}
}

// handleMessage converts a notification into a remote record and hands
// it to the engine for resolution.
func (l *Listener) handleMessage(ctx context.Context, data []byte) error {
	var msg api.ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to decode change message: %w", err)
	}

	switch msg.Type {
	case api.ChangeInsert, api.ChangeUpdate, api.ChangeDelete:
	default:
		return fmt.Errorf("unknown change type %q", msg.Type)
	}

	remote := internalapi.FromWire(msg.Data)
	if remote.Type == "" {
		remote.Type = msg.EntityType
	}
	if msg.Type == api.ChangeDelete {
		remote.IsDeleted = true
	}

	l.logger.Debug("realtime change received",
		"type", msg.Type, "entity_type", remote.Type, "entity_id", remote.ID)
	return l.applier.ApplyRemote(ctx, remote)
}
