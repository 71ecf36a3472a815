// Package core assembles the sync subsystem into one explicitly
// constructed object with a defined lifecycle: build at process start,
// mutate and read while running, close at shutdown. There are no
// package-level singletons; hosts hold the Core and pass it where
// needed.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	transport "github.com/iudanet/hearthsync/internal/api"
	"github.com/iudanet/hearthsync/internal/engine"
	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/queue"
	queuebolt "github.com/iudanet/hearthsync/internal/queue/boltdb"
	"github.com/iudanet/hearthsync/internal/realtime"
	"github.com/iudanet/hearthsync/internal/resolver"
	"github.com/iudanet/hearthsync/internal/store"
	storebolt "github.com/iudanet/hearthsync/internal/store/boltdb"
)

// Config assembles a Core.
type Config struct {
	Logger *slog.Logger

	// ServerURL is the base URL of the remote sync authority.
	ServerURL string
	// RealtimeURL is the websocket change feed; empty disables the
	// realtime listener and leaves pull cycles as the only inflow.
	RealtimeURL string
	// StorePath and QueuePath are the bbolt database files.
	StorePath string
	QueuePath string

	// Policies keys conflict resolution by entity type; nil uses the
	// built-in family policies.
	Policies *resolver.Registry
	// EntityTypes lists the synchronized types; empty defaults to the
	// built-in task and event types.
	EntityTypes []string

	// OnDisclosure and OnRejected bubble the only two error classes
	// that cross the subsystem boundary.
	OnDisclosure func(models.ConflictReport)
	OnRejected   func(*engine.RejectedError)

	// SyncInterval triggers periodic cycles from Run; zero disables
	// the timer (external triggers only).
	SyncInterval time.Duration

	PushBatchSize int
}

// Core owns the local store, sync queue, engine and realtime listener.
type Core struct {
	store    *storebolt.Store
	queue    *queuebolt.Queue
	engine   *engine.Engine
	listener *realtime.Listener
	logger   *slog.Logger

	deviceID     string
	entityTypes  []string
	syncInterval time.Duration
}

// New opens the durable state and wires all components.
func New(ctx context.Context, cfg Config) (*Core, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("core config requires a server URL")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	entityTypes := cfg.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = []string{models.EntityTypeTask, models.EntityTypeEvent}
	}

	st, err := storebolt.New(ctx, cfg.StorePath, storebolt.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	q, err := queuebolt.New(ctx, cfg.QueuePath, queuebolt.DefaultConfig())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open sync queue: %w", err)
	}

	deviceID, err := st.DeviceID(ctx)
	if err != nil {
		q.Close()
		st.Close()
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		Store:         st,
		Cursors:       st,
		Queue:         q,
		Resolver:      resolver.New(cfg.Policies),
		Transport:     transport.NewClient(cfg.ServerURL),
		Logger:        logger,
		OnDisclosure:  cfg.OnDisclosure,
		OnRejected:    cfg.OnRejected,
		EntityTypes:   entityTypes,
		DeviceID:      deviceID,
		PushBatchSize: cfg.PushBatchSize,
	})
	if err != nil {
		q.Close()
		st.Close()
		return nil, err
	}

	c := &Core{
		store:        st,
		queue:        q,
		engine:       eng,
		logger:       logger.With("component", "core"),
		deviceID:     deviceID,
		entityTypes:  entityTypes,
		syncInterval: cfg.SyncInterval,
	}
	if cfg.RealtimeURL != "" {
		c.listener = realtime.New(cfg.RealtimeURL, entityTypes, eng, logger)
	}
	return c, nil
}

// DeviceID returns this installation's stable actor id.
func (c *Core) DeviceID() string { return c.deviceID }

// Store exposes the read API. Writers must go through Mutate and Delete
// so every change lands in the sync queue.
func (c *Core) Store() store.Store { return c.store }

// Events returns the committed-write bus for read-side consumers.
func (c *Core) Events() *store.Bus { return c.store.Events() }

// Mutate commits a local change optimistically and records the intent
// in the sync queue. A missing id means a create and is assigned here.
func (c *Core) Mutate(ctx context.Context, e *models.Entity) (*models.Entity, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("entity type is required")
	}

	local := e.Clone()
	if local.ID == "" {
		local.ID = uuid.New().String()
	}
	local.UpdatedAt = time.Now()
	local.LastModifiedBy = c.deviceID

	stored, err := c.store.Put(ctx, local, models.OriginLocal)
	if err != nil {
		return nil, fmt.Errorf("failed to commit mutation: %w", err)
	}
	if err := c.queue.Enqueue(ctx, queue.OperationForEntity(stored)); err != nil {
		return nil, fmt.Errorf("failed to queue mutation: %w", err)
	}
	return stored, nil
}

// Delete tombstones a record locally and queues the deletion.
func (c *Core) Delete(ctx context.Context, entityType, id string) error {
	tombstone, err := c.store.Delete(ctx, entityType, id, c.deviceID)
	if err != nil {
		return fmt.Errorf("failed to tombstone record: %w", err)
	}
	if err := c.queue.Enqueue(ctx, queue.OperationForEntity(tombstone)); err != nil {
		return fmt.Errorf("failed to queue deletion: %w", err)
	}
	return nil
}

// Sync runs one full cycle synchronously.
func (c *Core) Sync(ctx context.Context) (*engine.Report, error) {
	return c.engine.SyncNow(ctx)
}

// Trigger requests an asynchronous sync cycle.
func (c *Core) Trigger() { c.engine.Trigger() }

// Run services sync triggers, the optional periodic timer and the
// realtime listener until the context is canceled.
func (c *Core) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	go func() { errCh <- c.engine.Run(ctx) }()
	if c.listener != nil {
		go func() { errCh <- c.listener.Run(ctx) }()
	}
	if c.syncInterval > 0 {
		go func() {
			ticker := time.NewTicker(c.syncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-ticker.C:
					c.engine.Trigger()
				}
			}
		}()
	}

	// Kick off an initial cycle so a fresh start converges promptly.
	c.engine.Trigger()

	err := <-errCh
	cancel()
	return err
}

// Status describes the subsystem for inspection surfaces.
type Status struct {
	Cursors     map[string]string
	EngineState engine.State
	DeviceID    string
	Pending     int
	DeadLetters int
}

// Status reports queue depth, engine state and per-type cursors.
func (c *Core) Status(ctx context.Context) (*Status, error) {
	pending, dead, err := c.queue.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	cursors := make(map[string]string, len(c.entityTypes))
	for _, entityType := range c.entityTypes {
		cursor, err := c.store.GetCursor(ctx, entityType)
		if err != nil {
			cursor = ""
		}
		cursors[entityType] = cursor
	}

	return &Status{
		Cursors:     cursors,
		EngineState: c.engine.State(),
		DeviceID:    c.deviceID,
		Pending:     pending,
		DeadLetters: dead,
	}, nil
}

// DeadLetters lists permanently failed operations for inspection.
func (c *Core) DeadLetters(ctx context.Context) ([]*models.SyncOperation, error) {
	return c.queue.DeadLetters(ctx)
}

// Close releases the durable state. Callers should cancel Run first so
// an in-flight cycle aborts cleanly; queue writes are append/ack only,
// so a cycle cut short never corrupts the queue.
func (c *Core) Close() error {
	var firstErr error
	if err := c.queue.Close(); err != nil {
		firstErr = err
	}
	if err := c.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
