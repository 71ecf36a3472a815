// Package engine orchestrates sync cycles: pull remote deltas, resolve
// them against local state, apply the results, then push the queued
// local mutations. Only one cycle runs at a time; triggers arriving
// while a cycle is active coalesce into a single follow-up run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iudanet/hearthsync/internal/models"
	"github.com/iudanet/hearthsync/internal/queue"
	"github.com/iudanet/hearthsync/internal/resolver"
	"github.com/iudanet/hearthsync/internal/store"
)

//go:generate moq -out transport_mock.go . Transport

// Transport moves batches between this device and the remote authority.
// Pull and Push are the only operations in a cycle allowed to block on
// I/O; both must honor context cancellation.
type Transport interface {
	// Pull returns all remote changes for the type since the cursor,
	// together with the advanced cursor.
	Pull(ctx context.Context, entityType, cursor string) (cursor2 string, records []*models.Entity, err error)

	// Push transmits queued operations and returns per-operation
	// outcomes. A returned error means the whole batch went nowhere.
	Push(ctx context.Context, ops []*models.SyncOperation) ([]models.PushOutcome, error)
}

// State is the engine's cycle phase.
type State string

const (
	StateIdle      State = "idle"
	StatePulling   State = "pulling"
	StateResolving State = "resolving"
	StatePushing   State = "pushing"
	StateError     State = "error"
)

// Config assembles an Engine. Store, Cursors, Queue, Transport and
// EntityTypes are required.
type Config struct {
	Store     store.Store
	Cursors   store.CursorStore
	Queue     queue.Queue
	Resolver  *resolver.Resolver
	Transport Transport
	Logger    *slog.Logger

	// OnDisclosure receives conflict reports whose outcome must be
	// surfaced to the user. Optional.
	OnDisclosure func(models.ConflictReport)
	// OnRejected receives non-retryable server rejections. Optional.
	OnRejected func(*RejectedError)

	// EntityTypes lists the types this engine synchronizes.
	EntityTypes []string
	// DeviceID identifies this device's writes for echo suppression.
	DeviceID string
	// PushBatchSize bounds how many operations one cycle drains.
	PushBatchSize int
}

// Report summarizes one sync cycle.
type Report struct {
	Disclosures []models.ConflictReport

	Pulled   int // remote records received
	Applied  int // remote records applied without conflict
	Merged   int // remote records merged through the resolver
	Skipped  int // remote records already known (idempotent apply)
	Conflict int // resolutions with contested fields
	Pushed   int // operations transmitted
	Acked    int // operations confirmed and cleared
	Rejected int // operations permanently rejected
	Deferred int // operations rescheduled for a later cycle
}

// Engine runs the sync state machine.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	echo      *echoRegistry
	triggerCh chan struct{}

	cycleMu sync.Mutex // serializes cycles and realtime applies
	stateMu sync.RWMutex
	state   State
}

// New validates the configuration and creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Cursors == nil || cfg.Queue == nil || cfg.Transport == nil {
		return nil, fmt.Errorf("engine config is missing a required component")
	}
	if len(cfg.EntityTypes) == 0 {
		return nil, fmt.Errorf("engine config names no entity types")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolver.New(nil)
	}
	if cfg.PushBatchSize <= 0 {
		cfg.PushBatchSize = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "engine"),
		echo:      newEchoRegistry(0),
		triggerCh: make(chan struct{}, 1),
		state:     StateIdle,
	}, nil
}

// State returns the current cycle phase.
func (e *Engine) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Trigger requests a sync cycle without blocking. Requests arriving
// while a cycle is active coalesce into one follow-up run. Any signal
// source may call this: connectivity restoration, timers, app resume,
// manual refresh.
func (e *Engine) Trigger() {
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

// Run services triggers until the context is canceled. Cycle failures
// are contained: the engine enters the error state, waits out an
// exponential backoff, and retries. It never takes the process down.
func (e *Engine) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	var retry <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.triggerCh:
		case <-retry:
			retry = nil
		}

		report, err := e.SyncNow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := bo.NextBackOff()
			e.logger.Warn("sync cycle failed, backing off",
				"error", err, "retry_in", delay)
			retry = time.After(delay)
			continue
		}
		bo.Reset()
		e.logger.Info("sync cycle completed",
			"pulled", report.Pulled,
			"applied", report.Applied,
			"merged", report.Merged,
			"pushed", report.Pushed,
			"acked", report.Acked,
			"conflicts", report.Conflict)
	}
}

// ApplyRemote feeds a remote-origin record from the realtime channel
// through the same resolution path a pull cycle uses. Changes this
// device itself pushed are dropped by echo suppression. The cursor is
// never advanced here; the next pull re-delivers the change and the
// idempotent apply skips it.
func (e *Engine) ApplyRemote(ctx context.Context, remote *models.Entity) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if remote.LastModifiedBy == e.cfg.DeviceID && e.echo.contains(remote.ID, remote.Version) {
		e.logger.Debug("dropping echoed realtime change",
			"entity_id", remote.ID, "version", remote.Version)
		return nil
	}

	var report Report
	if err := e.applyRemoteRecord(ctx, remote, &report); err != nil {
		return fmt.Errorf("failed to apply realtime change: %w", err)
	}
	return nil
}
