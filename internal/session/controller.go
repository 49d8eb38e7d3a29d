// Package session implements the lifecycle controller for tenant-scoped
// WhatsApp device sessions: creation, teardown, status handling, bounded
// reconnection and message dispatch.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/config"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/notify"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// CreateOptions controls CreateSession.
type CreateOptions struct {
	// FreshCredentials removes stored device credentials before creating,
	// so the session starts from a new QR scan.
	FreshCredentials bool
}

// Options are the collaborators of a Controller. Provider and Store are
// required; the rest default to no-ops.
type Options struct {
	Provider  device.Provider
	Store     Persistence
	Notifier  Notifier
	Evaluator Evaluator
	Metrics   Metrics
	Logger    *slog.Logger
}

// Controller owns every device session handle and drives its state.
type Controller struct {
	cfg       *config.Config
	registry  *Registry
	provider  device.Provider
	store     Persistence
	notifier  Notifier
	evaluator Evaluator
	metrics   Metrics
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	loops  sync.WaitGroup

	// activeMu orders active-session gauge updates across identities.
	activeMu sync.Mutex
}

// NewController creates a session controller.
func NewController(cfg *config.Config, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		cfg:       cfg,
		registry:  NewRegistry(cfg.CloseTimeout, log),
		provider:  opts.Provider,
		store:     opts.Store,
		notifier:  opts.Notifier,
		evaluator: opts.Evaluator,
		metrics:   opts.Metrics,
		log:       log.With("component", "session"),
		ctx:       ctx,
		cancel:    cancel,
	}
	if c.notifier == nil {
		c.notifier = noopNotifier{}
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	return c
}

// Registry exposes the session registry for diagnostics.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// CreateSession starts a device session for id. It fails with
// ErrAlreadyActive if a live handle is registered. Stale resources are
// cleaned up first and the cleanup grace interval is awaited before the
// provider is called. Provider failures leave the session in Error and are
// not retried.
func (c *Controller) CreateSession(ctx context.Context, id device.Identity, opts CreateOptions) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	if c.closed.Load() {
		return ErrShuttingDown
	}

	e := c.registry.entry(id)
	e.op.Lock()
	defer e.op.Unlock()

	// An explicit connect starts a new reconnect budget.
	c.resetBackoffLocked(e)
	return c.createLocked(ctx, id, e, opts)
}

func (c *Controller) createLocked(ctx context.Context, id device.Identity, e *entry, opts CreateOptions) error {
	if _, live := c.registry.Lookup(id); live {
		return fmt.Errorf("%w: %s", ErrAlreadyActive, id)
	}
	log := c.log.With("session", id.String())

	c.loadInstanceLocked(ctx, id, e)

	c.stopLoopLocked(e)
	if c.registry.ClearTimer(id) {
		log.Info("cancelled pending reconnect")
	}
	if opts.FreshCredentials {
		if err := c.provider.Purge(id); err != nil {
			log.Warn("failed to remove session artifacts", "error", err)
		}
	}

	if err := sleepCtx(ctx, c.cfg.CleanupGrace); err != nil {
		return err
	}

	loop := newEventLoop(c.cfg.EventBufferSize)
	createCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	handle, err := c.provider.Create(createCtx, id, loop)
	cancel()
	if err != nil {
		loop.stop()
		c.applyLocked(ctx, id, e, state.TriggerFail, transitionOpts{})
		log.Error("failed to create device session", "error", err)
		return fmt.Errorf("%w: %w", ErrProviderCreateFailure, err)
	}

	c.registry.Register(id, handle)
	e.loop = loop
	c.loops.Add(1)
	go c.runLoop(id, e, loop)

	c.applyLocked(ctx, id, e, state.TriggerCreate, transitionOpts{})
	c.updateActive()
	log.Info("device session created", "fresh_credentials", opts.FreshCredentials)
	return nil
}

// DestroySession closes the session's handle, cancels any pending
// reconnect, marks it Disconnected and clears the stored QR. It is
// idempotent and succeeds for sessions that never existed.
func (c *Controller) DestroySession(ctx context.Context, id device.Identity) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}

	e := c.registry.entry(id)
	e.op.Lock()
	defer e.op.Unlock()

	c.destroyLocked(ctx, id, e)
	return nil
}

func (c *Controller) destroyLocked(ctx context.Context, id device.Identity, e *entry) {
	c.loadInstanceLocked(ctx, id, e)
	c.teardownLocked(id, e)
	if c.registry.ClearTimer(id) {
		c.log.Info("cancelled pending reconnect", "session", id.String())
	}
	c.resetBackoffLocked(e)
	c.applyLocked(ctx, id, e, state.TriggerDisconnect, transitionOpts{clearQR: true})
}

// RestartSession destroys the session, waits the quiescence interval and
// creates it again with its stored credentials.
func (c *Controller) RestartSession(ctx context.Context, id device.Identity) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	if c.closed.Load() {
		return ErrShuttingDown
	}

	e := c.registry.entry(id)
	e.op.Lock()
	defer e.op.Unlock()

	c.destroyLocked(ctx, id, e)
	if err := sleepCtx(ctx, c.cfg.RestartQuiescence); err != nil {
		return err
	}
	return c.createLocked(ctx, id, e, CreateOptions{})
}

// ForceDestroySession destroys the session and removes its on-disk
// credentials, so the next create needs a new QR scan.
func (c *Controller) ForceDestroySession(ctx context.Context, id device.Identity) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}

	e := c.registry.entry(id)
	e.op.Lock()
	defer e.op.Unlock()

	c.destroyLocked(ctx, id, e)
	if err := c.provider.Purge(id); err != nil {
		return fmt.Errorf("failed to remove session artifacts: %w", err)
	}
	return nil
}

// RemoveSession force-destroys the session and deletes its instance record.
// This is the only terminal operation.
func (c *Controller) RemoveSession(ctx context.Context, id device.Identity) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}

	e := c.registry.entry(id)
	e.op.Lock()
	defer e.op.Unlock()

	c.destroyLocked(ctx, id, e)
	if err := c.provider.Purge(id); err != nil {
		c.log.Warn("failed to remove session artifacts", "session", id.String(), "error", err)
	}

	if e.instanceID == "" {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err := c.store.DeleteInstance(ctx, e.instanceID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	e.instanceID = ""
	e.machine = nil
	c.log.Info("session removed", "session", id.String())
	return nil
}

// Shutdown cancels every pending reconnect and closes all live handles in
// parallel, each bounded by the close timeout. Sessions are marked
// Disconnected with the shutdown trigger so ResumeSessions can find them.
// Handles still closing when ctx ends are abandoned.
func (c *Controller) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	pool, err := ants.NewPool(c.cfg.ShutdownWorkers)
	if err != nil {
		return fmt.Errorf("failed to create shutdown pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for id, e := range c.registry.snapshot() {
		e.op.Lock()
		c.registry.ClearTimer(id)
		c.stopLoopLocked(e)
		h := c.registry.Unregister(id)
		if h != nil {
			c.applyLocked(ctx, id, e, state.TriggerShutdown, transitionOpts{clearQR: true})
		}
		e.op.Unlock()

		if h == nil {
			continue
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := closeHandle(h, c.cfg.CloseTimeout); err != nil {
				c.log.Warn("failed to close handle on shutdown", "session", id.String(), "error", err)
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			c.log.Error("failed to submit close task", "session", id.String(), "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		c.loops.Wait()
		close(done)
	}()

	c.metrics.SessionsActive(0)
	select {
	case <-done:
		c.log.Info("all sessions closed")
		return nil
	case <-ctx.Done():
		c.log.Warn("shutdown deadline reached with sessions still closing")
		return ctx.Err()
	}
}

// teardownLocked stops the event loop and closes the live handle. The loop
// is stopped first so provider callbacks fired during close never block.
func (c *Controller) teardownLocked(id device.Identity, e *entry) {
	c.stopLoopLocked(e)
	if h := c.registry.Unregister(id); h != nil {
		if err := closeHandle(h, c.cfg.CloseTimeout); err != nil {
			c.log.Warn("failed to close device session", "session", id.String(), "error", err)
		}
		c.updateActive()
	}
}

func (c *Controller) stopLoopLocked(e *entry) {
	if e.loop != nil {
		e.loop.stop()
		e.loop = nil
	}
}

// loadInstanceLocked refreshes the instance id and seeds the state machine
// from the persisted state on first use.
func (c *Controller) loadInstanceLocked(ctx context.Context, id device.Identity, e *entry) *store.Instance {
	inst, err := c.store.GetInstance(ctx, id.TenantID, id.SessionName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.log.Warn("no instance record, state will not be persisted", "session", id.String())
		} else {
			c.log.Error("failed to load instance", "session", id.String(), "error", err)
		}
		return nil
	}
	e.instanceID = inst.ID
	if e.machine == nil {
		e.machine = c.newMachine(id, e, inst.Status)
	}
	return inst
}

func (c *Controller) machineLocked(id device.Identity, e *entry) *state.Machine {
	if e.machine == nil {
		e.machine = c.newMachine(id, e, state.StateInitializing)
	}
	return e.machine
}

func (c *Controller) newMachine(id device.Identity, e *entry, initial state.State) *state.Machine {
	m := state.NewMachine(initial)
	m.OnTransition(func(ctx context.Context, from, to state.State, trigger state.Trigger) {
		c.log.Info("state transition", "session", id.String(), "from", from, "to", to, "trigger", trigger)
		c.metrics.TransitionRecorded(to)

		if e.instanceID == "" {
			return
		}
		if err := c.store.LogTransition(ctx, e.instanceID, from, to, string(trigger)); err != nil {
			c.log.Error("failed to log transition", "session", id.String(), "error", err)
		}
	})
	return m
}

type transitionOpts struct {
	qr      *store.QRPayload
	clearQR bool
	phone   string
}

// applyLocked fires trigger on the identity's machine, persists the new
// state and broadcasts it. Triggers not permitted from the current state
// are dropped. It reports whether the transition happened.
func (c *Controller) applyLocked(ctx context.Context, id device.Identity, e *entry, trigger state.Trigger, opts transitionOpts) bool {
	ctx = context.WithoutCancel(ctx)
	m := c.machineLocked(id, e)

	if ok, err := m.CanFire(ctx, trigger); err != nil || !ok {
		c.log.Debug("transition ignored", "session", id.String(), "state", m.MustState(), "trigger", trigger)
		return false
	}
	if err := m.Fire(ctx, trigger); err != nil {
		c.log.Error("state transition failed", "session", id.String(), "trigger", trigger, "error", err)
		return false
	}
	to := m.MustState()

	if to == state.StateConnected {
		opts.clearQR = true
	}

	if e.instanceID != "" {
		u := store.InstanceUpdate{Status: to, QR: opts.qr, ClearQR: opts.clearQR, Phone: opts.phone}
		if err := c.store.UpdateInstanceStatus(ctx, e.instanceID, u); err != nil {
			c.log.Error("failed to persist state", "session", id.String(), "state", to, "error", err)
		}
	}

	payload := notify.StatusPayload{
		InstanceID:  e.instanceID,
		SessionName: id.SessionName,
		Status:      string(to),
		Phone:       opts.phone,
	}
	if opts.qr != nil {
		payload.QRCode = opts.qr.Data
	}
	c.notifier.Broadcast(id.TenantID, notify.EventWhatsAppStatus, payload)
	return true
}

// updateActive counts and publishes under activeMu, so the last update to
// run sees every registry change made before it.
func (c *Controller) updateActive() {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	c.metrics.SessionsActive(len(c.registry.ListActive()))
}

// sleepCtx waits d on a timer that ctx can cancel.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
