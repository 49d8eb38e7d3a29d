package session

import (
	"context"
	"sync"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// eventLoop queues device events of one handle and hands them to the
// controller in order. It is the device.Sink given to the provider. Once
// stopped it drops everything, so callbacks from a closed handle cannot
// affect a newer session of the same identity.
type eventLoop struct {
	events chan device.Event
	done   chan struct{}
	once   sync.Once
}

func newEventLoop(size int) *eventLoop {
	if size <= 0 {
		size = 1
	}
	return &eventLoop{
		events: make(chan device.Event, size),
		done:   make(chan struct{}),
	}
}

// Emit implements device.Sink. It blocks while the buffer is full.
func (l *eventLoop) Emit(evt device.Event) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.events <- evt:
	case <-l.done:
	}
}

func (l *eventLoop) stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *eventLoop) stopped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (c *Controller) runLoop(id device.Identity, e *entry, l *eventLoop) {
	defer c.loops.Done()
	for {
		select {
		case <-l.done:
			return
		case evt := <-l.events:
			c.handleEvent(id, e, l, evt)
		}
	}
}

func (c *Controller) handleEvent(id device.Identity, e *entry, l *eventLoop, evt device.Event) {
	log := c.log.With("session", id.String(), "event", evt.Type.String())
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling device event", "panic", r)
		}
	}()
	ctx := c.ctx

	if evt.Type == device.EventMessage {
		p, ok := evt.Payload.(device.MessagePayload)
		if !ok {
			log.Error("invalid event payload")
			return
		}
		if err := c.Receive(ctx, id, p); err != nil {
			log.Error("failed to handle inbound message", "error", err)
		}
		return
	}

	e.op.Lock()
	defer e.op.Unlock()

	if e.loop != l || l.stopped() {
		log.Debug("dropping event from closed device session")
		return
	}

	switch p := evt.Payload.(type) {
	case device.QRCodePayload:
		qr := &store.QRPayload{Data: p.Data, IssuedAt: evt.Timestamp, Attempt: p.Attempt}
		c.applyLocked(ctx, id, e, state.TriggerQRIssued, transitionOpts{qr: qr})
	case device.StatusPayload:
		c.onStatusLocked(ctx, id, e, p.Status)
	case device.StateChangePayload:
		if state.IsDisconnectState(p.State) {
			c.onDisconnectDetectedLocked(ctx, id, e, p.State)
			return
		}
		log.Debug("device state change", "state", p.State)
	default:
		log.Warn("unhandled device event")
	}
}

// onStatusLocked applies a raw provider status code.
func (c *Controller) onStatusLocked(ctx context.Context, id device.Identity, e *entry, raw string) {
	log := c.log.With("session", id.String())
	tr := state.Translate(raw)
	if !tr.Known {
		log.Warn("unrecognized device status", "status", raw)
	}

	var opts transitionOpts
	switch tr.State {
	case state.StateConnected:
		if h, ok := c.registry.Lookup(id); ok {
			opts.phone = h.Phone()
		}
		c.resetBackoffLocked(e)
	case state.StateDisconnected:
		opts.clearQR = true
	}
	c.applyLocked(ctx, id, e, state.TriggerFor(tr.State), opts)

	switch {
	case tr.Reconnect:
		log.Warn("device session closed before login", "error", ErrTimeoutAutoClose)
		c.teardownLocked(id, e)
		if !c.registry.HasTimer(id) {
			c.scheduleLocked(id, e)
		}
	case tr.State == state.StateDisconnected || tr.State == state.StateError:
		// Terminal statuses release the handle but are not retried.
		c.teardownLocked(id, e)
	}
}

// onDisconnectDetectedLocked handles an unexpected loss of the device
// session: mark it Disconnected, release the handle and schedule a
// reconnect unless one is already pending.
func (c *Controller) onDisconnectDetectedLocked(ctx context.Context, id device.Identity, e *entry, reason string) {
	c.log.Warn("device session lost", "session", id.String(), "reason", reason, "error", ErrProviderTransientDisconnect)
	c.applyLocked(ctx, id, e, state.TriggerDisconnect, transitionOpts{clearQR: true})
	c.teardownLocked(id, e)

	if c.registry.HasTimer(id) {
		c.log.Debug("reconnect already pending", "session", id.String())
		return
	}
	c.scheduleLocked(id, e)
}
