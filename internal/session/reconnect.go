package session

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
)

// newBackoff builds the reconnect schedule: base delay, then each tier
// multiplied up to the max delay, for at most ReconnectMaxRetries attempts.
func (c *Controller) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectBaseDelay
	b.Multiplier = c.cfg.ReconnectMultiplier
	b.MaxInterval = c.cfg.ReconnectMaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.cfg.ReconnectMaxRetries))
}

func (c *Controller) resetBackoffLocked(e *entry) {
	e.reconnects = 0
}

// nextDelayLocked replays the schedule up to the tier after e.reconnects.
// It returns backoff.Stop once every tier is spent.
func (c *Controller) nextDelayLocked(e *entry) time.Duration {
	b := c.newBackoff()
	delay := backoff.Stop
	for i := 0; i <= e.reconnects; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// ScheduleReconnect releases any live handle of id and arms a reconnect,
// replacing a pending one. A replaced timer that never fired does not use up
// its tier, so only failed attempts move to the longer delays. It reports
// false when the retry budget is spent, leaving the session in Error.
func (c *Controller) ScheduleReconnect(id device.Identity) bool {
	if err := id.Validate(); err != nil || c.closed.Load() {
		return false
	}

	e := c.registry.entry(id)
	e.op.Lock()
	defer e.op.Unlock()

	if _, live := c.registry.Lookup(id); live {
		c.teardownLocked(id, e)
		c.applyLocked(c.ctx, id, e, state.TriggerDisconnect, transitionOpts{clearQR: true})
	}
	if c.registry.ClearTimer(id) && e.reconnects > 0 {
		e.reconnects--
	}
	return c.scheduleLocked(id, e)
}

func (c *Controller) scheduleLocked(id device.Identity, e *entry) bool {
	log := c.log.With("session", id.String())
	if c.closed.Load() {
		return false
	}

	delay := c.nextDelayLocked(e)
	if delay == backoff.Stop {
		log.Error("reconnect attempts exhausted", "attempts", e.reconnects)
		c.metrics.ReconnectExhausted()
		c.applyLocked(c.ctx, id, e, state.TriggerFail, transitionOpts{clearQR: true})
		return false
	}

	e.reconnects++
	tier := e.reconnects
	c.registry.SetTimer(id, delay, func(seq uint64) { c.fireReconnect(id, seq, tier) })
	c.metrics.ReconnectScheduled(tier)
	log.Info("reconnect scheduled", "delay", delay, "attempt", tier)
	return true
}

func (c *Controller) fireReconnect(id device.Identity, seq uint64, tier int) {
	log := c.log.With("session", id.String(), "attempt", tier)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during reconnect", "panic", r)
		}
	}()

	e := c.registry.entry(id)
	e.op.Lock()
	defer e.op.Unlock()

	if !c.registry.TakeTimer(id, seq) {
		log.Debug("reconnect superseded")
		return
	}
	if c.closed.Load() {
		return
	}

	log.Info("reconnecting")
	err := c.createLocked(c.ctx, id, e, CreateOptions{})
	if err == nil || errors.Is(err, ErrAlreadyActive) {
		return
	}
	log.Warn("reconnect attempt failed", "error", err)
	if errors.Is(err, ErrProviderCreateFailure) {
		c.scheduleLocked(id, e)
	}
}
