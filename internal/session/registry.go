package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
)

// entry is the registry slot of one identity. Entries are never removed, so
// a lock handed out for an identity stays the only lock for it.
type entry struct {
	// op serializes lifecycle operations for the identity.
	op sync.Mutex

	// Guarded by op.
	loop       *eventLoop
	machine    *state.Machine
	instanceID string

	// reconnects is the number of backoff tiers armed since the last
	// reset. A tier replaced before it fired is given back.
	reconnects int

	// Guarded by mu.
	mu       sync.Mutex
	handle   device.Handle
	timer    *time.Timer
	timerSeq uint64
	limiter  *rate.Limiter
}

// Registry maps session identities to their live handle and pending
// reconnect timer. It is the single authority on liveness.
type Registry struct {
	mu           sync.RWMutex
	entries      map[device.Identity]*entry
	closeTimeout time.Duration
	log          *slog.Logger
}

// NewRegistry creates an empty registry. Stale handles replaced by Register
// are closed with closeTimeout.
func NewRegistry(closeTimeout time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries:      make(map[device.Identity]*entry),
		closeTimeout: closeTimeout,
		log:          log.With("component", "registry"),
	}
}

func (r *Registry) entry(id device.Identity) *entry {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[id]; ok {
		return e
	}
	e = &entry{}
	r.entries[id] = e
	return e
}

func (r *Registry) peek(id device.Identity) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) snapshot() map[device.Identity]*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[device.Identity]*entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}

// Lock acquires the per-identity operation lock and returns its release.
func (r *Registry) Lock(id device.Identity) func() {
	e := r.entry(id)
	e.op.Lock()
	return e.op.Unlock
}

// Register installs h as the live handle for id. A different live handle
// already registered is a logic error: it is closed before being replaced.
func (r *Registry) Register(id device.Identity, h device.Handle) {
	e := r.entry(id)

	e.mu.Lock()
	stale := e.handle
	e.handle = h
	e.mu.Unlock()

	if stale != nil && stale != h {
		r.log.Error("registering over a live handle, closing stale handle", "session", id)
		if err := closeHandle(stale, r.closeTimeout); err != nil {
			r.log.Warn("failed to close stale handle", "session", id, "error", err)
		}
	}
}

// Lookup returns the live handle for id.
func (r *Registry) Lookup(id device.Identity) (device.Handle, bool) {
	e := r.peek(id)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle, e.handle != nil
}

// Unregister removes and returns the live handle for id, if any. The caller
// owns closing it.
func (r *Registry) Unregister(id device.Identity) device.Handle {
	e := r.peek(id)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := e.handle
	e.handle = nil
	return h
}

// ListActive returns identities with a live handle, sorted.
func (r *Registry) ListActive() []device.Identity {
	var ids []device.Identity
	for id, e := range r.snapshot() {
		e.mu.Lock()
		live := e.handle != nil
		e.mu.Unlock()
		if live {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].TenantID != ids[j].TenantID {
			return ids[i].TenantID < ids[j].TenantID
		}
		return ids[i].SessionName < ids[j].SessionName
	})
	return ids
}

// SetTimer arms the reconnect timer for id, stopping any pending one. fire
// receives the timer's sequence number, to be checked with TakeTimer.
func (r *Registry) SetTimer(id device.Identity, delay time.Duration, fire func(seq uint64)) uint64 {
	e := r.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerSeq++
	seq := e.timerSeq
	e.timer = time.AfterFunc(delay, func() { fire(seq) })
	return seq
}

// ClearTimer stops and forgets the pending timer. It reports whether one existed.
func (r *Registry) ClearTimer(id device.Identity) bool {
	e := r.peek(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer == nil {
		return false
	}
	e.timer.Stop()
	e.timer = nil
	e.timerSeq++
	return true
}

// HasTimer reports whether a reconnect timer is pending for id.
func (r *Registry) HasTimer(id device.Identity) bool {
	e := r.peek(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timer != nil
}

// TakeTimer claims a fired timer. It returns false when the timer was
// cancelled or replaced after it fired.
func (r *Registry) TakeTimer(id device.Identity, seq uint64) bool {
	e := r.peek(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer == nil || e.timerSeq != seq {
		return false
	}
	e.timer = nil
	return true
}

// PendingTimers counts identities with a pending reconnect timer.
func (r *Registry) PendingTimers() int {
	n := 0
	for _, e := range r.snapshot() {
		e.mu.Lock()
		if e.timer != nil {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// limiter returns the outbound rate limiter for id, creating it on first use.
func (r *Registry) limiter(id device.Identity, limit rate.Limit, burst int) *rate.Limiter {
	e := r.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limiter == nil {
		e.limiter = rate.NewLimiter(limit, burst)
	}
	return e.limiter
}

// closeHandle closes h, giving up after timeout if the provider hangs.
func closeHandle(h device.Handle, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.Close(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("close timed out after %s", timeout)
	}
}
