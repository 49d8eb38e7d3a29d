package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// Status is the observable condition of a session: its persisted record
// joined with registry liveness.
type Status struct {
	TenantID         string      `json:"tenantId"`
	SessionName      string      `json:"sessionName"`
	InstanceID       string      `json:"instanceId,omitempty"`
	State            state.State `json:"status"`
	QRCode           string      `json:"qrCode,omitempty"`
	QRAttempt        int         `json:"qrAttempt,omitempty"`
	QRIssuedAt       *time.Time  `json:"qrIssuedAt,omitempty"`
	Phone            string      `json:"phone,omitempty"`
	Active           bool        `json:"active"`
	Connected        bool        `json:"connected"`
	ReconnectPending bool        `json:"reconnectPending"`
	UpdatedAt        time.Time   `json:"updatedAt,omitempty"`
}

// Ready reports whether messages can be sent on the session.
func (s *Status) Ready() bool {
	return s.Active && s.State == state.StateConnected
}

func (c *Controller) statusOf(id device.Identity, inst *store.Instance) Status {
	st := Status{TenantID: id.TenantID, SessionName: id.SessionName, State: state.StateInitializing}
	if inst != nil {
		st.InstanceID = inst.ID
		st.State = inst.Status
		st.QRCode = inst.QRCode
		st.QRAttempt = inst.QRAttempt
		st.QRIssuedAt = inst.QRIssuedAt
		st.Phone = inst.Phone
		st.UpdatedAt = inst.UpdatedAt
	}
	if h, ok := c.registry.Lookup(id); ok {
		st.Active = true
		st.Connected = h.IsConnected()
		if st.Phone == "" {
			st.Phone = h.Phone()
		}
	}
	st.ReconnectPending = c.registry.HasTimer(id)
	return st
}

// Status returns the current status of a session. It fails with
// ErrUnknownSession when neither a record nor a live handle exists.
func (c *Controller) Status(ctx context.Context, id device.Identity) (*Status, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	inst, err := c.store.GetInstance(ctx, id.TenantID, id.SessionName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	_, live := c.registry.Lookup(id)
	if inst == nil && !live {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	st := c.statusOf(id, inst)
	return &st, nil
}

// IsSessionReady reports whether the session is Connected with a live handle.
func (c *Controller) IsSessionReady(ctx context.Context, id device.Identity) bool {
	st, err := c.Status(ctx, id)
	return err == nil && st.Ready()
}

// SessionPhone returns the phone number of the logged-in account, if known.
func (c *Controller) SessionPhone(ctx context.Context, id device.Identity) string {
	st, err := c.Status(ctx, id)
	if err != nil {
		return ""
	}
	return st.Phone
}

// SessionsInfo lists the status of every known session, including live
// sessions without an instance record.
func (c *Controller) SessionsInfo(ctx context.Context) ([]Status, error) {
	instances, err := c.store.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	seen := make(map[device.Identity]bool, len(instances))
	out := make([]Status, 0, len(instances))
	for i := range instances {
		id := device.Identity{TenantID: instances[i].TenantID, SessionName: instances[i].SessionName}
		seen[id] = true
		out = append(out, c.statusOf(id, &instances[i]))
	}
	for _, id := range c.registry.ListActive() {
		if !seen[id] {
			out = append(out, c.statusOf(id, nil))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].SessionName < out[j].SessionName
	})
	return out, nil
}

// ActiveSessions lists identities with a live handle.
func (c *Controller) ActiveSessions() []device.Identity {
	return c.registry.ListActive()
}

// CheckConnections finds Connected sessions whose handle has silently lost
// its connection and treats them as disconnected. It returns how many were
// found.
func (c *Controller) CheckConnections(ctx context.Context) int {
	n := 0
	for _, id := range c.registry.ListActive() {
		e := c.registry.entry(id)
		e.op.Lock()
		h, live := c.registry.Lookup(id)
		if live && e.machine != nil && e.machine.MustState() == state.StateConnected && !h.IsConnected() {
			c.onDisconnectDetectedLocked(ctx, id, e, "watchdog")
			n++
		}
		e.op.Unlock()
	}
	return n
}

// SweepExpiredQR clears QR codes issued longer than ttl ago.
func (c *Controller) SweepExpiredQR(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := c.store.ClearExpiredQR(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired QR codes: %w", err)
	}
	if n > 0 {
		c.log.Info("cleared expired QR codes", "count", n)
	}
	return n, nil
}

// PruneHistory drops transition history older than retention.
func (c *Controller) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := c.store.PruneTransitions(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune transitions: %w", err)
	}
	return n, nil
}
