package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/state"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/store"
)

// resumable reports whether inst was taken down while connected by a
// process shutdown.
func (c *Controller) resumable(ctx context.Context, inst *store.Instance) bool {
	if inst.Status != state.StateDisconnected {
		return false
	}
	last, err := c.store.LastTransition(ctx, inst.ID)
	if err != nil {
		return false
	}
	return last.Trigger == string(state.TriggerShutdown) && last.FromState == state.StateConnected
}

// ResumeSessions recreates, with stored credentials, every session that was
// connected when the previous process shut down. Sessions disconnected by a
// caller or the device stay down. It returns how many were recreated.
func (c *Controller) ResumeSessions(ctx context.Context) (int, error) {
	instances, err := c.store.ListInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list instances: %w", err)
	}

	pool, err := ants.NewPool(c.cfg.ShutdownWorkers)
	if err != nil {
		return 0, fmt.Errorf("failed to create resume pool: %w", err)
	}
	defer pool.Release()

	var (
		wg      sync.WaitGroup
		resumed atomic.Int32
	)
	for i := range instances {
		inst := &instances[i]
		if !c.resumable(ctx, inst) {
			continue
		}
		id := device.Identity{TenantID: inst.TenantID, SessionName: inst.SessionName}

		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := c.CreateSession(ctx, id, CreateOptions{}); err != nil {
				c.log.Warn("failed to resume session", "session", id.String(), "error", err)
				return
			}
			resumed.Add(1)
			c.log.Info("session resumed", "session", id.String())
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			c.log.Error("failed to submit resume task", "session", id.String(), "error", err)
		}
	}
	wg.Wait()
	return int(resumed.Load()), nil
}
