package coordinator

import (
	"context"
	"fmt"

	"github.com/quorlabs/quor/types"
)

// TriggerBackup schedules an immediate snapshot upload, regardless of the
// backup interval. The upload runs detached.
func (c *Coordinator) TriggerBackup(ctx context.Context) error {
	if c.backup == nil {
		return fmt.Errorf("no backup target configured")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleBackup(c.rec)
	return nil
}

// Restore replaces the whole chain record with a previously backed-up one.
// Refused once the chain has advanced past genesis unless forced. The
// caller is responsible for the anti-rollback cid check against the backup
// index.
func (c *Coordinator) Restore(ctx context.Context, rec *types.ChainRecord, force bool) error {
	if rec == nil || rec.World == nil {
		return fmt.Errorf("restore: empty chain record")
	}
	if uint64(len(rec.History)) != rec.World.LatestHeight+1 {
		return fmt.Errorf("restore: history has %d blocks, world is at height %d",
			len(rec.History), rec.World.LatestHeight)
	}
	err := c.atomically(func(current *types.ChainRecord) error {
		if current.World.LatestHeight > 0 && !force {
			return ErrAlreadyInitialized
		}
		current.World = rec.World
		current.Queue = rec.Queue
		current.History = rec.History
		current.Config = rec.Config
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("restored chain from snapshot", "height", rec.World.LatestHeight)
	return nil
}
