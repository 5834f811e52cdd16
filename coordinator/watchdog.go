package coordinator

import (
	"errors"
	"time"

	"github.com/quorlabs/quor/types"
)

func isErr(err, target error) bool { return errors.Is(err, target) }

func (c *Coordinator) watchdogTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.rec.Config.WatchdogTimeout
	if d <= 0 {
		d = time.Minute
	}
	return d
}

// armWatchdog (re)starts the single-shot round timer.
func (c *Coordinator) armWatchdog(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return
	default:
	}
	if c.watchdog != nil {
		c.watchdog.Stop()
	}
	c.watchdog = time.AfterFunc(d, c.watchdogFired)
}

// disarmWatchdog cancels the round timer after a commit or an explicit
// release.
func (c *Coordinator) disarmWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

// watchdogFired is the last-resort safety net for a round whose proposer
// never came back: it clears the lock so a later trigger can retry, takes
// the opportunity to keep the backup cadence alive, and re-arms itself on
// a longer horizon so an idle chain still gets periodic backups.
func (c *Coordinator) watchdogFired() {
	var cleared bool
	err := c.atomically(func(rec *types.ChainRecord) error {
		if rec.Queue.Processing {
			rec.Queue.Processing = false
			rec.Queue.ProcessingStartedAt = 0
			rec.Queue.CurrentBlock = nil
			cleared = true
		}
		return nil
	})
	if err != nil {
		c.logger.Error("watchdog: clearing stuck round failed", "error", err)
	}
	if cleared {
		c.logger.Warn("watchdog released a stuck round lock")
		c.metrics.RoundFinished(c.watchdogTimeout(), false)
	}

	c.mu.Lock()
	if c.backupDue() {
		c.scheduleBackup(c.rec)
	}
	interval := c.rec.Config.BackupInterval
	c.mu.Unlock()

	if interval > 0 {
		c.armWatchdog(interval + interval/2)
	}
}
