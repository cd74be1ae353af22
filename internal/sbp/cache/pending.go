package cache

import (
	"errors"
	"os"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

func (c *BuildCache) enqueue(job saveJob) {
	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		c.writeBatch([]saveJob{job})
		return
	}
	c.inflight.Add(1)
	c.pending <- job
	c.pendingMu.Unlock()
}

// saveLoop writes queued records. Jobs already queued are drained into one
// batch so the access index is updated once per batch.
func (c *BuildCache) saveLoop() {
	defer close(c.done)
	for job := range c.pending {
		batch := []saveJob{job}
	drain:
		for {
			select {
			case next, ok := <-c.pending:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		c.writeBatch(batch)
		for range batch {
			c.inflight.Done()
		}
	}
}

func (c *BuildCache) writeBatch(jobs []saveJob) {
	keys := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if err := c.write(job); err != nil {
			c.recordSaveErr(err)
			continue
		}
		keys = append(keys, job.entry.Key())
	}
	c.touch(keys...)
}

func (c *BuildCache) write(job saveJob) error {
	dir := c.GetCachedArtifactsDirectory(job.entry)
	if err := os.MkdirAll(dir, helpers.DirMod); err != nil {
		return err
	}
	if err := helpers.WriteFileAtomic(c.GetCachedInfoFile(job.entry), job.data); err != nil {
		return err
	}
	if c.remote != nil {
		if err := c.pushRemote(job.ctx, job.entry); err != nil {
			c.log().Warnf("cache server upload of %s failed: %v", job.entry, err)
		}
	}
	return nil
}

func (c *BuildCache) recordSaveErr(err error) {
	if err == nil {
		return
	}
	c.log().Warnf("cache save failed: %v", err)
	c.errMu.Lock()
	c.saveErrs = append(c.saveErrs, err)
	c.errMu.Unlock()
}

// SyncPendingSaves blocks until every queued record is on disk.
// It returns the save errors seen since the previous call.
func (c *BuildCache) SyncPendingSaves() error {
	c.inflight.Wait()
	c.errMu.Lock()
	errs := c.saveErrs
	c.saveErrs = nil
	c.errMu.Unlock()
	return errors.Join(errs...)
}

// Close flushes pending saves and stops the background writer.
// Saves after Close are written synchronously.
func (c *BuildCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.SyncPendingSaves()
		c.pendingMu.Lock()
		c.closed = true
		close(c.pending)
		c.pendingMu.Unlock()
		<-c.done
	})
	return err
}
