// Package quota tracks log-unit disk usage against a configured limit and
// signals back-pressure before the filesystem actually runs out of room. It
// also owns the small amount of filesystem-agent plumbing the engine needs
// at startup: making sure the log directory exists and can be written to.
package quota

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/corfudb-go/logunit/pkg/types"
)

// ResourceQuota tracks bytes used against a configured limit. A limit of 0
// means unbounded. Used increases when an append reserves space and
// decreases when a caller reports bytes freed by file deletion or hands back
// the reservation of an append that did not happen, so across a completed
// append used_bytes only grows and it only shrinks on segment deletion.
type ResourceQuota struct {
	limitBytes int64
	usedBytes  int64
}

// New returns a quota tracker with the given byte limit. limitBytes <= 0
// disables enforcement.
func New(limitBytes int64) *ResourceQuota {
	return &ResourceQuota{limitBytes: limitBytes}
}

// UsedBytes reports current usage.
func (q *ResourceQuota) UsedBytes() int64 {
	return atomic.LoadInt64(&q.usedBytes)
}

// LimitBytes reports the configured limit (0 if unbounded).
func (q *ResourceQuota) LimitBytes() int64 {
	return q.limitBytes
}

// HasAvailable reports whether n additional bytes can be reserved without
// exceeding the limit.
func (q *ResourceQuota) HasAvailable(n int64) bool {
	if q.limitBytes <= 0 {
		return true
	}
	return atomic.LoadInt64(&q.usedBytes)+n <= q.limitBytes
}

// Reserve accounts for n bytes an append is about to write. It returns
// QUOTA_EXCEEDED if the limit would be exceeded, leaving usage unchanged.
func (q *ResourceQuota) Reserve(n int64) error {
	if n < 0 {
		return types.NewIllegalArgument("quota: cannot reserve a negative size")
	}
	if !q.HasAvailable(n) {
		return types.NewQuotaExceeded()
	}
	atomic.AddInt64(&q.usedBytes, n)
	return nil
}

// Release accounts for n bytes freed by a segment file deletion (compact),
// or returns the reservation of an append whose write failed.
func (q *ResourceQuota) Release(n int64) {
	if n <= 0 {
		return
	}
	for {
		old := atomic.LoadInt64(&q.usedBytes)
		next := old - n
		if next < 0 {
			next = 0
		}
		if atomic.CompareAndSwapInt64(&q.usedBytes, old, next) {
			return
		}
	}
}

// Exceeded reports whether usage is already at or beyond the limit.
func (q *ResourceQuota) Exceeded() bool {
	return q.limitBytes > 0 && atomic.LoadInt64(&q.usedBytes) >= q.limitBytes
}

// Seed sets usage directly, bypassing the limit check. Used once at startup
// to account for bytes already on disk from a previous run.
func (q *ResourceQuota) Seed(n int64) {
	atomic.StoreInt64(&q.usedBytes, n)
}

// FilesystemAgent ensures the log-unit's on-disk directories exist and are
// writable before the engine trusts them with durable data.
type FilesystemAgent struct {
	Root string
}

// NewFilesystemAgent binds the agent to root; root is created on demand by
// EnsureWritable.
func NewFilesystemAgent(root string) *FilesystemAgent {
	return &FilesystemAgent{Root: root}
}

// LogDir is the subdirectory holding segment files and the metadata
// snapshot, matching the external filesystem layout: <root>/log/.
func (a *FilesystemAgent) LogDir() string {
	return filepath.Join(a.Root, "log")
}

// EnsureWritable creates the log directory if missing and verifies it is
// writable by creating and removing a probe file. Failure here is fatal to
// engine startup (KindLogUnit).
func (a *FilesystemAgent) EnsureWritable() error {
	dir := a.LogDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewLogUnit(fmt.Errorf("create log directory %s: %w", dir, err))
	}

	probe := filepath.Join(dir, ".write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return types.NewLogUnit(fmt.Errorf("log directory %s is not writable: %w", dir, err))
	}
	f.Close()
	if err := os.Remove(probe); err != nil {
		return types.NewLogUnit(fmt.Errorf("log directory %s: cannot remove write probe: %w", dir, err))
	}
	return nil
}

// DiskUsage walks the log directory and sums the size of every file in it,
// used to seed a ResourceQuota's usage on startup from whatever is already
// on disk.
func (a *FilesystemAgent) DiskUsage() (int64, error) {
	var total int64
	err := filepath.WalkDir(a.LogDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, types.NewIO(err)
	}
	return total, nil
}
