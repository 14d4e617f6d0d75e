package fs

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/logutil"
)

// statfsAvailable reports the bytes available to an unprivileged writer on
// the filesystem containing path, via statfs(2).
func statfsAvailable(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, kuduerr.ClassifyIOError(err, "statfs "+path)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// RefreshAvailableSpace updates the cached available-space reading for
// every healthy dir, per spec §4.A "Available-space tracking": ExpiredOnly
// skips dirs whose cache entry is still within Dir.SpaceCacheTTL, Always
// forces a fresh statfs on every dir.
func (dm *DirManager) RefreshAvailableSpace(mode SpaceCheckMode) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	ttl := dm.opts.Dir.SpaceCacheTTL
	for i, d := range dm.dirs {
		if dm.isDirFailedLocked(i) {
			continue
		}
		if mode == ExpiredOnly && time.Since(d.space.lastCheck) < ttl {
			continue
		}
		avail, err := statfsAvailable(d.root)
		d.space.lastCheck = time.Now()
		if err != nil {
			if kuduerr.IsFull(err) {
				d.space.isFull = true
				continue
			}
			logutil.Warn("statfs failed, marking dir failed", logutil.ErrorField(err))
			dm.failed[i] = err.Error()
			continue
		}
		d.space.available = avail
		d.space.isFull = avail <= dm.opts.Dir.ReservedBytesPerDir
	}
}

// IsDirFull reports the last-cached full status for dir idx. Callers that
// need a fresh reading should call RefreshAvailableSpace first.
func (dm *DirManager) IsDirFull(idx int) bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if idx < 0 || idx >= len(dm.dirs) {
		return true
	}
	return dm.dirs[idx].space.isFull
}

// AvailableBytes returns the last-cached available-space reading for dir
// idx.
func (dm *DirManager) AvailableBytes(idx int) int64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if idx < 0 || idx >= len(dm.dirs) {
		return 0
	}
	return dm.dirs[idx].space.available
}
