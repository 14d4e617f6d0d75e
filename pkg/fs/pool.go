package fs

import (
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// DirPool exposes a healthy dir's bounded worker pool to callers outside
// pkg/fs (e.g. pkg/tablet's block-create/fsync batches), matching spec
// §4.A "temp files ... removed in parallel via per-dir worker pools" —
// the same pools back general per-dir background work, not just temp-file
// cleanup.
func (dm *DirManager) DirPool(idx int) (*ants.Pool, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if idx < 0 || idx >= len(dm.dirs) {
		return nil, kuduerr.NewInvalidArgument("dir index %d out of range", idx)
	}
	p := dm.dirs[idx].pool
	if p == nil {
		return nil, kuduerr.NewIllegalState("dir %d has no worker pool (not open)", idx)
	}
	return p, nil
}

// SubmitToAllHealthy runs fn(idx) on every healthy dir's pool and waits for
// all to finish, collecting the first error encountered.
func (dm *DirManager) SubmitToAllHealthy(fn func(idx int) error) error {
	dm.mu.RLock()
	indices := make([]int, 0, len(dm.dirs))
	for i := range dm.dirs {
		if !dm.isDirFailedLocked(i) {
			indices = append(indices, i)
		}
	}
	dm.mu.RUnlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, idx := range indices {
		pool, err := dm.DirPool(idx)
		if err != nil {
			continue
		}
		wg.Add(1)
		i := idx
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := fn(i); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = kuduerr.Wrap(submitErr, kuduerr.RuntimeError, "submit to dir %d pool", idx)
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return firstErr
}
