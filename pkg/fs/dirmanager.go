package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/logutil"
	"github.com/kudu-go/kudu/pkg/options"
)

const instanceFileName = "instance"

// UpdateMode controls UpdateHealthyInstances' failure handling, per spec
// §4.A.
type UpdateMode int

const (
	ErrorOnFailure UpdateMode = iota
	IgnoreFailures
)

// SpaceCheckMode controls RefreshAvailableSpace's caching, per spec §4.A
// "Available-space tracking".
type SpaceCheckMode int

const (
	ExpiredOnly SpaceCheckMode = iota
	Always
)

type availableSpace struct {
	isFull    bool
	available int64
	lastCheck time.Time
}

type dirEntry struct {
	root     string
	instance *DirInstance
	space    availableSpace
	pool     *ants.Pool
	kv       *pebble.DB
}

// DirManager canonicalizes a set of data roots and exposes uuid/index/dir
// lookups plus a failed-set, per spec §4.A.
type DirManager struct {
	mu           sync.RWMutex
	dirType      string
	dirs         []*dirEntry
	byUUID       map[uuid.UUID]int
	failed       map[int]string
	tabletsByDir map[int]map[common.ID]struct{}
	opts         *options.Options
}

// New canonicalizes roots (by absolute path, de-duplicated) for the given
// dir-type tag.
func New(roots []string, dirType string, opts *options.Options) (*DirManager, error) {
	opts = opts.FillDefaults()
	seen := make(map[string]struct{}, len(roots))
	canon := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, kuduerr.Wrap(err, kuduerr.IOError, "canonicalize root %q", r)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		canon = append(canon, abs)
	}
	if len(canon) == 0 {
		return nil, kuduerr.NewInvalidArgument("no data roots given")
	}
	dm := &DirManager{
		dirType:      dirType,
		byUUID:       make(map[uuid.UUID]int),
		failed:       make(map[int]string),
		tabletsByDir: make(map[int]map[common.ID]struct{}),
		opts:         opts,
	}
	for _, root := range canon {
		dm.dirs = append(dm.dirs, &dirEntry{root: root})
	}
	return dm, nil
}

func (dm *DirManager) dirPath(idx int) string {
	return filepath.Join(dm.dirs[idx].root, dm.dirType)
}

// Create fails if any healthy instance already exists; otherwise writes a
// fresh UUID per root plus a shared all_uuids set, and fsyncs parents.
func (dm *DirManager) Create() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for i := range dm.dirs {
		if _, err := os.Stat(filepath.Join(dm.dirPath(i), instanceFileName)); err == nil {
			return kuduerr.NewAlreadyPresent("instance file already exists under %s", dm.dirPath(i))
		}
	}

	all := make([]uuid.UUID, len(dm.dirs))
	for i := range dm.dirs {
		all[i] = uuid.New()
	}
	for i, d := range dm.dirs {
		if err := os.MkdirAll(dm.dirPath(i), 0o755); err != nil {
			return kuduerr.ClassifyIOError(err, "mkdir "+dm.dirPath(i))
		}
		inst := &DirInstance{UUID: all[i], DirType: dm.dirType, AllUUIDs: all}
		if err := writeInstanceFile(dm.dirPath(i), inst); err != nil {
			return err
		}
		if err := fsyncDir(dm.dirPath(i)); err != nil {
			return err
		}
		d.instance = inst
		dm.byUUID[inst.UUID] = i
	}
	return nil
}

// Open loads each instance; a partial failure marks that dir failed (not
// fatal) unless all dirs fail, per spec §4.A.
func (dm *DirManager) Open() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	loaded := 0
	for i, d := range dm.dirs {
		inst, err := readInstanceFile(dm.dirPath(i))
		if err != nil {
			logutil.Warn("failed to open dir instance", logutil.ErrorField(err))
			dm.failed[i] = err.Error()
			continue
		}
		d.instance = inst
		dm.byUUID[inst.UUID] = i
		loaded++

		if dm.opts.EmbeddedKV.Enabled {
			kv, err := openEmbeddedKV(dm.dirPath(i), dm.opts.EmbeddedKV)
			if err != nil {
				logutil.Warn("failed to open embedded kv", logutil.ErrorField(err))
				dm.failed[i] = err.Error()
				continue
			}
			d.kv = kv
		}

		pool, err := ants.NewPool(2)
		if err != nil {
			return kuduerr.Wrap(err, kuduerr.RuntimeError, "create per-dir worker pool")
		}
		d.pool = pool
	}
	if loaded == 0 {
		return kuduerr.NewIOError(0, "all %d data dirs failed to open", len(dm.dirs))
	}

	dm.cleanTempFilesParallel()
	return nil
}

// cleanTempFilesParallel removes *.tmp files under each healthy dir using
// that dir's worker pool, per spec §4.A "temp files ... removed in
// parallel via per-dir worker pools".
func (dm *DirManager) cleanTempFilesParallel() {
	var wg sync.WaitGroup
	for i, d := range dm.dirs {
		if dm.isDirFailedLocked(i) || d.pool == nil {
			continue
		}
		wg.Add(1)
		root := dm.dirPath(i)
		pool := d.pool
		_ = pool.Submit(func() {
			defer wg.Done()
			cleanTempFiles(root)
		})
	}
	wg.Wait()
}

func cleanTempFiles(root string) {
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			if rmErr := os.Remove(path); rmErr != nil {
				logutil.Warn("failed to remove temp file", logutil.ErrorField(rmErr))
			}
		}
		return nil
	})
}

// UpdateHealthyInstances rewrites every healthy instance file's sibling-uuid
// set when it no longer matches the observed set, backing up originals
// first and restoring them if any rewrite fails, per spec §4.A.
func (dm *DirManager) UpdateHealthyInstances(observed []uuid.UUID, mode UpdateMode) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var rewritten []int
	var firstErr error
	for i, d := range dm.dirs {
		if dm.isDirFailedLocked(i) || d.instance == nil {
			continue
		}
		if uuidSetEqual(d.instance.AllUUIDs, observed) {
			continue
		}
		path := filepath.Join(dm.dirPath(i), instanceFileName)
		backup := path + ".tmp"
		if err := copyFile(path, backup); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if mode == IgnoreFailures {
				dm.failed[i] = err.Error()
				continue
			}
			dm.rollback(rewritten)
			return err
		}
		newInst := &DirInstance{UUID: d.instance.UUID, DirType: d.instance.DirType, AllUUIDs: observed}
		if err := writeInstanceFile(dm.dirPath(i), newInst); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if mode == IgnoreFailures {
				dm.failed[i] = err.Error()
				_ = os.Remove(backup)
				continue
			}
			dm.rollback(rewritten)
			return err
		}
		d.instance = newInst
		rewritten = append(rewritten, i)
	}
	for _, i := range rewritten {
		_ = os.Remove(filepath.Join(dm.dirPath(i), instanceFileName) + ".tmp")
	}
	if mode == ErrorOnFailure {
		return firstErr
	}
	return nil
}

// rollback restores instance files from their .tmp backups for the given
// dir indices. Kept best-effort per spec §9 open question (iii).
func (dm *DirManager) rollback(idxs []int) {
	for _, i := range idxs {
		path := filepath.Join(dm.dirPath(i), instanceFileName)
		backup := path + ".tmp"
		if _, err := os.Stat(backup); err == nil {
			_ = copyFile(backup, path)
			_ = os.Remove(backup)
		}
	}
}

// RestoreFromBackups lets an operator or test manually trigger recovery
// from .tmp backups left behind by a failed UpdateHealthyInstances, per
// spec §9 open question (iii): the implementation "may also expose" manual
// recovery rather than guaranteeing automatic robustness.
func (dm *DirManager) RestoreFromBackups() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	var idxs []int
	for i := range dm.dirs {
		idxs = append(idxs, i)
	}
	dm.rollback(idxs)
	return nil
}

// MarkDirFailed is idempotent; refuses to mark every dir failed.
func (dm *DirManager) MarkDirFailed(idx int, reason string) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, already := dm.failed[idx]; already {
		return nil
	}
	if len(dm.failed)+1 >= len(dm.dirs) {
		return kuduerr.NewIOError(0, "marking dir %d failed would fail every data dir", idx)
	}
	dm.failed[idx] = reason
	return nil
}

func (dm *DirManager) isDirFailedLocked(idx int) bool {
	_, failed := dm.failed[idx]
	return failed
}

func (dm *DirManager) IsDirFailed(idx int) bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.isDirFailedLocked(idx)
}

func (dm *DirManager) IsTabletInFailedDir(id common.ID) bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	for idx, tablets := range dm.tabletsByDir {
		if _, ok := tablets[id]; ok {
			return dm.isDirFailedLocked(idx)
		}
	}
	return false
}

func (dm *DirManager) FindDirByUuidIndex(idx int) (string, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if idx < 0 || idx >= len(dm.dirs) {
		return "", false
	}
	return dm.dirs[idx].root, true
}

func (dm *DirManager) FindUuidIndexByRoot(root string) (int, bool) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return -1, false
	}
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	for i, d := range dm.dirs {
		if d.root == abs {
			return i, true
		}
	}
	return -1, false
}

func (dm *DirManager) FindUuidIndexByUuid(u uuid.UUID) (int, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	idx, ok := dm.byUUID[u]
	return idx, ok
}

func (dm *DirManager) FindTabletsByDirUuidIdx(idx int) []common.ID {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	tablets := dm.tabletsByDir[idx]
	out := make([]common.ID, 0, len(tablets))
	for id := range tablets {
		out = append(out, id)
	}
	return out
}

// RegisterTabletDir records that tablet id's physical block placement is
// rooted at dir idx, consulted by FindTabletsByDirUuidIdx / IsTabletInFailedDir.
func (dm *DirManager) RegisterTabletDir(id common.ID, idx int) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.tabletsByDir[idx] == nil {
		dm.tabletsByDir[idx] = make(map[common.ID]struct{})
	}
	dm.tabletsByDir[idx][id] = struct{}{}
}

// HealthyDirIndex returns the index of a healthy, non-full dir for placing
// new tablet blocks, round-robin style starting from a caller-chosen seed.
func (dm *DirManager) HealthyDirIndex(seed int) (int, bool) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	n := len(dm.dirs)
	for i := 0; i < n; i++ {
		idx := (seed + i) % n
		if dm.isDirFailedLocked(idx) || dm.dirs[idx].space.isFull {
			continue
		}
		return idx, true
	}
	return -1, false
}

// Shutdown flushes embedded-KV memtables before closing and stops per-dir
// pools, per spec §4.A "Shutdown() flushes memtables before closing to
// bound reopen time; close errors are logged, not fatal."
func (dm *DirManager) Shutdown() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	for _, d := range dm.dirs {
		if d.kv != nil {
			if err := d.kv.Flush(); err != nil {
				logutil.Warn("embedded kv flush failed", logutil.ErrorField(err))
			}
			if err := d.kv.Close(); err != nil {
				logutil.Warn("embedded kv close failed", logutil.ErrorField(err))
			}
		}
		if d.pool != nil {
			d.pool.Release()
		}
	}
}

func writeInstanceFile(dirPath string, inst *DirInstance) error {
	path := filepath.Join(dirPath, instanceFileName)
	tmp := path + ".new"
	if err := os.WriteFile(tmp, inst.Marshal(), 0o644); err != nil {
		return kuduerr.ClassifyIOError(err, "write instance file "+tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return kuduerr.ClassifyIOError(err, "rename instance file "+tmp)
	}
	return nil
}

func readInstanceFile(dirPath string) (*DirInstance, error) {
	buf, err := os.ReadFile(filepath.Join(dirPath, instanceFileName))
	if err != nil {
		return nil, kuduerr.ClassifyIOError(err, "read instance file")
	}
	return UnmarshalDirInstance(buf)
}

func fsyncDir(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return kuduerr.ClassifyIOError(err, "open dir for fsync")
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return kuduerr.ClassifyIOError(err, "fsync dir")
	}
	return nil
}

func copyFile(src, dst string) error {
	buf, err := os.ReadFile(src)
	if err != nil {
		return kuduerr.ClassifyIOError(err, fmt.Sprintf("read %s for backup", src))
	}
	if err := os.WriteFile(dst, buf, 0o644); err != nil {
		return kuduerr.ClassifyIOError(err, fmt.Sprintf("write backup %s", dst))
	}
	return nil
}
