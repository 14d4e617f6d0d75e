package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/options"
	"github.com/kudu-go/kudu/pkg/tablet"
)

// flushSem is the per-tablet rowsets_flush_sem_ of tablet_replica_mm_ops.cc:
// FlushMRSOp, FlushDMSOp, MinorDeltaCompactOp, MajorDeltaCompactOp, and
// CompactRowSetsOp all try-lock it, so at most one of them runs against a
// given tablet at a time.
type flushSem struct {
	ch chan struct{} // capacity 1, buffered as a non-blocking mutex
}

func newFlushSem() *flushSem {
	return &flushSem{ch: make(chan struct{}, 1)}
}

func (s *flushSem) tryLock() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *flushSem) unlock() {
	select {
	case <-s.ch:
	default:
	}
}

// opBase factors the bits every TabletReplicaOpBase-derived op shares: a
// name, the tablet it targets, and the shared flush semaphore.
type opBase struct {
	name     string
	tabletID string
	t        *tablet.Tablet
	sem      *flushSem
}

func (b *opBase) Name() string     { return b.name }
func (b *opBase) TabletID() string { return b.tabletID }

// FlushMRSOp flushes a tablet's MemRowSet to a new DiskRowSet, per spec
// §4.F and tablet_replica_mm_ops.cc's FlushMRSOp.
type FlushMRSOp struct {
	opBase
	cfg           *options.FlushCfg
	mu            sync.Mutex
	sinceLastFlush time.Time
}

func NewFlushMRSOp(tabletID string, t *tablet.Tablet, sem *flushSem, cfg *options.FlushCfg) *FlushMRSOp {
	return &FlushMRSOp{opBase: opBase{name: "FlushMRSOp(" + tabletID + ")", tabletID: tabletID, t: t, sem: sem}, cfg: cfg}
}

func (op *FlushMRSOp) Type() OpType     { return FlushMRS }
func (op *FlushMRSOp) IOUsage() IOUsage { return HighIOUsage }

func (op *FlushMRSOp) UpdateStats(stats *Stats) {
	if !op.cfg.EnableFlushMRS {
		stats.Runnable = false
		return
	}
	if op.t.MemRowSetSize() == 0 {
		stats.Runnable = false
		return
	}
	stats.RamAnchoredBytes = op.t.MemRowSetByteSize()
	stats.Runnable = true
	stats.Priority = op.t.Priority()

	op.mu.Lock()
	since := op.sinceLastFlush
	op.mu.Unlock()
	var elapsedMillis int64
	if !since.IsZero() {
		elapsedMillis = time.Since(since).Milliseconds()
	}
	SetPerfImprovementForFlush(stats, elapsedMillis, op.cfg)
}

func (op *FlushMRSOp) Prepare() bool { return op.sem.tryLock() }
func (op *FlushMRSOp) Release()      { op.sem.unlock() }

func (op *FlushMRSOp) Perform(_ context.Context) error {
	_, err := op.t.Flush()
	if err != nil {
		if !op.t.HasBeenStopped() {
			return kuduerr.Wrap(err, kuduerr.RuntimeError, "unrecoverable flush failure")
		}
		return nil
	}
	op.mu.Lock()
	op.sinceLastFlush = time.Now()
	op.mu.Unlock()
	return nil
}

// FlushDMSOp flushes the fullest DeltaTracker's DMS across every rowset in
// a tablet, per spec §4.C/§4.F and tablet_replica_mm_ops.cc's
// FlushDeltaMemStoresOp (FindBestDMSToFlush).
type FlushDMSOp struct {
	opBase
	cfg *options.FlushCfg
}

func NewFlushDMSOp(tabletID string, t *tablet.Tablet, sem *flushSem, cfg *options.FlushCfg) *FlushDMSOp {
	return &FlushDMSOp{opBase: opBase{name: "FlushDMSOp(" + tabletID + ")", tabletID: tabletID, t: t, sem: sem}, cfg: cfg}
}

func (op *FlushDMSOp) Type() OpType     { return FlushDMS }
func (op *FlushDMSOp) IOUsage() IOUsage { return HighIOUsage }

// findBestDMS picks the rowset whose DeltaTracker holds the most pending
// DMS bytes, the Go analogue of FindBestDMSToFlush's byte-size heuristic.
func findBestDMS(rowsets []*tablet.DiskRowSet) (best *tablet.DiskRowSet, size int64, age time.Duration) {
	for _, rs := range rowsets {
		if rs.Tracker.DMSEmpty() {
			continue
		}
		sz := rs.Tracker.DMSByteSize()
		if best == nil || sz > size {
			best, size, age = rs, sz, rs.Tracker.DMSAge()
		}
	}
	return best, size, age
}

func (op *FlushDMSOp) UpdateStats(stats *Stats) {
	if !op.cfg.EnableFlushDMS {
		stats.Runnable = false
		return
	}
	best, size, age := findBestDMS(op.t.RowSets())
	if best == nil {
		stats.Runnable = false
		return
	}
	stats.RamAnchoredBytes = size
	stats.Runnable = true
	stats.Priority = op.t.Priority()
	SetPerfImprovementForFlush(stats, age.Milliseconds(), op.cfg)
}

func (op *FlushDMSOp) Prepare() bool { return op.sem.tryLock() }
func (op *FlushDMSOp) Release()      { op.sem.unlock() }

func (op *FlushDMSOp) Perform(_ context.Context) error {
	best, _, _ := findBestDMS(op.t.RowSets())
	if best == nil {
		return nil
	}
	_, err := best.Tracker.FlushDMS()
	if err != nil && !op.t.HasBeenStopped() {
		return kuduerr.Wrap(err, kuduerr.RuntimeError, "unrecoverable DMS flush failure")
	}
	return nil
}

// LogGCOp reclaims write-ahead-log space no longer needed for replay, per
// spec §4.F and tablet_replica_mm_ops.cc's LogGCOp. The spec's Non-goals
// treat the WAL itself as an externally-provided service, so RetainedBytes
// and Collect are supplied by the caller rather than computed here.
type LogGCOp struct {
	opBase
	cfg           *options.LogGCCfg
	gcSem         *flushSem // LogGCOp's own single-slot semaphore, not the shared flush one
	RetainedBytes func() int64
	Collect       func() error
}

func NewLogGCOp(tabletID string, retainedBytes func() int64, collect func() error, cfg *options.LogGCCfg) *LogGCOp {
	return &LogGCOp{
		opBase:        opBase{name: "LogGCOp(" + tabletID + ")", tabletID: tabletID},
		cfg:           cfg,
		gcSem:         newFlushSem(),
		RetainedBytes: retainedBytes,
		Collect:       collect,
	}
}

func (op *LogGCOp) Type() OpType     { return LogGC }
func (op *LogGCOp) IOUsage() IOUsage { return LowIOUsage }

func (op *LogGCOp) UpdateStats(stats *Stats) {
	if !op.cfg.Enabled {
		stats.Runnable = false
		return
	}
	stats.LogsRetainedBytes = op.RetainedBytes()
	stats.Runnable = true
	if stats.LogsRetainedBytes > 0 {
		stats.PerfImprovement = 1.0
	}
}

func (op *LogGCOp) Prepare() bool { return op.gcSem.tryLock() }
func (op *LogGCOp) Release()      { op.gcSem.unlock() }

func (op *LogGCOp) Perform(_ context.Context) error {
	return op.Collect()
}

// MinorDeltaCompactOp merges a rowset's REDO file stack into one file,
// cheap and history-preserving, per spec §4.C/§4.F.
type MinorDeltaCompactOp struct {
	opBase
}

func NewMinorDeltaCompactOp(tabletID string, t *tablet.Tablet, sem *flushSem) *MinorDeltaCompactOp {
	return &MinorDeltaCompactOp{opBase{name: "MinorDeltaCompactionOp(" + tabletID + ")", tabletID: tabletID, t: t, sem: sem}}
}

func (op *MinorDeltaCompactOp) Type() OpType     { return MinorDeltaCompact }
func (op *MinorDeltaCompactOp) IOUsage() IOUsage { return HighIOUsage }

const minRedoFilesForMinorCompact = 2

func (op *MinorDeltaCompactOp) pickTarget() *tablet.DiskRowSet {
	var best *tablet.DiskRowSet
	bestCount := minRedoFilesForMinorCompact - 1
	for _, rs := range op.t.RowSets() {
		if n := rs.Tracker.RedoFileCount(); n > bestCount {
			best, bestCount = rs, n
		}
	}
	return best
}

func (op *MinorDeltaCompactOp) UpdateStats(stats *Stats) {
	target := op.pickTarget()
	if target == nil {
		stats.Runnable = false
		return
	}
	stats.Runnable = true
	stats.Priority = op.t.Priority()
	stats.PerfImprovement = float64(target.Tracker.RedoFileCount()) / 10.0
}

func (op *MinorDeltaCompactOp) Prepare() bool { return op.sem.tryLock() }
func (op *MinorDeltaCompactOp) Release()      { op.sem.unlock() }

func (op *MinorDeltaCompactOp) Perform(_ context.Context) error {
	target := op.pickTarget()
	if target == nil {
		return nil
	}
	if err := target.Tracker.MinorCompactRedos(); err != nil && !op.t.HasBeenStopped() {
		return kuduerr.Wrap(err, kuduerr.RuntimeError, "unrecoverable minor delta compaction failure")
	}
	return nil
}

// MajorDeltaCompactOp folds REDOs older than a snapshot into the base, per
// spec §4.C/§4.F. ColumnIDs is the column set eligible for folding; nil
// means every schema column.
type MajorDeltaCompactOp struct {
	opBase
	ColumnIDs []common.ColumnID
}

func NewMajorDeltaCompactOp(tabletID string, t *tablet.Tablet, sem *flushSem, columns []common.ColumnID) *MajorDeltaCompactOp {
	return &MajorDeltaCompactOp{opBase: opBase{name: "MajorDeltaCompactionOp(" + tabletID + ")", tabletID: tabletID, t: t, sem: sem}, ColumnIDs: columns}
}

func (op *MajorDeltaCompactOp) Type() OpType     { return MajorDeltaCompact }
func (op *MajorDeltaCompactOp) IOUsage() IOUsage { return HighIOUsage }

const minRedoBytesForMajorCompact = 1 << 20 // 1 MiB

func (op *MajorDeltaCompactOp) pickTarget() *tablet.DiskRowSet {
	for _, rs := range op.t.RowSets() {
		if rs.Tracker.RedoFileCount() > 0 {
			return rs
		}
	}
	return nil
}

func (op *MajorDeltaCompactOp) UpdateStats(stats *Stats) {
	target := op.pickTarget()
	if target == nil {
		stats.Runnable = false
		return
	}
	stats.Runnable = true
	stats.Priority = op.t.Priority()
	stats.PerfImprovement = 0.1 // cheap, steady background score; real sizing needs a REDO byte-size accessor
}

func (op *MajorDeltaCompactOp) Prepare() bool { return op.sem.tryLock() }
func (op *MajorDeltaCompactOp) Release()      { op.sem.unlock() }

func (op *MajorDeltaCompactOp) Perform(_ context.Context) error {
	target := op.pickTarget()
	if target == nil {
		return nil
	}
	snapshot := common.Timestamp(^uint64(0))
	_, err := target.Tracker.MajorCompactRedos(op.ColumnIDs, snapshot, target.ApplyMajorCompactValue)
	if err != nil && !op.t.HasBeenStopped() {
		return kuduerr.Wrap(err, kuduerr.RuntimeError, "unrecoverable major delta compaction failure")
	}
	return nil
}

// CompactRowSetsOp merges overlapping DiskRowSets, per spec §4.D/§4.F.
type CompactRowSetsOp struct {
	opBase
}

func NewCompactRowSetsOp(tabletID string, t *tablet.Tablet, sem *flushSem) *CompactRowSetsOp {
	return &CompactRowSetsOp{opBase{name: "CompactRowSetsOp(" + tabletID + ")", tabletID: tabletID, t: t, sem: sem}}
}

func (op *CompactRowSetsOp) Type() OpType     { return CompactRowSets }
func (op *CompactRowSetsOp) IOUsage() IOUsage { return HighIOUsage }

func (op *CompactRowSetsOp) UpdateStats(stats *Stats) {
	overlapping := PickOverlappingRowSets(op.t.RowSets())
	if len(overlapping) < 2 {
		stats.Runnable = false
		return
	}
	stats.Runnable = true
	stats.Priority = op.t.Priority()
	stats.PerfImprovement = float64(len(overlapping)) / 10.0
}

func (op *CompactRowSetsOp) Prepare() bool { return op.sem.tryLock() }
func (op *CompactRowSetsOp) Release()      { op.sem.unlock() }

func (op *CompactRowSetsOp) Perform(_ context.Context) error {
	overlapping := PickOverlappingRowSets(op.t.RowSets())
	if len(overlapping) < 2 {
		return nil
	}
	snapshot := common.Timestamp(^uint64(0))
	_, err := op.t.CompactRowSets(overlapping, snapshot)
	if err != nil && !op.t.HasBeenStopped() {
		return kuduerr.Wrap(err, kuduerr.RuntimeError, "unrecoverable rowset compaction failure")
	}
	return nil
}

// PickOverlappingRowSets returns every rowset whose [MinKey,MaxKey] range
// intersects at least one other rowset's range, the candidate set spec
// §4.D's "pick overlapping DiskRowSets" compaction selects from.
func PickOverlappingRowSets(rowsets []*tablet.DiskRowSet) []*tablet.DiskRowSet {
	overlaps := func(a, b *tablet.DiskRowSet) bool {
		return compareKeys(a.MinKey(), b.MaxKey()) <= 0 && compareKeys(b.MinKey(), a.MaxKey()) <= 0
	}
	marked := make(map[int]bool, len(rowsets))
	for i := 0; i < len(rowsets); i++ {
		for j := i + 1; j < len(rowsets); j++ {
			if overlaps(rowsets[i], rowsets[j]) {
				marked[i] = true
				marked[j] = true
			}
		}
	}
	out := make([]*tablet.DiskRowSet, 0, len(marked))
	for i := 0; i < len(rowsets); i++ {
		if marked[i] {
			out = append(out, rowsets[i])
		}
	}
	return out
}

func compareKeys(a, b []byte) int {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return -1
	case len(b) == 0:
		return 1
	}
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
