// Package maintenance is the scheduler of spec §4.F: op types, per-op
// scoring, and the token-based worker pool flush/compact/GC ops run under,
// grounded on original_source/src/kudu/tablet/tablet_replica_mm_ops.cc and
// the teacher's tae/tasks Job/Dispatcher/OpWorker machinery.
package maintenance

import "context"

// OpType enumerates the maintenance operations spec §4.F names.
type OpType int

const (
	FlushMRS OpType = iota
	FlushDMS
	LogGC
	MinorDeltaCompact
	MajorDeltaCompact
	CompactRowSets
)

func (t OpType) String() string {
	switch t {
	case FlushMRS:
		return "FlushMRS"
	case FlushDMS:
		return "FlushDMS"
	case LogGC:
		return "LogGC"
	case MinorDeltaCompact:
		return "MinorDeltaCompact"
	case MajorDeltaCompact:
		return "MajorDeltaCompact"
	case CompactRowSets:
		return "CompactRowSets"
	default:
		return "Unknown"
	}
}

// IOUsage classifies an op's IO weight, per spec §4.F "Each op declares IO
// class (HIGH / LOW)".
type IOUsage int

const (
	LowIOUsage IOUsage = iota
	HighIOUsage
)

// Stats is the per-op scoring input spec §4.F names: {runnable,
// ram_anchored_bytes, logs_retained_bytes, perf_improvement,
// workload_score, priority}.
type Stats struct {
	Runnable          bool
	RamAnchoredBytes  int64
	LogsRetainedBytes int64
	PerfImprovement   float64
	WorkloadScore     float64
	Priority          int32
}

// Score is the weighted combination the scheduler maximizes: perf
// improvement dominates, workload score breaks near-ties within it. Ops
// that aren't runnable never get picked regardless of score.
func (s Stats) Score() float64 {
	if !s.Runnable {
		return 0
	}
	return s.PerfImprovement + 0.01*s.WorkloadScore
}

// Op is one schedulable maintenance operation on one tablet, the narrow
// capability set spec §9 calls for ("avoid deep inheritance"): a name,
// a stats refresh, and a try-lock-then-run pair.
type Op interface {
	Name() string
	Type() OpType
	IOUsage() IOUsage
	TabletID() string

	// UpdateStats refreshes stats in place; called by the scheduler every
	// cycle before scoring.
	UpdateStats(stats *Stats)

	// Prepare try-locks whatever per-tablet resource this op needs. A
	// false return means "skip this cycle", not an error.
	Prepare() bool

	// Perform runs the op; the caller must already hold the Prepare lock
	// and releases it via Release once Perform returns.
	Perform(ctx context.Context) error

	// Release gives back whatever Prepare acquired.
	Release()
}
