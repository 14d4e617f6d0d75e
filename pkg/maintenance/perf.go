package maintenance

import (
	"math"

	"github.com/kudu-go/kudu/pkg/options"
)

// SetPerfImprovementForFlush is FlushOpPerfImprovementPolicy from
// tablet_replica_mm_ops.cc: if the anchored RAM is already over threshold,
// score grows linearly with the excess (floored at 1.0, so an
// over-threshold MRS beats almost any compaction). Otherwise, once the
// memstore has sat long enough, award a score between 0 and 1 that grows
// toward 1 as either the elapsed time or the anchored size approaches its
// bound.
func SetPerfImprovementForFlush(stats *Stats, elapsedMillis int64, cfg *options.FlushCfg) {
	anchoredMB := float64(stats.RamAnchoredBytes) / (1024 * 1024)
	thresholdMB := float64(cfg.ThresholdMB)
	upperBoundMS := float64(cfg.UpperBoundMillis)

	if anchoredMB >= thresholdMB {
		extraMB := anchoredMB - thresholdMB
		stats.PerfImprovement = math.Max(1.0, extraMB)
		return
	}
	if float64(elapsedMillis) > float64(cfg.ThresholdSecs)*1000 {
		perf := math.Max(float64(elapsedMillis)/upperBoundMS, anchoredMB/thresholdMB)
		stats.PerfImprovement = math.Min(1.0, perf)
	}
}
