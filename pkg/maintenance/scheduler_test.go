package maintenance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/options"
	"github.com/kudu-go/kudu/pkg/schema"
	"github.com/kudu-go/kudu/pkg/tablet"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	cols := []schema.ColumnSchema{
		{Name: "id", Type: schema.Int64, Attrs: schema.DefaultStorageAttributes()},
		{Name: "val", Type: schema.String, Nullable: true, Attrs: schema.DefaultStorageAttributes()},
	}
	s, err := schema.New(cols, 1)
	require.NoError(t, err)
	for i := range s.Columns {
		s.Columns[i].AssignID(common.ColumnID(i + 1))
	}
	return s
}

// TestFlushUnderMemoryPressure reproduces spec §8 scenario 3: with
// flush_threshold_mb=1, once the MemRowSet anchors at least 1MiB the op's
// PerfImprovement should be >= 1.0 and the scheduler should pick and run it.
func TestFlushUnderMemoryPressure(t *testing.T) {
	s := testSchema(t)
	bs := tablet.NewMemBlockStore()
	tb := tablet.NewTablet(common.ID{TableID: 1, TabletID: 1}, s, bs)
	tb.TargetRowSetSizeRows = 1 << 20 // keep inserts all landing in the MRS

	big := strings.Repeat("x", 1<<20) // 1 MiB payload, crosses the threshold in one insert
	_, err := tb.InsertRow([]interface{}{int64(1), big})
	require.NoError(t, err)
	require.Greater(t, tb.MemRowSetByteSize(), int64(1<<20-1))

	cfg := &options.FlushCfg{
		ThresholdMB:      1,
		ThresholdSecs:    options.DefaultFlushThresholdSecs,
		UpperBoundMillis: options.DefaultFlushUpperBoundMS,
		EnableFlushMRS:   true,
		EnableFlushDMS:   true,
	}
	op := NewFlushMRSOp("t1", tb, newFlushSem(), cfg)

	var stats Stats
	op.UpdateStats(&stats)
	require.True(t, stats.Runnable)
	require.GreaterOrEqual(t, stats.PerfImprovement, 1.0)

	sched := NewScheduler(&options.MaintenanceCfg{AsyncWorkers: 2}, 50*time.Millisecond)
	defer sched.pool.Shutdown()
	sched.Register(op)

	ran := sched.RunOnce(context.Background())
	require.NotNil(t, ran)
	require.Equal(t, FlushMRS, ran.Type())
	require.Equal(t, 0, tb.MemRowSetSize())
}

// TestSchedulerPicksHighestScore checks that among several runnable ops the
// scheduler runs the one with the higher Score(), breaking ties by
// priority then by tablet id, per spec §4.F.
func TestSchedulerPicksHighestScore(t *testing.T) {
	s := testSchema(t)

	mkTablet := func(tabletID uint64, priority int32) *tablet.Tablet {
		bs := tablet.NewMemBlockStore()
		tb := tablet.NewTablet(common.ID{TableID: 1, TabletID: tabletID}, s, bs)
		tb.MaintenancePriority = priority
		return tb
	}

	low := mkTablet(1, 0)
	high := mkTablet(2, 0)

	cfg := &options.FlushCfg{
		ThresholdMB:      1,
		ThresholdSecs:    options.DefaultFlushThresholdSecs,
		UpperBoundMillis: options.DefaultFlushUpperBoundMS,
		EnableFlushMRS:   true,
	}

	_, err := low.InsertRow([]interface{}{int64(1), "small"})
	require.NoError(t, err)
	_, err = high.InsertRow([]interface{}{int64(1), strings.Repeat("y", 2<<20)})
	require.NoError(t, err)

	lowOp := NewFlushMRSOp("low", low, newFlushSem(), cfg)
	highOp := NewFlushMRSOp("high", high, newFlushSem(), cfg)

	best := pickBest([]Op{lowOp, highOp})
	require.NotNil(t, best)
	require.Equal(t, "high", best.op.TabletID())
}

func TestSchedulerSkipsWhenBusy(t *testing.T) {
	s := testSchema(t)
	bs := tablet.NewMemBlockStore()
	tb := tablet.NewTablet(common.ID{TableID: 1, TabletID: 1}, s, bs)
	_, err := tb.InsertRow([]interface{}{int64(1), strings.Repeat("z", 2<<20)})
	require.NoError(t, err)

	cfg := &options.FlushCfg{ThresholdMB: 1, ThresholdSecs: options.DefaultFlushThresholdSecs, UpperBoundMillis: options.DefaultFlushUpperBoundMS, EnableFlushMRS: true}
	sem := newFlushSem()
	require.True(t, sem.tryLock()) // simulate another op already holding the tablet's flush slot

	op := NewFlushMRSOp("t1", tb, sem, cfg)
	sched := NewScheduler(&options.MaintenanceCfg{AsyncWorkers: 1}, time.Second)
	defer sched.pool.Shutdown()
	sched.Register(op)

	ran := sched.RunOnce(context.Background())
	require.Nil(t, ran)
	require.Equal(t, 1, tb.MemRowSetSize(), "flush should not have run while the semaphore was held")
}

func TestSchedulerRunLoopStopsCleanly(t *testing.T) {
	sched := NewScheduler(&options.MaintenanceCfg{AsyncWorkers: 1}, 5*time.Millisecond)
	defer sched.pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	sched.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
