package maintenance

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kudu-go/kudu/pkg/logutil"
	"github.com/kudu-go/kudu/pkg/options"
)

// Scheduler runs one maintenance cycle over a set of registered Ops, per
// spec §4.F: "every tick, call UpdateStats on every op, pick the one
// maximizing Score(), ties broken by priority then by tablet id; Prepare it,
// run Perform on the pool, Release it."
type Scheduler struct {
	mu  sync.Mutex
	ops []Op

	pool     *Pool
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler builds a scheduler driving cfg.AsyncWorkers pool workers at
// the given tick interval. cfg.IOWorkers is unused here; it sizes a
// caller-owned IO-bound pool for HighIOUsage ops in a fuller deployment, but
// this scheduler keeps every op on one shared Pool per spec §4.F's single
// "bounded worker pool" model.
func NewScheduler(cfg *options.MaintenanceCfg, interval time.Duration) *Scheduler {
	return &Scheduler{
		pool:     NewPool(cfg.AsyncWorkers, interval),
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Register adds an op to the scheduler's candidate set. Safe to call while
// Run is active.
func (s *Scheduler) Register(op Op) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

// Unregister drops every op matching tabletID and typ, e.g. when a tablet is
// stopped and its ops should no longer be scheduled.
func (s *Scheduler) Unregister(tabletID string, typ OpType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.ops[:0]
	for _, op := range s.ops {
		if op.TabletID() == tabletID && op.Type() == typ {
			continue
		}
		kept = append(kept, op)
	}
	s.ops = kept
}

// Run drives ticks until ctx is done or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop ends a running Run loop and waits for it to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// candidate pairs an Op with the Stats UpdateStats filled in this cycle.
type candidate struct {
	op    Op
	stats Stats
}

// RunOnce executes a single scheduling cycle: refresh every op's stats,
// pick the highest-scoring runnable one, and run it to completion on the
// pool. It returns the op it ran, or nil if nothing was runnable.
func (s *Scheduler) RunOnce(ctx context.Context) Op {
	s.mu.Lock()
	ops := make([]Op, len(s.ops))
	copy(ops, s.ops)
	s.mu.Unlock()

	best := pickBest(ops)
	if best == nil {
		return nil
	}

	if !best.op.Prepare() {
		logutil.Debug("maintenance op busy, skipping this cycle",
			zap.String("op", best.op.Name()))
		return nil
	}

	done := make(chan struct{})
	if err := s.pool.Submit(func() {
		defer close(done)
		defer best.op.Release()
		if err := best.op.Perform(ctx); err != nil {
			logutil.Error("maintenance op failed",
				zap.String("op", best.op.Name()), logutil.ErrorField(err))
		}
	}); err != nil {
		best.op.Release()
		logutil.Warn("maintenance pool rejected op", zap.String("op", best.op.Name()), logutil.ErrorField(err))
		return nil
	}
	<-done
	return best.op
}

// pickBest refreshes every op's stats and returns the runnable op with the
// highest Score(), breaking ties by priority (higher first) then by tablet
// id (lexically first), per spec §4.F.
func pickBest(ops []Op) *candidate {
	candidates := make([]*candidate, 0, len(ops))
	for _, op := range ops {
		var stats Stats
		op.UpdateStats(&stats)
		if !stats.Runnable {
			continue
		}
		candidates = append(candidates, &candidate{op: op, stats: stats})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].stats.Score(), candidates[j].stats.Score()
		if si != sj {
			return si > sj
		}
		if candidates[i].stats.Priority != candidates[j].stats.Priority {
			return candidates[i].stats.Priority > candidates[j].stats.Priority
		}
		return candidates[i].op.TabletID() < candidates[j].op.TabletID()
	})
	return candidates[0]
}
