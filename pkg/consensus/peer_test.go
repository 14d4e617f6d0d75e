package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := NewDriver(4)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestPeerReplicatesOpsAndHeartbeats(t *testing.T) {
	d := newTestDriver(t)
	queue := NewSimpleQueue("t1", "leader")
	follower := NewFollowerHandler()
	factory := NewLoopbackProxyFactory()
	factory.Register("follower", follower)

	p := d.AddPeer("t1", "leader", "follower", queue, factory, time.Second, 20*time.Millisecond)
	require.Equal(t, Idle, p.State())

	queue.AppendOp([]byte("op1"))
	queue.AdvanceCommitIndex(1)
	require.NoError(t, p.SignalRequest(false))

	require.Eventually(t, func() bool {
		return follower.OpCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return queue.MatchIndex("follower") == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return p.State() == Idle
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, p.FailedAttempts())
}

func TestPeerHeartbeatWithNoOps(t *testing.T) {
	d := newTestDriver(t)
	queue := NewSimpleQueue("t1", "leader")
	follower := NewFollowerHandler()
	factory := NewLoopbackProxyFactory()
	factory.Register("follower", follower)

	p := d.AddPeer("t1", "leader", "follower", queue, factory, time.Second, 15*time.Millisecond)

	require.Eventually(t, func() bool {
		return queue.MatchIndex("follower") >= 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, follower.OpCount())
	require.Equal(t, 0, p.FailedAttempts())
}

func TestPeerRecoversAfterInjectedFailures(t *testing.T) {
	d := newTestDriver(t)
	queue := NewSimpleQueue("t1", "leader")
	follower := NewFollowerHandler()
	follower.InjectFailures(3)
	factory := NewLoopbackProxyFactory()
	factory.Register("follower", follower)

	p := d.AddPeer("t1", "leader", "follower", queue, factory, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return p.FailedAttempts() > 0
	}, time.Second, 5*time.Millisecond)

	queue.AppendOp([]byte("op1"))
	queue.AdvanceCommitIndex(1)

	require.Eventually(t, func() bool {
		return follower.OpCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 0, p.FailedAttempts())
}

func TestPeerClosedRejectsSignal(t *testing.T) {
	d := newTestDriver(t)
	queue := NewSimpleQueue("t1", "leader")
	follower := NewFollowerHandler()
	factory := NewLoopbackProxyFactory()
	factory.Register("follower", follower)

	p := d.AddPeer("t1", "leader", "follower", queue, factory, time.Second, time.Hour)
	p.Close()
	require.Equal(t, Closed, p.State())
	require.Error(t, p.SignalRequest(true))

	// Re-closing is idempotent.
	p.Close()
	require.Equal(t, Closed, p.State())
}

func TestPeerFallsBackToTabletCopy(t *testing.T) {
	d := newTestDriver(t)
	queue := NewSimpleQueue("t1", "leader")
	follower := NewFollowerHandler()
	factory := NewLoopbackProxyFactory()
	factory.Register("follower", follower)

	p := d.AddPeer("t1", "leader", "follower", queue, factory, time.Second, time.Hour)

	queue.AppendOp([]byte("op1"))
	queue.AppendOp([]byte("op2"))
	queue.AdvanceCommitIndex(2)
	require.NoError(t, p.SignalRequest(false))
	require.Eventually(t, func() bool {
		return queue.MatchIndex("follower") == 2
	}, time.Second, 5*time.Millisecond)

	// Truncate the log ahead of the peer's cursor: its next request must now
	// fall back to tablet copy instead of UpdateConsensus.
	queue.EvictOpsBefore(5)
	require.NoError(t, p.SignalRequest(true))

	require.Eventually(t, func() bool {
		return follower.OpCount() == 0
	}, time.Second, 5*time.Millisecond)
}
