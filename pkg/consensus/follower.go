package consensus

import (
	"context"
	"sync"
)

// FollowerHandler is a minimal PeerHandler: it appends received ops to a
// local log and tracks the leader's committed index, enough to drive a
// Peer through its full request/response cycle in tests without a real
// transport or a second full consensus replica.
type FollowerHandler struct {
	mu             sync.Mutex
	ops            []ReplicateMsg
	committedIndex int64
	failInjected   int // remaining forced-failure responses
}

func NewFollowerHandler() *FollowerHandler {
	return &FollowerHandler{}
}

// InjectFailures makes the next n UpdateConsensus calls return an RPC-layer
// error, for peer-recovery tests (spec §8 scenario 4).
func (f *FollowerHandler) InjectFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInjected = n
}

func (f *FollowerHandler) HandleUpdateConsensus(_ context.Context, req *ConsensusRequest) (*ConsensusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInjected > 0 {
		f.failInjected--
		return nil, errInjectedFailure
	}
	f.ops = append(f.ops, req.Ops...)
	if req.CommittedIndex > f.committedIndex {
		f.committedIndex = req.CommittedIndex
	}
	return &ConsensusResponse{CommittedIndex: f.committedIndex}, nil
}

func (f *FollowerHandler) HandleStartTabletCopy(_ context.Context, req *TabletCopyRequest) (*TabletCopyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
	f.committedIndex = 0
	return &TabletCopyResponse{}, nil
}

// OpCount reports how many ops this follower has durably received.
func (f *FollowerHandler) OpCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ops)
}

var errInjectedFailure = &injectedFailure{}

type injectedFailure struct{}

func (*injectedFailure) Error() string { return "injected RPC failure" }
