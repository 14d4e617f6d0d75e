package consensus

import "sync"

// PeerMessageQueue is what a Peer asks to populate its next request and
// reports results back to, per spec §4.E. The leader's Raft log/replication
// state lives behind this interface; Peer itself only drives the
// request/response cycle.
type PeerMessageQueue interface {
	TrackPeer(peerUUID string)
	UntrackPeer(peerUUID string)
	// RequestForPeer fills req for peerUUID's next send. needsTabletCopy true
	// means the peer has fallen too far behind the queue's retained log and
	// must be bootstrapped via tablet copy instead.
	RequestForPeer(peerUUID string, req *ConsensusRequest) (needsTabletCopy bool, err error)
	// ResponseFromPeer folds a successful response into queue state (e.g.
	// advancing the peer's match index) and reports whether the peer should
	// be sent another request immediately rather than waiting for the next
	// heartbeat or signal.
	ResponseFromPeer(peerUUID string, resp *ConsensusResponse) (sendMoreImmediately bool)
	UpdatePeerStatus(peerUUID string, status PeerStatus)
	GetTabletCopyRequestForPeer(peerUUID string) (*TabletCopyRequest, error)
}

// peerQueueState is one tracked peer's replication cursor.
type peerQueueState struct {
	nextIndex  int64 // next op index to send this peer
	matchIndex int64 // highest index this peer has acknowledged
	lastStatus PeerStatus
}

// SimpleQueue is a minimal PeerMessageQueue: an append-only op log plus a
// committed index and one cursor per tracked peer. It intentionally doesn't
// model log truncation on term changes or leader-election bookkeeping —
// those belong to a full consensus implementation outside this component's
// scope (spec §4.E only covers the peer driver, not the queue's own
// replication algorithm) — but it is enough to drive Peer through every
// state spec §4.E describes.
type SimpleQueue struct {
	mu             sync.Mutex
	tabletID       string
	callerUUID     string
	ops            []ReplicateMsg
	committedIndex int64
	retainedFrom   int64 // lowest op index still present in ops (0-based offset tracking)
	peers          map[string]*peerQueueState
}

func NewSimpleQueue(tabletID, callerUUID string) *SimpleQueue {
	return &SimpleQueue{
		tabletID:   tabletID,
		callerUUID: callerUUID,
		peers:      make(map[string]*peerQueueState),
	}
}

// AppendOp adds a new op to the log; the leader calls this as client writes
// arrive, independent of any peer's replication progress.
func (q *SimpleQueue) AppendOp(payload []byte) OpID {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := OpID{Term: 1, Index: q.retainedFrom + int64(len(q.ops)) + 1}
	q.ops = append(q.ops, ReplicateMsg{ID: id, Payload: payload})
	return id
}

// AdvanceCommitIndex lets a test (or, in a full implementation, the
// majority-match calculation) move the commit point forward directly.
func (q *SimpleQueue) AdvanceCommitIndex(index int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index > q.committedIndex {
		q.committedIndex = index
	}
}

// EvictOpsBefore drops ops with index < keepFrom and marks any peer whose
// nextIndex now falls behind the truncated log as needing tablet copy.
func (q *SimpleQueue) EvictOpsBefore(keepFrom int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	drop := 0
	for drop < len(q.ops) && q.ops[drop].ID.Index < keepFrom {
		drop++
	}
	q.ops = q.ops[drop:]
	q.retainedFrom = keepFrom - 1
}

func (q *SimpleQueue) TrackPeer(peerUUID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.peers[peerUUID]; !ok {
		q.peers[peerUUID] = &peerQueueState{nextIndex: q.retainedFrom + 1}
	}
}

func (q *SimpleQueue) UntrackPeer(peerUUID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.peers, peerUUID)
}

func (q *SimpleQueue) RequestForPeer(peerUUID string, req *ConsensusRequest) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.peers[peerUUID]
	if !ok {
		st = &peerQueueState{nextIndex: q.retainedFrom + 1}
		q.peers[peerUUID] = st
	}
	req.TabletID = q.tabletID
	req.CallerUUID = q.callerUUID
	req.DestUUID = peerUUID
	req.CommittedIndex = q.committedIndex
	req.Ops = nil

	if st.nextIndex <= q.retainedFrom {
		// The peer needs ops this queue no longer retains.
		return true, nil
	}
	startOffset := st.nextIndex - q.retainedFrom - 1
	if startOffset < 0 {
		startOffset = 0
	}
	if int(startOffset) < len(q.ops) {
		req.Ops = append(req.Ops, q.ops[startOffset:]...)
	}
	return false, nil
}

func (q *SimpleQueue) ResponseFromPeer(peerUUID string, resp *ConsensusResponse) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.peers[peerUUID]
	if !ok {
		return false
	}
	st.lastStatus = StatusOK
	if resp.CommittedIndex > st.matchIndex {
		st.matchIndex = resp.CommittedIndex
	}
	st.nextIndex = q.retainedFrom + int64(len(q.ops)) + 1
	return false
}

func (q *SimpleQueue) UpdatePeerStatus(peerUUID string, status PeerStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.peers[peerUUID]; ok {
		st.lastStatus = status
	}
}

func (q *SimpleQueue) GetTabletCopyRequestForPeer(peerUUID string) (*TabletCopyRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &TabletCopyRequest{TabletID: q.tabletID, CallerUUID: q.callerUUID, DestUUID: peerUUID}, nil
}

// MatchIndex reports a tracked peer's last-acknowledged committed index, for
// tests asserting replication progress.
func (q *SimpleQueue) MatchIndex(peerUUID string) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.peers[peerUUID]; ok {
		return st.matchIndex
	}
	return 0
}
