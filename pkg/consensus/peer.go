package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/logutil"
)

// logFailureEveryN is how often a run of consecutive failed attempts logs a
// warning: first occurrence, then every Nth retry, per spec §4.N
// "Consensus peer retry back-off logging" (N=10, grounded in the original's
// FLAGS_consensus_peer_failure_log_interval-style modulo check).
const logFailureEveryN = 10

// State is a Peer's coarse lifecycle state, per spec §8 invariant "at most
// one of {Idle, RequestPending} is true; Closed is terminal".
type State int

const (
	Idle State = iota
	RequestPending
	Closed
)

// Peer drives one follower of a Raft-replicated tablet from the leader
// side: owns a lazily created PeerProxy, an at-most-one-outstanding-request
// flag, a heartbeat timer, and a failure counter. Grounded on
// original_source/src/kudu/consensus/consensus_peers.cc's Peer class; the
// split between ProcessResponse (reactor thread) and DoProcessResponse
// (resubmitted to the worker pool) collapses here into one synchronous
// continuation, since this driver's PeerProxy call already runs inside a
// pool-submitted goroutine rather than an async RPC callback.
type Peer struct {
	tabletID   string
	leaderUUID string
	peerUUID   string

	queue        PeerMessageQueue
	pool         *ants.Pool
	proxyFactory PeerProxyFactory
	rpcTimeout   time.Duration

	proxyMu sync.Mutex
	proxy   PeerProxy

	mu                  sync.Mutex
	request             ConsensusRequest
	requestPending      bool
	closed              bool
	hasSentFirstRequest bool
	failedAttempts      int

	heartbeatMu       sync.Mutex
	heartbeatInterval time.Duration
	heartbeatTimer    *time.Timer
}

// NewPeer constructs and starts a peer: tracks it with queue and arms the
// heartbeat timer, per spec §4.E "Init".
func NewPeer(tabletID, leaderUUID, peerUUID string, queue PeerMessageQueue, pool *ants.Pool, proxyFactory PeerProxyFactory, rpcTimeout, heartbeatInterval time.Duration) *Peer {
	p := &Peer{
		tabletID:          tabletID,
		leaderUUID:        leaderUUID,
		peerUUID:          peerUUID,
		queue:             queue,
		pool:              pool,
		proxyFactory:      proxyFactory,
		rpcTimeout:        rpcTimeout,
		heartbeatInterval: heartbeatInterval,
	}
	queue.TrackPeer(peerUUID)
	p.armHeartbeat()
	return p
}

// State reports the peer's current coarse lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return Closed
	case p.requestPending:
		return RequestPending
	default:
		return Idle
	}
}

// FailedAttempts reports the current consecutive-failure count, for tests
// and for maintenance-style health reporting.
func (p *Peer) FailedAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failedAttempts
}

func (p *Peer) armHeartbeat() {
	p.heartbeatMu.Lock()
	defer p.heartbeatMu.Unlock()
	p.heartbeatTimer = time.AfterFunc(p.heartbeatInterval, p.onHeartbeat)
}

func (p *Peer) onHeartbeat() {
	if err := p.SignalRequest(true); err != nil {
		logutil.Warn("heartbeat SignalRequest failed", logutil.ErrorField(err), common.AnyField("peer", p.peerUUID))
	}
	p.heartbeatMu.Lock()
	if !p.isClosed() {
		p.heartbeatTimer = time.AfterFunc(p.heartbeatInterval, p.onHeartbeat)
	}
	p.heartbeatMu.Unlock()
}

// snoozeHeartbeat pushes the next heartbeat out by a full interval, per
// spec §4.E "if the request has ops ... snooze the heartbeat".
func (p *Peer) snoozeHeartbeat() {
	p.heartbeatMu.Lock()
	defer p.heartbeatMu.Unlock()
	if p.heartbeatTimer != nil {
		p.heartbeatTimer.Reset(p.heartbeatInterval)
	}
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SignalRequest asks the worker pool to send the peer's next request,
// returning immediately. A no-op (not an error) if a request is already in
// flight; an IllegalState error if the peer is closed.
func (p *Peer) SignalRequest(evenIfQueueEmpty bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return kuduerr.NewIllegalState("peer %q closed", p.peerUUID)
	}
	if p.requestPending {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.pool.Submit(func() {
		p.sendNextRequest(evenIfQueueEmpty)
	})
}

func (p *Peer) createProxyIfNeeded() bool {
	p.proxyMu.Lock()
	defer p.proxyMu.Unlock()
	if p.proxy != nil {
		return true
	}
	proxy, err := p.proxyFactory.NewProxy(p.peerUUID)
	if err != nil {
		logutil.Warn("unable to create peer proxy", logutil.ErrorField(err), common.AnyField("peer", p.peerUUID))
		return false
	}
	p.proxy = proxy
	return true
}

// sendNextRequest is the core of the driver, per spec §4.E "SendNextRequest".
func (p *Peer) sendNextRequest(evenIfQueueEmpty bool) {
	p.mu.Lock()
	if p.closed || p.requestPending {
		p.mu.Unlock()
		return
	}
	if !p.hasSentFirstRequest {
		evenIfQueueEmpty = true
	}
	if p.failedAttempts > 0 && !evenIfQueueEmpty {
		p.mu.Unlock()
		return
	}

	commitBefore := p.request.CommittedIndex
	needsTabletCopy, err := p.queue.RequestForPeer(p.peerUUID, &p.request)
	commitAfter := p.request.CommittedIndex
	if err != nil {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if !p.createProxyIfNeeded() {
		return
	}

	if needsTabletCopy {
		p.sendTabletCopy()
		return
	}

	reqHasOps := len(p.request.Ops) > 0 || commitAfter > commitBefore
	if !reqHasOps && !evenIfQueueEmpty {
		return
	}
	if reqHasOps {
		p.snoozeHeartbeat()
	}

	p.mu.Lock()
	if !p.hasSentFirstRequest {
		p.request.TabletID = p.tabletID
		p.request.CallerUUID = p.leaderUUID
		p.request.DestUUID = p.peerUUID
		p.hasSentFirstRequest = true
	}
	reqCopy := p.request
	p.requestPending = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.rpcTimeout)
	defer cancel()
	resp, err := p.proxy.UpdateConsensus(ctx, &reqCopy)
	p.processResponse(resp, err)
}

func (p *Peer) sendTabletCopy() {
	tcReq, err := p.queue.GetTabletCopyRequestForPeer(p.peerUUID)
	if err != nil {
		logutil.Warn("unable to generate tablet copy request", logutil.ErrorField(err), common.AnyField("peer", p.peerUUID))
		return
	}
	p.mu.Lock()
	p.requestPending = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.rpcTimeout)
	defer cancel()
	resp, err := p.proxy.StartTabletCopy(ctx, tcReq)
	p.processTabletCopyResponse(resp, err)
}

// processResponse classifies the round trip and reports a single PeerStatus
// to the queue, per spec §4.E "ProcessResponse": distinguish transport
// error, remote error, CANNOT_PREPARE, tablet-not-found, tablet-failed,
// wrong-uuid, or success.
func (p *Peer) processResponse(resp *ConsensusResponse, err error) {
	if err != nil {
		p.queue.UpdatePeerStatus(p.peerUUID, StatusRPCLayerError)
		p.recordFailure(err)
		return
	}
	if resp.ErrorCode != ErrNone {
		var status PeerStatus
		switch resp.ErrorCode {
		case ErrCannotPrepare:
			status = StatusCannotPrepare
		case ErrTabletNotFound:
			status = StatusTabletNotFound
		case ErrTabletFailed, ErrWrongServerUUID:
			status = StatusTabletFailed
		default:
			status = StatusRemoteError
		}
		p.queue.UpdatePeerStatus(p.peerUUID, status)
		p.recordFailure(kuduerr.NewRuntimeError("%s", resp.ErrorMessage))
		return
	}

	sendMore := p.queue.ResponseFromPeer(p.peerUUID, resp)
	p.mu.Lock()
	p.failedAttempts = 0
	p.requestPending = false
	p.mu.Unlock()

	if sendMore {
		p.sendNextRequest(true)
	}
}

// recordFailure bumps the failure counter and logs on the first occurrence,
// then every logFailureEveryN-th retry, per spec §4.E/§4.N.
func (p *Peer) recordFailure(cause error) {
	p.mu.Lock()
	p.failedAttempts++
	attempts := p.failedAttempts
	p.requestPending = false
	p.mu.Unlock()

	if attempts%logFailureEveryN == 1 {
		logutil.Warn("consensus request to peer failed",
			common.AnyField("peer", p.peerUUID),
			common.AnyField("attempt", attempts),
			logutil.ErrorField(cause))
	}
}

// processTabletCopyResponse treats OK or ALREADY_INPROGRESS as success,
// swallows THROTTLED silently, and logs everything else once, per spec
// §4.E "Tablet copy response".
func (p *Peer) processTabletCopyResponse(resp *TabletCopyResponse, err error) {
	p.mu.Lock()
	closed := p.closed
	p.requestPending = false
	p.mu.Unlock()
	if closed {
		return
	}

	success := err == nil && (resp.ErrorCode == TCErrNone || resp.ErrorCode == TCErrAlreadyInProgress)
	if success {
		p.queue.UpdatePeerStatus(p.peerUUID, StatusOK)
		return
	}
	if err == nil && resp.ErrorCode == TCErrThrottled {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	} else {
		msg = resp.ErrorMessage
	}
	logutil.Warn("unable to start tablet copy on peer", common.AnyField("peer", p.peerUUID), common.AnyField("detail", msg))
}

// Close is idempotent: marks the peer closed, untracks it from the queue,
// and stops the heartbeat timer.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.heartbeatMu.Lock()
	if p.heartbeatTimer != nil {
		p.heartbeatTimer.Stop()
	}
	p.heartbeatMu.Unlock()

	p.queue.UntrackPeer(p.peerUUID)
}
