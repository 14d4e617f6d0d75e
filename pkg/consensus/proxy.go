package consensus

import (
	"context"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// PeerProxy is the narrow capability set a Peer needs from its remote
// follower: two async-shaped RPCs, both contextualized for the configured
// consensus RPC timeout. Mirrors kudu::consensus::PeerProxy; a real
// deployment plugs in a network transport here (this module doesn't carry
// one of its own — see DESIGN.md), while tests and the in-process driver use
// LoopbackProxy.
type PeerProxy interface {
	UpdateConsensus(ctx context.Context, req *ConsensusRequest) (*ConsensusResponse, error)
	StartTabletCopy(ctx context.Context, req *TabletCopyRequest) (*TabletCopyResponse, error)
}

// PeerProxyFactory creates (or recreates, after a prior failure) the proxy
// for a given peer UUID, per spec §4.E "a peer proxy (lazy, recreated after
// creation failures)".
type PeerProxyFactory interface {
	NewProxy(peerUUID string) (PeerProxy, error)
}

// PeerHandler is the receiving side of the two RPCs: whatever hosts a
// follower's consensus replica (its own PeerMessageQueue-backed apply path)
// implements this so LoopbackProxy can dispatch into it directly.
type PeerHandler interface {
	HandleUpdateConsensus(ctx context.Context, req *ConsensusRequest) (*ConsensusResponse, error)
	HandleStartTabletCopy(ctx context.Context, req *TabletCopyRequest) (*TabletCopyResponse, error)
}

// LoopbackProxy calls a PeerHandler directly in-process instead of over a
// network, for single-process tests and for embedding followers that happen
// to live in the same binary as the leader.
type LoopbackProxy struct {
	handler PeerHandler
}

func NewLoopbackProxy(handler PeerHandler) *LoopbackProxy {
	return &LoopbackProxy{handler: handler}
}

func (p *LoopbackProxy) UpdateConsensus(ctx context.Context, req *ConsensusRequest) (*ConsensusResponse, error) {
	return p.handler.HandleUpdateConsensus(ctx, req)
}

func (p *LoopbackProxy) StartTabletCopy(ctx context.Context, req *TabletCopyRequest) (*TabletCopyResponse, error) {
	return p.handler.HandleStartTabletCopy(ctx, req)
}

// LoopbackProxyFactory vends a LoopbackProxy per peer UUID from a registry
// of handlers, populated by whatever wires up the local test cluster.
type LoopbackProxyFactory struct {
	handlers map[string]PeerHandler
}

func NewLoopbackProxyFactory() *LoopbackProxyFactory {
	return &LoopbackProxyFactory{handlers: make(map[string]PeerHandler)}
}

func (f *LoopbackProxyFactory) Register(peerUUID string, handler PeerHandler) {
	f.handlers[peerUUID] = handler
}

func (f *LoopbackProxyFactory) NewProxy(peerUUID string) (PeerProxy, error) {
	h, ok := f.handlers[peerUUID]
	if !ok {
		return nil, kuduerr.NewNotFound("no registered handler for peer %q", peerUUID)
	}
	return NewLoopbackProxy(h), nil
}
