package consensus

import (
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// Driver owns one bounded per-replica worker pool (spec §4.E's "bounded
// per-replica worker pool", spec §5's "Per-replica Raft worker pool") shared
// by every Peer it creates for a tablet's leader role.
type Driver struct {
	pool *ants.Pool

	mu    sync.Mutex
	peers map[string]*Peer
}

// NewDriver builds a driver with a pool of the given worker capacity.
func NewDriver(poolSize int) (*Driver, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, kuduerr.Wrap(err, kuduerr.RuntimeError, "create raft worker pool")
	}
	return &Driver{pool: pool, peers: make(map[string]*Peer)}, nil
}

// AddPeer starts driving a new follower.
func (d *Driver) AddPeer(tabletID, leaderUUID, peerUUID string, queue PeerMessageQueue, proxyFactory PeerProxyFactory, rpcTimeout, heartbeatInterval time.Duration) *Peer {
	p := NewPeer(tabletID, leaderUUID, peerUUID, queue, d.pool, proxyFactory, rpcTimeout, heartbeatInterval)
	d.mu.Lock()
	d.peers[peerUUID] = p
	d.mu.Unlock()
	return p
}

// Peer returns a previously added peer, or nil.
func (d *Driver) Peer(peerUUID string) *Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[peerUUID]
}

// RemovePeer closes and stops tracking peerUUID.
func (d *Driver) RemovePeer(peerUUID string) {
	d.mu.Lock()
	p, ok := d.peers[peerUUID]
	delete(d.peers, peerUUID)
	d.mu.Unlock()
	if ok {
		p.Close()
	}
}

// Close stops every peer and releases the worker pool.
func (d *Driver) Close() {
	d.mu.Lock()
	peers := make([]*Peer, 0, len(d.peers))
	for _, p := range d.peers {
		peers = append(peers, p)
	}
	d.peers = make(map[string]*Peer)
	d.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	d.pool.Release()
}
