// Package consensus implements the leader-side Raft peer driver: one Peer
// per follower, a bounded per-replica worker pool, and the message shapes
// the driver exchanges with a PeerMessageQueue, per spec §4.E.
package consensus

// PeerStatus is what ProcessResponse reports back to the queue after
// classifying a round-trip, mirroring kudu::consensus::PeerStatus.
type PeerStatus int

const (
	// StatusOK is success: the peer applied (or didn't need) the request.
	StatusOK PeerStatus = iota
	// StatusRPCLayerError is a transport-level failure (dial, timeout, reset).
	StatusRPCLayerError
	// StatusRemoteError is a tserver-level error the remote explicitly returned.
	StatusRemoteError
	// StatusCannotPrepare is the remote's consensus layer rejecting the op
	// because it isn't ready to prepare it yet.
	StatusCannotPrepare
	// StatusTabletNotFound means the remote doesn't host this tablet at all.
	StatusTabletNotFound
	// StatusTabletFailed means the remote's replica of this tablet has failed.
	StatusTabletFailed
)

func (s PeerStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusRPCLayerError:
		return "RPC_LAYER_ERROR"
	case StatusRemoteError:
		return "REMOTE_ERROR"
	case StatusCannotPrepare:
		return "CANNOT_PREPARE"
	case StatusTabletNotFound:
		return "TABLET_NOT_FOUND"
	case StatusTabletFailed:
		return "TABLET_FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode is the recognized tserver-level error.code a ConsensusResponse
// can carry, per spec §6 "recognized codes".
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrCannotPrepare
	ErrTabletNotFound
	ErrTabletFailed
	ErrWrongServerUUID
)

// TabletCopyErrorCode is the recognized error.code a TabletCopyResponse can
// carry; OK and AlreadyInProgress are both treated as success.
type TabletCopyErrorCode int

const (
	TCErrNone TabletCopyErrorCode = iota
	TCErrAlreadyInProgress
	TCErrThrottled
	TCErrOther
)
