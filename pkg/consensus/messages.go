package consensus

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// OpID identifies one logged operation by Raft term and log index.
type OpID struct {
	Term  int64
	Index int64
}

// ReplicateMsg is one op the queue hands to a peer; Payload is the op's
// opaque serialized body (outside this package's scope — the peer driver
// only needs to carry it, never interpret it).
type ReplicateMsg struct {
	ID      OpID
	Payload []byte
}

// ConsensusRequest is the wire shape of UpdateConsensus's request, per spec
// §6: tablet/caller/dest identity (set once, on first send) plus the ops
// batch and committed index.
type ConsensusRequest struct {
	TabletID       string
	CallerUUID     string
	DestUUID       string
	CommittedIndex int64
	Ops            []ReplicateMsg
}

// ConsensusResponse is UpdateConsensus's response: either success
// (ErrorCode == ErrNone) with the responder's last-committed index, or a
// tserver-level error.
type ConsensusResponse struct {
	ErrorCode      ErrorCode
	ErrorMessage   string
	CommittedIndex int64
}

// TabletCopyRequest is StartTabletCopy's request.
type TabletCopyRequest struct {
	TabletID   string
	CallerUUID string
	DestUUID   string
}

// TabletCopyResponse is StartTabletCopy's response.
type TabletCopyResponse struct {
	ErrorCode    TabletCopyErrorCode
	ErrorMessage string
}

const (
	fieldReqTabletID   = 1
	fieldReqCallerUUID = 2
	fieldReqDestUUID   = 3
	fieldReqCommitted  = 4
	fieldReqOp         = 5
	fieldOpTerm        = 1
	fieldOpIndex       = 2
	fieldOpPayload     = 3

	fieldRespErrCode  = 1
	fieldRespErrMsg   = 2
	fieldRespCommitted = 3

	fieldTCReqTabletID   = 1
	fieldTCReqCallerUUID = 2
	fieldTCReqDestUUID   = 3

	fieldTCRespErrCode = 1
	fieldTCRespErrMsg  = 2
)

// Marshal encodes r with protowire, the same low-level wire codec pkg/cfile
// and pkg/delta use for their on-disk messages — here reused for the
// in-memory RPC request/response shapes so the whole module standardizes on
// one message format.
func (r *ConsensusRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldReqTabletID, protowire.BytesType)
	b = protowire.AppendString(b, r.TabletID)
	b = protowire.AppendTag(b, fieldReqCallerUUID, protowire.BytesType)
	b = protowire.AppendString(b, r.CallerUUID)
	b = protowire.AppendTag(b, fieldReqDestUUID, protowire.BytesType)
	b = protowire.AppendString(b, r.DestUUID)
	b = protowire.AppendTag(b, fieldReqCommitted, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.CommittedIndex))
	for _, op := range r.Ops {
		var ob []byte
		ob = protowire.AppendTag(ob, fieldOpTerm, protowire.VarintType)
		ob = protowire.AppendVarint(ob, uint64(op.ID.Term))
		ob = protowire.AppendTag(ob, fieldOpIndex, protowire.VarintType)
		ob = protowire.AppendVarint(ob, uint64(op.ID.Index))
		ob = protowire.AppendTag(ob, fieldOpPayload, protowire.BytesType)
		ob = protowire.AppendBytes(ob, op.Payload)
		b = protowire.AppendTag(b, fieldReqOp, protowire.BytesType)
		b = protowire.AppendBytes(b, ob)
	}
	return b
}

// UnmarshalConsensusRequest decodes a wire ConsensusRequest.
func UnmarshalConsensusRequest(buf []byte) (*ConsensusRequest, error) {
	r := &ConsensusRequest{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, kuduerr.NewCorruption("bad consensus request tag")
		}
		buf = buf[n:]
		switch num {
		case fieldReqTabletID, fieldReqCallerUUID, fieldReqDestUUID:
			if typ != protowire.BytesType {
				return nil, kuduerr.NewCorruption("bad consensus request field %d type", num)
			}
			s, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad consensus request string")
			}
			buf = buf[n:]
			switch num {
			case fieldReqTabletID:
				r.TabletID = s
			case fieldReqCallerUUID:
				r.CallerUUID = s
			case fieldReqDestUUID:
				r.DestUUID = s
			}
		case fieldReqCommitted:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad consensus request committed index")
			}
			buf = buf[n:]
			r.CommittedIndex = int64(v)
		case fieldReqOp:
			raw, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad consensus request op")
			}
			buf = buf[n:]
			op, err := unmarshalOp(raw)
			if err != nil {
				return nil, err
			}
			r.Ops = append(r.Ops, op)
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad consensus request field %d", num)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

func unmarshalOp(buf []byte) (ReplicateMsg, error) {
	var op ReplicateMsg
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return op, kuduerr.NewCorruption("bad op tag")
		}
		buf = buf[n:]
		switch num {
		case fieldOpTerm:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return op, kuduerr.NewCorruption("bad op term")
			}
			buf = buf[n:]
			op.ID.Term = int64(v)
		case fieldOpIndex:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return op, kuduerr.NewCorruption("bad op index")
			}
			buf = buf[n:]
			op.ID.Index = int64(v)
		case fieldOpPayload:
			raw, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return op, kuduerr.NewCorruption("bad op payload")
			}
			buf = buf[n:]
			op.Payload = append([]byte(nil), raw...)
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return op, kuduerr.NewCorruption("bad op field %d", num)
			}
			buf = buf[n:]
		}
	}
	return op, nil
}

func (r *ConsensusResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRespErrCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ErrorCode))
	if r.ErrorMessage != "" {
		b = protowire.AppendTag(b, fieldRespErrMsg, protowire.BytesType)
		b = protowire.AppendString(b, r.ErrorMessage)
	}
	b = protowire.AppendTag(b, fieldRespCommitted, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.CommittedIndex))
	return b
}

func UnmarshalConsensusResponse(buf []byte) (*ConsensusResponse, error) {
	r := &ConsensusResponse{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, kuduerr.NewCorruption("bad consensus response tag")
		}
		buf = buf[n:]
		switch num {
		case fieldRespErrCode:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad consensus response error code")
			}
			buf = buf[n:]
			r.ErrorCode = ErrorCode(v)
		case fieldRespErrMsg:
			s, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad consensus response message")
			}
			buf = buf[n:]
			r.ErrorMessage = s
		case fieldRespCommitted:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad consensus response committed index")
			}
			buf = buf[n:]
			r.CommittedIndex = int64(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad consensus response field %d", num)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

func (r *TabletCopyRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTCReqTabletID, protowire.BytesType)
	b = protowire.AppendString(b, r.TabletID)
	b = protowire.AppendTag(b, fieldTCReqCallerUUID, protowire.BytesType)
	b = protowire.AppendString(b, r.CallerUUID)
	b = protowire.AppendTag(b, fieldTCReqDestUUID, protowire.BytesType)
	b = protowire.AppendString(b, r.DestUUID)
	return b
}

func (r *TabletCopyResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTCRespErrCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.ErrorCode))
	if r.ErrorMessage != "" {
		b = protowire.AppendTag(b, fieldTCRespErrMsg, protowire.BytesType)
		b = protowire.AppendString(b, r.ErrorMessage)
	}
	return b
}

// UnmarshalTabletCopyRequest decodes a wire TabletCopyRequest. LoopbackProxy
// never serializes these (it dispatches the Go struct directly in-process),
// but a networked PeerProxy implementation would need this to decode what
// Marshal produced.
func UnmarshalTabletCopyRequest(buf []byte) (*TabletCopyRequest, error) {
	r := &TabletCopyRequest{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, kuduerr.NewCorruption("bad tablet copy request tag")
		}
		buf = buf[n:]
		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad tablet copy request field %d", num)
			}
			buf = buf[n:]
			continue
		}
		s, n := protowire.ConsumeString(buf)
		if n < 0 {
			return nil, kuduerr.NewCorruption("bad tablet copy request string")
		}
		buf = buf[n:]
		switch num {
		case fieldTCReqTabletID:
			r.TabletID = s
		case fieldTCReqCallerUUID:
			r.CallerUUID = s
		case fieldTCReqDestUUID:
			r.DestUUID = s
		}
	}
	return r, nil
}

// UnmarshalTabletCopyResponse decodes a wire TabletCopyResponse.
func UnmarshalTabletCopyResponse(buf []byte) (*TabletCopyResponse, error) {
	r := &TabletCopyResponse{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, kuduerr.NewCorruption("bad tablet copy response tag")
		}
		buf = buf[n:]
		switch num {
		case fieldTCRespErrCode:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad tablet copy response error code")
			}
			buf = buf[n:]
			r.ErrorCode = TabletCopyErrorCode(v)
		case fieldTCRespErrMsg:
			s, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad tablet copy response message")
			}
			buf = buf[n:]
			r.ErrorMessage = s
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, kuduerr.NewCorruption("bad tablet copy response field %d", num)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}
