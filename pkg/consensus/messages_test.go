package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsensusRequestRoundTrip(t *testing.T) {
	req := &ConsensusRequest{
		TabletID:       "t1",
		CallerUUID:     "leader",
		DestUUID:       "follower",
		CommittedIndex: 7,
		Ops: []ReplicateMsg{
			{ID: OpID{Term: 1, Index: 5}, Payload: []byte("a")},
			{ID: OpID{Term: 1, Index: 6}, Payload: []byte("bb")},
		},
	}
	buf := req.Marshal()
	got, err := UnmarshalConsensusRequest(buf)
	require.NoError(t, err)
	require.Equal(t, req.TabletID, got.TabletID)
	require.Equal(t, req.CallerUUID, got.CallerUUID)
	require.Equal(t, req.DestUUID, got.DestUUID)
	require.Equal(t, req.CommittedIndex, got.CommittedIndex)
	require.Len(t, got.Ops, 2)
	require.Equal(t, req.Ops[0].ID, got.Ops[0].ID)
	require.Equal(t, []byte("a"), got.Ops[0].Payload)
	require.Equal(t, []byte("bb"), got.Ops[1].Payload)
}

func TestConsensusResponseRoundTrip(t *testing.T) {
	resp := &ConsensusResponse{ErrorCode: ErrTabletNotFound, ErrorMessage: "nope", CommittedIndex: 3}
	buf := resp.Marshal()
	got, err := UnmarshalConsensusResponse(buf)
	require.NoError(t, err)
	require.Equal(t, resp.ErrorCode, got.ErrorCode)
	require.Equal(t, resp.ErrorMessage, got.ErrorMessage)
	require.Equal(t, resp.CommittedIndex, got.CommittedIndex)
}

func TestConsensusResponseRoundTripSuccess(t *testing.T) {
	resp := &ConsensusResponse{CommittedIndex: 42}
	got, err := UnmarshalConsensusResponse(resp.Marshal())
	require.NoError(t, err)
	require.Equal(t, ErrNone, got.ErrorCode)
	require.Equal(t, int64(42), got.CommittedIndex)
}

func TestTabletCopyRequestRoundTrip(t *testing.T) {
	req := &TabletCopyRequest{TabletID: "t1", CallerUUID: "leader", DestUUID: "follower"}
	got, err := UnmarshalTabletCopyRequest(req.Marshal())
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestTabletCopyResponseRoundTrip(t *testing.T) {
	resp := &TabletCopyResponse{ErrorCode: TCErrThrottled, ErrorMessage: "busy"}
	got, err := UnmarshalTabletCopyResponse(resp.Marshal())
	require.NoError(t, err)
	require.Equal(t, resp, got)
}
