// Package fs implements the DirManager of spec §4.A: canonicalized data
// roots, per-directory instance metadata, failure tracking, available-space
// caching, and an optional embedded KV engine for container metadata.
// Grounded on original_source/src/kudu/fs/dir_manager.cc.
package fs

import (
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// DirInstance is the per-data-root metadata file of spec §3 "DirInstance":
// a stable UUID, a per-dir-type tag, and the full set of sibling UUIDs the
// deployment expects.
type DirInstance struct {
	UUID     uuid.UUID
	DirType  string
	AllUUIDs []uuid.UUID
}

const (
	fieldInstUUID    = 1
	fieldInstDirType = 2
	fieldInstAllUUID = 3
)

func (di *DirInstance) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldInstUUID, protowire.BytesType)
	b = protowire.AppendBytes(b, di.UUID[:])
	b = protowire.AppendTag(b, fieldInstDirType, protowire.BytesType)
	b = protowire.AppendString(b, di.DirType)
	for _, u := range di.AllUUIDs {
		b = protowire.AppendTag(b, fieldInstAllUUID, protowire.BytesType)
		b = protowire.AppendBytes(b, u[:])
	}
	return b
}

func UnmarshalDirInstance(buf []byte) (*DirInstance, error) {
	di := &DirInstance{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 || typ != protowire.BytesType {
			return nil, kuduerr.NewCorruption("dir instance: bad tag")
		}
		buf = buf[n:]
		raw, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return nil, kuduerr.NewCorruption("dir instance: bad bytes field %d", num)
		}
		buf = buf[n:]
		switch num {
		case fieldInstUUID:
			u, err := uuid.FromBytes(raw)
			if err != nil {
				return nil, kuduerr.NewCorruption("dir instance: bad uuid: %v", err)
			}
			di.UUID = u
		case fieldInstDirType:
			di.DirType = string(raw)
		case fieldInstAllUUID:
			u, err := uuid.FromBytes(raw)
			if err != nil {
				return nil, kuduerr.NewCorruption("dir instance: bad sibling uuid: %v", err)
			}
			di.AllUUIDs = append(di.AllUUIDs, u)
		default:
			return nil, kuduerr.NewCorruption("dir instance: unknown field %d", num)
		}
	}
	return di, nil
}

// uuidSetEqual reports whether a and b contain the same set of UUIDs,
// order-independent — the comparison UpdateHealthyInstances uses to decide
// whether a rewrite is needed.
func uuidSetEqual(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, u := range a {
		set[u] = struct{}{}
	}
	for _, u := range b {
		if _, ok := set[u]; !ok {
			return false
		}
	}
	return true
}
