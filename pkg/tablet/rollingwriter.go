package tablet

import (
	"github.com/kudu-go/kudu/pkg/schema"
)

// RollingDiskRowSetWriter splits a long row stream into multiple
// target-sized DiskRowSets, per spec §4.D "RollingDiskRowSetWriter ...
// AppendBlock is the only legal point at which to roll to a new
// DiskRowSet." Rolling is checked only between AppendBlock calls, never
// mid-block, so a block's rows always land in a single rowset.
type RollingDiskRowSetWriter struct {
	bs               BlockStore
	schema           *schema.Schema
	targetRowSetSize int
	writeBloom       bool

	cur       *DiskRowSetWriter
	finished  []*DiskRowSetMeta
}

func NewRollingDiskRowSetWriter(bs BlockStore, s *schema.Schema, targetRowSetSize int, writeBloom bool) *RollingDiskRowSetWriter {
	return &RollingDiskRowSetWriter{bs: bs, schema: s, targetRowSetSize: targetRowSetSize, writeBloom: writeBloom}
}

// AppendBlock writes rows to the current DiskRowSet, rolling to a fresh one
// first if the current one has already reached its target size.
func (rw *RollingDiskRowSetWriter) AppendBlock(rows []Row) error {
	if rw.cur != nil && rw.cur.rowCount >= rw.targetRowSetSize {
		if err := rw.roll(); err != nil {
			return err
		}
	}
	if rw.cur == nil {
		if err := rw.openNext(len(rows)); err != nil {
			return err
		}
	}
	return rw.cur.AppendBlock(rows)
}

// AppendEncodedBlock is AppendBlock's counterpart for merge compaction
// output, which re-serializes already-decoded rows rather than typed values.
func (rw *RollingDiskRowSetWriter) AppendEncodedBlock(rows []EncodedRow) error {
	if rw.cur != nil && rw.cur.rowCount >= rw.targetRowSetSize {
		if err := rw.roll(); err != nil {
			return err
		}
	}
	if rw.cur == nil {
		if err := rw.openNext(len(rows)); err != nil {
			return err
		}
	}
	return rw.cur.AppendEncodedBlock(rows)
}

func (rw *RollingDiskRowSetWriter) openNext(expectedKeys int) error {
	if expectedKeys < rw.targetRowSetSize {
		expectedKeys = rw.targetRowSetSize
	}
	w, err := NewDiskRowSetWriter(rw.bs, rw.schema, rw.writeBloom, expectedKeys)
	if err != nil {
		return err
	}
	rw.cur = w
	return nil
}

func (rw *RollingDiskRowSetWriter) roll() error {
	meta, err := rw.cur.Finish()
	if err != nil {
		return err
	}
	if meta.RowCount > 0 {
		rw.finished = append(rw.finished, meta)
	}
	rw.cur = nil
	return nil
}

// Finish closes out the in-progress DiskRowSet (if any) and returns the
// metadata for every DiskRowSet written.
func (rw *RollingDiskRowSetWriter) Finish() ([]*DiskRowSetMeta, error) {
	if rw.cur != nil {
		if err := rw.roll(); err != nil {
			return nil, err
		}
	}
	return rw.finished, nil
}
