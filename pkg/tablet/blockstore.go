// Package tablet implements the tablet storage engine of spec §4.D:
// MemRowSet, DiskRowSet, RollingDiskRowSetWriter, and the Tablet that ties
// mutation routing, flush, and merge compaction together.
// Grounded on original_source/src/kudu/tablet/diskrowset.h and the
// tae/tables job/rowset wiring for the flush/compaction job shapes.
package tablet

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/kudu-go/kudu/pkg/common"
	"github.com/kudu-go/kudu/pkg/fs"
	"github.com/kudu-go/kudu/pkg/kuduerr"
)

// BlockStore is where a DiskRowSet's column/key-index CFiles and its bloom
// block live.
// pkg/fs's DirManager provides the production implementation (FSBlockStore
// below); tests use MemBlockStore.
type BlockStore interface {
	CreateBlock() (id string, w io.WriteCloser, err error)
	OpenBlock(id string) (io.ReaderAt, int64, error)
	DeleteBlock(id string) error
}

// MemBlockStore keeps every block as an in-memory buffer, for tests and for
// deployments that genuinely want ephemeral tablets (none in production,
// but convenient for unit-testing the rowset/tablet logic in isolation from
// pkg/fs).
type MemBlockStore struct {
	mu     sync.Mutex
	blocks map[string]*memBlock
}

type memBlock struct {
	buf bytes.Buffer
}

func (b *memBlock) Write(p []byte) (int, error) { return b.buf.Write(p) }
func (b *memBlock) Close() error                { return nil }
func (b *memBlock) ReadAt(p []byte, off int64) (int, error) {
	data := b.buf.Bytes()
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func NewMemBlockStore() *MemBlockStore {
	return &MemBlockStore{blocks: make(map[string]*memBlock)}
}

func (s *MemBlockStore) CreateBlock() (string, io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	b := &memBlock{}
	s.blocks[id] = b
	return id, b, nil
}

func (s *MemBlockStore) OpenBlock(id string) (io.ReaderAt, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, 0, kuduerr.NewNotFound("block %s not found", id)
	}
	return b, int64(b.buf.Len()), nil
}

func (s *MemBlockStore) DeleteBlock(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, id)
	return nil
}

// FSBlockStore places each block under a healthy data dir chosen by a
// fs.DirManager, grounding spec §3 "A provides the physical block placement
// and failure domain" in a real implementation rather than leaving it to
// the in-memory test double.
type FSBlockStore struct {
	dm       *fs.DirManager
	tabletID common.ID
	seed     int
	mu       sync.Mutex
}

func NewFSBlockStore(dm *fs.DirManager, tabletID common.ID) *FSBlockStore {
	return &FSBlockStore{dm: dm, tabletID: tabletID}
}

func (s *FSBlockStore) nextDir() (int, error) {
	s.mu.Lock()
	seed := s.seed
	s.seed++
	s.mu.Unlock()
	idx, ok := s.dm.HealthyDirIndex(seed)
	if !ok {
		return 0, kuduerr.NewIOError(0, "no healthy data dir available for new block")
	}
	return idx, nil
}

func (s *FSBlockStore) CreateBlock() (string, io.WriteCloser, error) {
	idx, err := s.nextDir()
	if err != nil {
		return "", nil, err
	}
	root, ok := s.dm.FindDirByUuidIndex(idx)
	if !ok {
		return "", nil, kuduerr.NewIllegalState("dir index %d vanished between lookup and use", idx)
	}
	id := uuid.New().String()
	path := filepath.Join(root, "blocks", id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", nil, kuduerr.ClassifyIOError(err, "mkdir block parent")
	}
	f, err := os.Create(path)
	if err != nil {
		return "", nil, kuduerr.ClassifyIOError(err, "create block file")
	}
	s.dm.RegisterTabletDir(s.tabletID, idx)
	return fmt.Sprintf("%d:%s", idx, id), f, nil
}

func (s *FSBlockStore) OpenBlock(blockID string) (io.ReaderAt, int64, error) {
	idx, id, err := parseBlockID(blockID)
	if err != nil {
		return nil, 0, err
	}
	root, ok := s.dm.FindDirByUuidIndex(idx)
	if !ok {
		return nil, 0, kuduerr.NewNotFound("dir index %d not found", idx)
	}
	path := filepath.Join(root, "blocks", id)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, kuduerr.ClassifyIOError(err, "open block file")
	}
	info, err := f.Stat()
	if err != nil {
		return nil, 0, kuduerr.ClassifyIOError(err, "stat block file")
	}
	return f, info.Size(), nil
}

func (s *FSBlockStore) DeleteBlock(blockID string) error {
	idx, id, err := parseBlockID(blockID)
	if err != nil {
		return err
	}
	root, ok := s.dm.FindDirByUuidIndex(idx)
	if !ok {
		return kuduerr.NewNotFound("dir index %d not found", idx)
	}
	if err := os.Remove(filepath.Join(root, "blocks", id)); err != nil && !os.IsNotExist(err) {
		return kuduerr.ClassifyIOError(err, "remove block file")
	}
	return nil
}

func parseBlockID(blockID string) (idx int, id string, err error) {
	var n int
	_, scanErr := fmt.Sscanf(blockID, "%d:", &n)
	if scanErr != nil {
		return 0, "", kuduerr.NewInvalidArgument("malformed block id %q", blockID)
	}
	prefix := fmt.Sprintf("%d:", n)
	if len(blockID) <= len(prefix) {
		return 0, "", kuduerr.NewInvalidArgument("malformed block id %q", blockID)
	}
	return n, blockID[len(prefix):], nil
}
