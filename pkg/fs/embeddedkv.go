package fs

import (
	"github.com/cockroachdb/pebble"

	"github.com/kudu-go/kudu/pkg/kuduerr"
	"github.com/kudu-go/kudu/pkg/options"
)

const embeddedKVSubdir = "block_manager_instance_metadata"

// openEmbeddedKV opens (or creates) the per-data-dir log-structured KV
// store pkg/fs uses to hold container block metadata, per spec §4.A "A
// subclass opens an embedded log-structured KV store rooted at each data
// dir for container metadata, with a shared block cache and a bounded
// background-job pool."
func openEmbeddedKV(dirPath string, cfg *options.EmbeddedKVCfg) (*pebble.DB, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(cfg.BlockCacheMB << 20),
		MemTableSize:             int(cfg.MemtableSizeMB) << 20,
		MaxConcurrentCompactions: cfg.MaxBackgroundJobs,
	}
	db, err := pebble.Open(dirPath+"/"+embeddedKVSubdir, opts)
	if err != nil {
		return nil, kuduerr.Wrap(err, kuduerr.IOError, "open embedded kv at %s", dirPath)
	}
	return db, nil
}

// embeddedKVPut/embeddedKVGet are the thin wrappers KVPut/KVGet call
// through; kept here so callers never import
// pebble directly, per spec §4.A's "optional" framing of the embedded KV
// engine.
func embeddedKVPut(db *pebble.DB, key, value []byte) error {
	if err := db.Set(key, value, pebble.Sync); err != nil {
		return kuduerr.Wrap(err, kuduerr.IOError, "embedded kv put")
	}
	return nil
}

func embeddedKVGet(db *pebble.DB, key []byte) ([]byte, error) {
	v, closer, err := db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, kuduerr.NewNotFound("embedded kv key not found")
		}
		return nil, kuduerr.Wrap(err, kuduerr.IOError, "embedded kv get")
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

// (db *DirManager) KVPut/KVGet expose the embedded store for dir idx to
// callers outside pkg/fs; pkg/tablet does not call them.
func (dm *DirManager) KVPut(idx int, key, value []byte) error {
	dm.mu.RLock()
	db := dm.dirs[idx].kv
	dm.mu.RUnlock()
	if db == nil {
		return kuduerr.NewIllegalState("dir %d has no embedded kv engine open", idx)
	}
	return embeddedKVPut(db, key, value)
}

func (dm *DirManager) KVGet(idx int, key []byte) ([]byte, error) {
	dm.mu.RLock()
	db := dm.dirs[idx].kv
	dm.mu.RUnlock()
	if db == nil {
		return nil, kuduerr.NewIllegalState("dir %d has no embedded kv engine open", idx)
	}
	return embeddedKVGet(db, key)
}
