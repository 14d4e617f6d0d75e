// Package options collects every tunable parameter named in spec §6 into
// one Options aggregate, mirroring the teacher's tae/options package.
package options

import "time"

const (
	DefaultFlushThresholdMB     = 128
	DefaultFlushThresholdSecs   = 60 * 30
	DefaultFlushUpperBoundMS    = 60 * 1000
	DefaultEnableFlushMRS       = true
	DefaultEnableFlushDMS       = true
	DefaultEnableLogGC          = true
	DefaultConsensusRPCTimeout  = 15 * time.Second
	DefaultRaftHeartbeatMillis  = 500
	DefaultGetNodeInstanceSecs  = 30
	DefaultEnableTabletCopy     = true
	DefaultDirReservedBytes     = 0
	DefaultSpaceCacheTTL        = 10 * time.Second
	DefaultRDBCacheMB           = 64
	DefaultRDBMemtableMB        = 32
	DefaultRDBMaxBackgroundJobs = 2
	DefaultMaintenanceIOWorkers = 2
	DefaultMaintenanceWorkers   = 4
)

// FlushCfg governs the MemRowSet/DMS flush policy.
type FlushCfg struct {
	ThresholdMB       int64
	ThresholdSecs      int64
	UpperBoundMillis   int64
	EnableFlushMRS     bool
	EnableFlushDMS     bool
}

// LogGCCfg governs write-ahead-log garbage collection.
type LogGCCfg struct {
	Enabled bool
}

// ConsensusCfg governs the consensus peer driver.
type ConsensusCfg struct {
	RPCTimeout               time.Duration
	RaftHeartbeatInterval    time.Duration
	GetNodeInstanceTimeout   time.Duration
	EnableTabletCopy         bool
}

// DirCfg governs DirManager behavior.
type DirCfg struct {
	ReservedBytesPerDir int64
	SpaceCacheTTL       time.Duration
	LockInReadWrite     bool
	LockInReadOnly      bool
}

// EmbeddedKVCfg governs the optional embedded KV engine (pebble) opened per
// data dir by pkg/fs.
type EmbeddedKVCfg struct {
	Enabled              bool
	BlockCacheMB         int64
	MemtableSizeMB       int64
	MaxBackgroundJobs    int
}

// MaintenanceCfg governs pkg/maintenance's scheduler and pools.
type MaintenanceCfg struct {
	IOWorkers    int
	AsyncWorkers int
}

// Options is the full aggregate handed to every component's constructor.
type Options struct {
	Flush       *FlushCfg
	LogGC       *LogGCCfg
	Consensus   *ConsensusCfg
	Dir         *DirCfg
	EmbeddedKV  *EmbeddedKVCfg
	Maintenance *MaintenanceCfg
}

// FillDefaults returns a copy of o with every unset nested Cfg replaced by
// its defaults, mirroring tae/options.Options.FillDefaults.
func (o *Options) FillDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.Flush == nil {
		o.Flush = &FlushCfg{
			ThresholdMB:      DefaultFlushThresholdMB,
			ThresholdSecs:    DefaultFlushThresholdSecs,
			UpperBoundMillis: DefaultFlushUpperBoundMS,
			EnableFlushMRS:   DefaultEnableFlushMRS,
			EnableFlushDMS:   DefaultEnableFlushDMS,
		}
	}
	if o.LogGC == nil {
		o.LogGC = &LogGCCfg{Enabled: DefaultEnableLogGC}
	}
	if o.Consensus == nil {
		o.Consensus = &ConsensusCfg{
			RPCTimeout:             DefaultConsensusRPCTimeout,
			RaftHeartbeatInterval:  DefaultRaftHeartbeatMillis * time.Millisecond,
			GetNodeInstanceTimeout: DefaultGetNodeInstanceSecs * time.Second,
			EnableTabletCopy:       DefaultEnableTabletCopy,
		}
	}
	if o.Dir == nil {
		o.Dir = &DirCfg{
			ReservedBytesPerDir: DefaultDirReservedBytes,
			SpaceCacheTTL:       DefaultSpaceCacheTTL,
			LockInReadWrite:     true,
			LockInReadOnly:      false,
		}
	}
	if o.EmbeddedKV == nil {
		o.EmbeddedKV = &EmbeddedKVCfg{
			Enabled:           false,
			BlockCacheMB:      DefaultRDBCacheMB,
			MemtableSizeMB:    DefaultRDBMemtableMB,
			MaxBackgroundJobs: DefaultRDBMaxBackgroundJobs,
		}
	}
	if o.Maintenance == nil {
		o.Maintenance = &MaintenanceCfg{
			IOWorkers:    DefaultMaintenanceIOWorkers,
			AsyncWorkers: DefaultMaintenanceWorkers,
		}
	}
	return o
}
