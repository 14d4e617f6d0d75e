package fs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kudu-go/kudu/pkg/options"
)

func newTestDirs(t *testing.T, n int) []string {
	t.Helper()
	roots := make([]string, n)
	for i := range roots {
		roots[i] = t.TempDir()
	}
	return roots
}

func TestCreateAndOpen(t *testing.T) {
	roots := newTestDirs(t, 3)
	dm, err := New(roots, "data", nil)
	require.NoError(t, err)
	require.NoError(t, dm.Create())

	dm2, err := New(roots, "data", nil)
	require.NoError(t, err)
	require.NoError(t, dm2.Open())
	defer dm2.Shutdown()

	for i := range roots {
		require.False(t, dm2.IsDirFailed(i))
		root, ok := dm2.FindDirByUuidIndex(i)
		require.True(t, ok)
		require.Equal(t, roots[i], root)
	}
}

func TestCreateRefusesIfInstanceExists(t *testing.T) {
	roots := newTestDirs(t, 2)
	dm, err := New(roots, "data", nil)
	require.NoError(t, err)
	require.NoError(t, dm.Create())

	dm2, err := New(roots, "data", nil)
	require.NoError(t, err)
	require.Error(t, dm2.Create())
}

func TestMarkDirFailedRefusesAll(t *testing.T) {
	roots := newTestDirs(t, 2)
	dm, err := New(roots, "data", nil)
	require.NoError(t, err)
	require.NoError(t, dm.Create())
	require.NoError(t, dm.Open())
	defer dm.Shutdown()

	require.NoError(t, dm.MarkDirFailed(0, "disk error"))
	require.True(t, dm.IsDirFailed(0))
	require.Error(t, dm.MarkDirFailed(1, "disk error"))
}

func TestFindUuidIndexByRoot(t *testing.T) {
	roots := newTestDirs(t, 2)
	dm, err := New(roots, "data", nil)
	require.NoError(t, err)
	require.NoError(t, dm.Create())
	require.NoError(t, dm.Open())
	defer dm.Shutdown()

	idx, ok := dm.FindUuidIndexByRoot(roots[1])
	require.True(t, ok)
	require.Equal(t, 1, idx)
}

func TestUpdateHealthyInstancesNoopWhenUnchanged(t *testing.T) {
	roots := newTestDirs(t, 2)
	dm, err := New(roots, "data", nil)
	require.NoError(t, err)
	require.NoError(t, dm.Create())
	require.NoError(t, dm.Open())
	defer dm.Shutdown()

	observed := make([]uuid.UUID, len(dm.dirs))
	for i, d := range dm.dirs {
		observed[i] = d.instance.UUID
	}

	// Re-reading with the observed set equal to what's on disk should not
	// error and should not mark anything failed.
	require.NoError(t, dm.UpdateHealthyInstances(observed, ErrorOnFailure))
	require.False(t, dm.IsDirFailed(0))
	require.False(t, dm.IsDirFailed(1))
}

func TestRefreshAvailableSpace(t *testing.T) {
	roots := newTestDirs(t, 1)
	dm, err := New(roots, "data", nil)
	require.NoError(t, err)
	require.NoError(t, dm.Create())
	require.NoError(t, dm.Open())
	defer dm.Shutdown()

	dm.RefreshAvailableSpace(Always)
	require.False(t, dm.IsDirFull(0))
	require.Greater(t, dm.AvailableBytes(0), int64(0))
}

func TestEmbeddedKVRoundTrip(t *testing.T) {
	roots := newTestDirs(t, 1)
	opts := &options.Options{EmbeddedKV: &options.EmbeddedKVCfg{
		Enabled: true, BlockCacheMB: 1, MemtableSizeMB: 1, MaxBackgroundJobs: 1,
	}}
	dm, err := New(roots, "data", opts)
	require.NoError(t, err)
	require.NoError(t, dm.Create())
	require.NoError(t, dm.Open())
	defer dm.Shutdown()

	require.NoError(t, dm.KVPut(0, []byte("k"), []byte("v")))
	v, err := dm.KVGet(0, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}
