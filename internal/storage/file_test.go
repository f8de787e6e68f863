package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "refwatch/pkg/logx"
)

func TestFileStoreMissingCacheStartsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data", "confirmations.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(b))
}

func TestReadOnlyLeavesMissingCacheAbsent(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dir, "confirmations.json")
	st, err := Open(Config{Path: path, ReadOnly: true}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, snap)
	require.ErrorIs(t, st.Save(context.Background(), Snapshot{"1": {}}), ErrReadOnly)

	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err), "read-only open must not create the cache dir")
}

func TestReadOnlyReadsExistingCache(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "confirmations.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"12": {"days": 1, "hours": 0, "minutes": 5}}`), 0o644))

	st, err := Open(Config{Driver: "json", Path: path, ReadOnly: true}, logx.Nop())
	require.NoError(t, err)
	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, Record{Days: 1, Minutes: 5}, snap["12"])

	require.Error(t, st.Save(context.Background(), Snapshot{}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"12": {"days": 1, "hours": 0, "minutes": 5}}`, string(b))
}

func TestFileStoreSaveOverwritesSnapshot(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "confirmations.json")
	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, Snapshot{"42": {Days: 1, Hours: 2, Minutes: 3}, "7": {}}))
	require.NoError(t, st.Save(ctx, Snapshot{"43": {Hours: 5}}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"43": {"days": 0, "hours": 5, "minutes": 0}}`, string(b))

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.True(t, snap.Has(43))
	require.False(t, snap.Has(42))
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreRejectsCorruptCache(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "confirmations.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	st, err := Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = st.Load(context.Background())
	require.Error(t, err)
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, st)

	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
}

func TestSnapshotIDsNumericOrder(t *testing.T) {
	t.Parallel()
	snap := Snapshot{"100": {}, "9": {}, "42": {}}
	require.Equal(t, []string{"9", "42", "100"}, snap.IDs())
	require.Equal(t, "42", Key(42))
}
