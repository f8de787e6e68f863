package estimator

import (
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"refwatch/internal/chain"
	logx "refwatch/pkg/logx"
)

// fakeChain produces one block every step milliseconds.
type fakeChain struct {
	height  uint64
	stepMS  uint64
	genesis uint64
}

func (f *fakeChain) CurrentBlockHeight(context.Context) (uint64, error) { return f.height, nil }

func (f *fakeChain) BlockHashAt(_ context.Context, h uint64) (chain.Hash, error) {
	if h > f.height {
		return chain.Hash{}, chain.ErrNotFound
	}
	var hash chain.Hash
	binary.LittleEndian.PutUint64(hash[:], h)
	return hash, nil
}

func (f *fakeChain) StorageValue(_ context.Context, module, item string, at chain.Hash) ([]byte, error) {
	if module != "Timestamp" || item != "Now" {
		return nil, nil
	}
	h := binary.LittleEndian.Uint64(at[:])
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, f.genesis+h*f.stepMS)
	return b, nil
}

func TestAverageBlockTimeSixSeconds(t *testing.T) {
	t.Parallel()
	// 255 blocks at 6s is 1530s between the sampled timestamps.
	src := &fakeChain{height: 20_000_000, stepMS: 6000, genesis: 1_600_000_000_000}
	avg, err := New(src, DefaultSampleWindow, logx.Nop()).AverageBlockTime(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6.0, avg)
}

func TestAverageBlockTimeYoungChain(t *testing.T) {
	t.Parallel()
	src := &fakeChain{height: 10, stepMS: 12000}
	avg, err := New(src, 255, logx.Nop()).AverageBlockTime(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12.0, avg)

	_, err = New(&fakeChain{}, 255, logx.Nop()).AverageBlockTime(context.Background())
	require.True(t, errors.Is(err, ErrEmptyWindow))
}

func TestTimeUntilBlock(t *testing.T) {
	t.Parallel()
	src := &fakeChain{height: 1_000_000, stepMS: 6000}
	e := New(src, 0, logx.Nop())
	ctx := context.Background()

	got, err := e.TimeUntilBlock(ctx, src.height)
	require.NoError(t, err)
	require.Equal(t, Remaining{}, got)

	// 14400 blocks * 6s = 1 day; +610 blocks = 1h 1m.
	got, err = e.TimeUntilBlock(ctx, src.height+14400+610)
	require.NoError(t, err)
	require.Equal(t, Remaining{Days: 1, Hours: 1, Minutes: 1}, got)
	require.False(t, got.Past())

	got, err = e.TimeUntilBlock(ctx, src.height-10)
	require.NoError(t, err)
	require.True(t, got.Past())
	require.Equal(t, Remaining{Days: -1, Hours: 23, Minutes: 59}, got)
}

func TestDecomposeFloorBounds(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		blocks := float64(rng.Int63n(2_000_000))
		avg := rng.Float64() * 30
		s := blocks * avg
		r := Decompose(s)

		lower := float64(r.Days*86400 + r.Hours*3600 + r.Minutes*60)
		require.LessOrEqual(t, lower, s)
		require.Less(t, s, lower+60)
		require.GreaterOrEqual(t, r.Hours, 0)
		require.Less(t, r.Hours, 24)
		require.GreaterOrEqual(t, r.Minutes, 0)
		require.Less(t, r.Minutes, 60)
	}
}

func TestRemainingString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "0d 2hrs 5mins", Remaining{Hours: 2, Minutes: 5}.String())
}
