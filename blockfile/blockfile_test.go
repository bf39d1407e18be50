package blockfile

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/wavecache/wavecache/blobstore"
	"github.com/wavecache/wavecache/decoder"
	"github.com/wavecache/wavecache/internal/fs"
	"github.com/wavecache/wavecache/model"
	"github.com/wavecache/wavecache/registry"
	"github.com/wavecache/wavecache/summary"
	"github.com/wavecache/wavecache/testutil"
)

type testEnv struct {
	fsys *fs.FaultyFS
	reg  *registry.Registry
	dec  decoder.Decoder
	ref  model.AliasRef
}

// newTestEnv provisions an aliased mono int16 file holding samples and the
// collaborators a block file needs around it.
func newTestEnv(t *testing.T, samples []float32) *testEnv {
	t.Helper()

	fsys := fs.NewFaultyFS(nil)
	reg, err := registry.New(fsys, t.TempDir(), nil)
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	store.Put("alias.pcm", testutil.EncodePCM(model.Int16, [][]float32{samples}))

	return &testEnv{
		fsys: fsys,
		reg:  reg,
		dec:  decoder.NewPCMDecoder(store),
		ref:  model.AliasRef{Path: "alias.pcm", Format: model.Int16, Channels: 1},
	}
}

func (e *testEnv) deps() Deps {
	return Deps{FS: e.fsys, Registry: e.reg, Decoder: e.dec}
}

func (e *testEnv) newBlock(id uint64, start, n int64) *BlockFile {
	return New(id, e.ref, model.AliasRange{Start: start, Len: n}, e.reg.AssignCacheFile(), e.deps())
}

// gatedDecoder holds every decode until the gate opens, so tests can observe
// a block mid-computation.
type gatedDecoder struct {
	inner decoder.Decoder
	gate  chan struct{}
}

func (g *gatedDecoder) ReadSamples(ctx context.Context, ref model.AliasRef, channel int, start, n int64, dst []float32) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.inner.ReadSamples(ctx, ref, channel, start, n, dst)
}

func TestSummaryLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(100000))
	b := env.newBlock(1, 0, 100000)

	assert.Equal(t, SummaryUnavailable, b.State())
	assert.False(t, b.IsSummaryAvailable())

	require.NoError(t, b.ComputeSummary(ctx))
	assert.Equal(t, SummaryAvailable, b.State())
	assert.True(t, b.IsSummaryAvailable())

	// Terminal state, recomputation is a no-op.
	require.NoError(t, b.ComputeSummary(ctx))

	// The cache file is on disk and readable.
	assert.Greater(t, b.SpaceUsage(), int64(0))
}

func TestGetMinMaxLiveMatchesCached(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Noise(100000, 42))
	b := env.newBlock(1, 0, 100000)

	spans := []struct{ start, n int64 }{
		{0, 1000},
		{0, 100000},
		{17, 999},
		{256, 512},
		{65536, 34464},
		{99000, 1000},
		{50000, 1},
	}

	live := make([]summary.Frame, len(spans))
	for i, s := range spans {
		frame, err := b.GetMinMax(ctx, s.start, s.n)
		require.NoError(t, err)
		live[i] = frame
	}

	require.NoError(t, b.ComputeSummary(ctx))

	for i, s := range spans {
		frame, err := b.GetMinMax(ctx, s.start, s.n)
		require.NoError(t, err)
		assert.InDelta(t, live[i].Min, frame.Min, 1e-5, "min of [%d,+%d)", s.start, s.n)
		assert.InDelta(t, live[i].Max, frame.Max, 1e-5, "max of [%d,+%d)", s.start, s.n)
		assert.InDelta(t, live[i].RMS, frame.RMS, 1e-4, "rms of [%d,+%d)", s.start, s.n)
	}
}

func TestGetMinMaxAllUsesGlobalStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(70000))
	b := env.newBlock(1, 0, 70000)

	before, err := b.GetMinMaxAll(ctx)
	require.NoError(t, err)

	require.NoError(t, b.ComputeSummary(ctx))

	after, err := b.GetMinMaxAll(ctx)
	require.NoError(t, err)
	assert.InDelta(t, before.Min, after.Min, 1e-5)
	assert.InDelta(t, before.Max, after.Max, 1e-5)
	assert.InDelta(t, before.RMS, after.RMS, 1e-4)
}

func TestGetMinMaxOutOfRange(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(1000))
	b := env.newBlock(1, 0, 1000)

	_, err := b.GetMinMax(ctx, 500, 501)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = b.GetMinMax(ctx, -1, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = b.ReadRaw(ctx, make([]float32, 10), 995, 10)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestReadSummaryDegradedMatchesCached(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Noise(100000, 7))
	b := env.newBlock(1, 0, 100000)

	fineN := summary.FineFrames(100000)
	coarseN := summary.CoarseFrames(100000)

	degradedFine := make([]summary.Frame, fineN)
	require.NoError(t, b.ReadFineSummary(ctx, degradedFine, 0, fineN))
	degradedCoarse := make([]summary.Frame, coarseN)
	require.NoError(t, b.ReadCoarseSummary(ctx, degradedCoarse, 0, coarseN))

	require.NoError(t, b.ComputeSummary(ctx))

	cachedFine := make([]summary.Frame, fineN)
	require.NoError(t, b.ReadFineSummary(ctx, cachedFine, 0, fineN))
	cachedCoarse := make([]summary.Frame, coarseN)
	require.NoError(t, b.ReadCoarseSummary(ctx, cachedCoarse, 0, coarseN))

	for i := range cachedFine {
		assert.InDelta(t, degradedFine[i].Min, cachedFine[i].Min, 1e-5)
		assert.InDelta(t, degradedFine[i].Max, cachedFine[i].Max, 1e-5)
		assert.InDelta(t, degradedFine[i].RMS, cachedFine[i].RMS, 1e-4)
	}
	for i := range cachedCoarse {
		assert.InDelta(t, degradedCoarse[i].Min, cachedCoarse[i].Min, 1e-5)
		assert.InDelta(t, degradedCoarse[i].Max, cachedCoarse[i].Max, 1e-5)
		assert.InDelta(t, degradedCoarse[i].RMS, cachedCoarse[i].RMS, 1e-4)
	}

	require.ErrorIs(t, b.ReadFineSummary(ctx, cachedFine, fineN-1, 2), ErrOutOfRange)
}

func TestPersistFailureRevertsAndRetries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))
	b := env.newBlock(1, 0, 10000)

	env.fsys.AddRule(b.CacheFile(), fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	err := b.ComputeSummary(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, SummaryUnavailable, b.State())

	// No torn file left behind.
	_, statErr := os.Stat(env.reg.Path(b.CacheFile()))
	assert.ErrorIs(t, statErr, os.ErrNotExist)

	// Reads still work while unavailable.
	_, err = b.GetMinMax(ctx, 0, 1000)
	require.NoError(t, err)

	env.fsys.ClearRule(b.CacheFile())
	require.NoError(t, b.ComputeSummary(ctx))
	assert.Equal(t, SummaryAvailable, b.State())
}

func TestDerefReleasesCacheFile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))
	b := env.newBlock(1, 0, 10000)
	require.NoError(t, b.ComputeSummary(ctx))

	path := env.reg.Path(b.CacheFile())
	_, err := os.Stat(path)
	require.NoError(t, err)

	b.Ref()
	last, err := b.Deref(ctx)
	require.NoError(t, err)
	assert.False(t, last)

	last, err = b.Deref(ctx)
	require.NoError(t, err)
	assert.True(t, last)
	assert.False(t, b.Alive())

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// A dead block rejects further releases.
	_, err = b.Deref(ctx)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestDerefDuringComputationCondemns(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))

	gate := make(chan struct{})
	deps := env.deps()
	deps.Decoder = &gatedDecoder{inner: env.dec, gate: gate}
	b := New(1, env.ref, model.AliasRange{Len: 10000}, env.reg.AssignCacheFile(), deps)

	done := make(chan error, 1)
	go func() { done <- b.ComputeSummary(ctx) }()

	require.Eventually(t, func() bool { return b.IsSummaryBeingComputed() }, 5*time.Second, time.Millisecond)

	last, err := b.Deref(ctx)
	require.NoError(t, err)
	assert.True(t, last)

	close(gate)
	assert.ErrorIs(t, <-done, ErrReleased)

	// The worker cleaned up: no summary, no lingering claim, no cache
	// file, no registry entry.
	assert.Equal(t, SummaryUnavailable, b.State())
	assert.False(t, b.IsSummaryBeingComputed())
	_, statErr := os.Stat(env.reg.Path(b.CacheFile()))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
	assert.Equal(t, 0, env.reg.Refs(b.CacheFile()))
}

func TestCopyOfAvailableBlockSharesSummary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))
	b := env.newBlock(1, 0, 10000)
	require.NoError(t, b.ComputeSummary(ctx))

	nb := b.Copy(2, env.reg.AssignCacheFile())
	assert.True(t, nb.IsSummaryAvailable())
	assert.True(t, b.SharesCacheFile(nb))

	orig, err := b.GetMinMaxAll(ctx)
	require.NoError(t, err)
	copied, err := nb.GetMinMaxAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, orig, copied)
}

func TestCopyOfPendingBlockIsIndependent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))
	b := env.newBlock(1, 0, 10000)

	nb := b.Copy(2, env.reg.AssignCacheFile())
	assert.False(t, nb.IsSummaryAvailable())
	assert.False(t, b.SharesCacheFile(nb))

	// Each copy computes and commits on its own.
	require.NoError(t, nb.ComputeSummary(ctx))
	assert.True(t, nb.IsSummaryAvailable())
	assert.False(t, b.IsSummaryAvailable())
}

func TestConcurrentSharedReleaseRemovesOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))
	b := env.newBlock(1, 0, 10000)
	require.NoError(t, b.ComputeSummary(ctx))

	shared := b.CacheFile()
	path := env.reg.Path(shared)

	// Copies of an available block all share one cache file; mirror the
	// registry bookkeeping a copy performs.
	blocks := []*BlockFile{b}
	for i := 0; i < 16; i++ {
		fresh := env.reg.AssignCacheFile()
		nb := b.Copy(uint64(i+2), fresh)
		require.True(t, b.SharesCacheFile(nb))
		env.reg.RegisterBlock(shared)
		_, err := env.reg.ReleaseBlock(ctx, fresh)
		require.NoError(t, err)
		blocks = append(blocks, nb)
	}
	require.Equal(t, len(blocks), env.reg.Refs(shared))

	var g errgroup.Group
	for _, nb := range blocks {
		nb := nb
		g.Go(func() error {
			_, err := nb.Deref(ctx)
			return err
		})
	}
	require.NoError(t, g.Wait())

	// The file went exactly once, with the last reference.
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 0, env.reg.Refs(shared))
	_, err = env.reg.ReleaseBlock(ctx, shared)
	assert.ErrorIs(t, err, registry.ErrNotRegistered)
}

func TestCloseLockKeepsSavedCacheFile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))
	b := env.newBlock(1, 0, 10000)
	require.NoError(t, b.ComputeSummary(ctx))

	b.MarkSaved()
	require.True(t, b.HasBeenSaved())
	b.CloseLock()

	last, err := b.Deref(ctx)
	require.NoError(t, err)
	assert.True(t, last)

	// The saved project still points at this file.
	_, err = os.Stat(env.reg.Path(b.CacheFile()))
	assert.NoError(t, err)
}

func TestConcurrentReadsDuringCommit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Noise(100000, 3))
	b := env.newBlock(1, 0, 100000)

	want, err := b.GetMinMax(ctx, 0, 1000)
	require.NoError(t, err)

	var g errgroup.Group
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				frame, err := b.GetMinMax(ctx, 0, 1000)
				if err != nil {
					return err
				}
				assert.InDelta(t, want.Min, frame.Min, 1e-5)
				assert.InDelta(t, want.Max, frame.Max, 1e-5)
				assert.InDelta(t, want.RMS, frame.RMS, 1e-4)
			}
		})
	}

	require.NoError(t, b.ComputeSummary(ctx))
	close(stop)
	require.NoError(t, g.Wait())
}

func TestRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))
	b := env.newBlock(1, 100, 9000)
	b.SetStart(512)
	b.SetClipOffset(44100)

	rec := b.Record()
	assert.False(t, rec.SummaryAvailable)
	assert.Equal(t, env.ref, rec.Ref())
	assert.Equal(t, b.Range(), rec.Range())
	assert.Equal(t, b.CacheFile(), rec.CacheFile)
	assert.Equal(t, int64(512), rec.Start)
	assert.Equal(t, int64(44100), rec.ClipOffset)

	require.NoError(t, b.ComputeSummary(ctx))
	rec = b.Record()
	assert.True(t, rec.SummaryAvailable)

	all, err := b.GetMinMaxAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, all.Min, rec.Min)
	assert.Equal(t, all.Max, rec.Max)
	assert.Equal(t, all.RMS, rec.RMS)
}

func TestRecoverRewritesLostCacheFile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testutil.Sine(10000))
	b := env.newBlock(1, 0, 10000)
	require.NoError(t, b.ComputeSummary(ctx))

	path := env.reg.Path(b.CacheFile())
	require.NoError(t, os.Remove(path))

	require.NoError(t, b.Recover(ctx))
	_, err := os.Stat(path)
	assert.NoError(t, err)

	// A healthy file is left alone, and a pending block has nothing to
	// recover.
	require.NoError(t, b.Recover(ctx))
	pending := env.newBlock(2, 0, 10000)
	require.NoError(t, pending.Recover(ctx))
}

func TestGlobalStart(t *testing.T) {
	env := newTestEnv(t, testutil.Sine(1000))
	b := env.newBlock(1, 0, 1000)
	b.SetStart(100)
	b.SetClipOffset(1000)
	assert.Equal(t, int64(1100), b.GlobalStart())
	assert.Equal(t, int64(2100), b.GlobalEnd())
}
