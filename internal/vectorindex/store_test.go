package vectorindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
	"github.com/custodia-labs/sercha-chat/internal/core/ports/driven/mocks"
)

// lengthEmbed maps a text to [len(text), number of spaces], enough to
// give distinct, predictable vectors.
func lengthEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(strings.Count(t, " "))}
	}
	return out, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(StoreConfig{Root: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestStore_QueryWithoutIndex(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Query("default", []float32{1, 2}, 3)
	assert.ErrorIs(t, err, domain.ErrRetrieverUnavailable)
	assert.Nil(t, s.Info("default"))
}

func TestStore_BuildAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := chunksOf("short", "a bit longer text", "mid size")

	info, err := s.Build(ctx, "default", chunks, lengthEmbed)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)
	assert.Equal(t, 3, info.Count)
	assert.Equal(t, 2, info.Dimension)

	vec, _ := lengthEmbed(ctx, []string{"mid size"})
	results, err := s.Query("default", vec[0], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mid size", results[0].Chunk.Text)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestStore_BuildRoundTrip(t *testing.T) {
	s := newTestStore(t)
	chunks := chunksOf("one", "two two", "three three three")

	info, err := s.Build(context.Background(), "docs", chunks, lengthEmbed)
	require.NoError(t, err)

	mem := s.Current("docs")
	loaded, err := Load(info.Path)
	require.NoError(t, err)

	assert.Equal(t, mem.Len(), loaded.Len())
	assert.Equal(t, mem.Chunks(), loaded.Chunks())
	assert.Equal(t, mem.vectors, loaded.vectors)
}

func TestStore_BuildValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Build(ctx, "../escape", chunksOf("a"), lengthEmbed)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Build(ctx, "default", nil, lengthEmbed)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Build(ctx, "default", []domain.Chunk{{ID: 4, Text: "x"}}, lengthEmbed)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	short := func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}
	_, err = s.Build(ctx, "default", chunksOf("a", "b"), short)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	ragged := func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 2}, {1}}, nil
	}
	_, err = s.Build(ctx, "default", chunksOf("a", "b"), ragged)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestStore_RebuildReplacesAndPrunes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Build(ctx, "default", chunksOf("old text"), lengthEmbed)
	require.NoError(t, err)
	second, err := s.Build(ctx, "default", chunksOf("new", "newer text"), lengthEmbed)
	require.NoError(t, err)

	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 2, s.Current("default").Len())

	// the version just superseded is kept for readers mid-reload
	_, err = os.Stat(first.Path)
	assert.NoError(t, err)

	third, err := s.Build(ctx, "default", chunksOf("newest"), lengthEmbed)
	require.NoError(t, err)
	assert.Equal(t, 3, third.Version)

	_, err = os.Stat(first.Path)
	assert.True(t, os.IsNotExist(err), "versions older than the previous one should be pruned")
	_, err = os.Stat(second.Path)
	assert.NoError(t, err)

	current, err := os.ReadFile(filepath.Join(filepath.Dir(third.Path), currentFile))
	require.NoError(t, err)
	assert.Equal(t, "v000003\n", string(current))
}

func TestStore_FailedBuildKeepsPreviousVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Build(ctx, "default", chunksOf("kept"), lengthEmbed)
	require.NoError(t, err)

	failing := func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("embedding service down")
	}
	_, err = s.Build(ctx, "default", chunksOf("lost"), failing)
	require.Error(t, err)

	assert.Equal(t, 1, s.Current("default").Version())
	entries, err := os.ReadDir(filepath.Join(s.root, "default"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), stagingPrefix), "staging dir left behind: %s", e.Name())
	}
}

func TestStore_Append(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Build(ctx, "default", chunksOf("alpha", "beta beta"), lengthEmbed)
	require.NoError(t, err)

	var embedded []string
	recording := func(ctx context.Context, texts []string) ([][]float32, error) {
		embedded = append(embedded, texts...)
		return lengthEmbed(ctx, texts)
	}
	info, err := s.Append(ctx, "default", []domain.Chunk{{ID: 0, Text: "gamma"}}, recording)
	require.NoError(t, err)

	assert.Equal(t, []string{"gamma"}, embedded, "existing vectors should be reused")
	assert.Equal(t, 2, info.Version)
	assert.Equal(t, 3, info.Count)

	chunks := s.Current("default").Chunks()
	assert.Equal(t, domain.Chunk{ID: 2, Text: "gamma"}, chunks[2])

	loaded, err := Load(info.Path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())
}

func TestStore_AppendToMissingIndexBuildsIt(t *testing.T) {
	s := newTestStore(t)

	info, err := s.Append(context.Background(), "fresh", chunksOf("first"), lengthEmbed)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Version)
	assert.Equal(t, 1, info.Count)
}

func TestStore_OpenPublishedByAnotherInstance(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writer, err := NewStore(StoreConfig{Root: root})
	require.NoError(t, err)
	_, err = writer.Build(ctx, "default", chunksOf("persisted chunk"), lengthEmbed)
	require.NoError(t, err)

	reader, err := NewStore(StoreConfig{Root: root})
	require.NoError(t, err)

	_, err = reader.Open(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	infos, err := reader.OpenAll(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "default", infos[0].Name)
	assert.Equal(t, 1, reader.Current("default").Len())

	// The next publish from the reader continues the on-disk version sequence
	info, err := reader.Append(ctx, "default", chunksOf("more"), lengthEmbed)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Version)
}

func TestStore_ReaderPicksUpVersionsPublishedElsewhere(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writer, err := NewStore(StoreConfig{Root: root})
	require.NoError(t, err)
	reader, err := NewStore(StoreConfig{Root: root})
	require.NoError(t, err)

	// the reader starts before anything is built
	_, err = reader.OpenAll(ctx)
	require.NoError(t, err)
	_, err = reader.Query("default", []float32{1, 0}, 3)
	assert.ErrorIs(t, err, domain.ErrRetrieverUnavailable)

	_, err = writer.Build(ctx, "default", chunksOf("first chunk"), lengthEmbed)
	require.NoError(t, err)

	results, err := reader.Query("default", []float32{11, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "first chunk", results[0].Chunk.Text)
	require.NotNil(t, reader.Info("default"))
	assert.Equal(t, 1, reader.Info("default").Version)

	_, err = writer.Append(ctx, "default", chunksOf("second"), lengthEmbed)
	require.NoError(t, err)

	results, err = reader.Query("default", []float32{6, 0}, 3)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "second", results[0].Chunk.Text)
	info := reader.Info("default")
	require.NotNil(t, info)
	assert.Equal(t, 2, info.Version)
	assert.Equal(t, 2, info.Count)
}

func TestStore_UnloadableVersionKeepsServingHeldOne(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	writer, err := NewStore(StoreConfig{Root: root})
	require.NoError(t, err)
	reader, err := NewStore(StoreConfig{Root: root})
	require.NoError(t, err)

	_, err = writer.Build(ctx, "default", chunksOf("kept"), lengthEmbed)
	require.NoError(t, err)
	require.Equal(t, 1, reader.Current("default").Version())

	// CURRENT names a version whose directory never landed
	require.NoError(t, writeCurrent(filepath.Join(root, "default"), 7))

	ix := reader.Current("default")
	require.NotNil(t, ix)
	assert.Equal(t, 1, ix.Version())
	results, err := reader.Query("default", []float32{4, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "kept", results[0].Chunk.Text)
}

// Readers keep seeing the previous complete version while a build is in flight.
func TestStore_QueryDuringBuildSeesPreviousVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Build(ctx, "default", chunksOf("v1 only"), lengthEmbed)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(ctx context.Context, texts []string) ([][]float32, error) {
		close(started)
		<-release
		return lengthEmbed(ctx, texts)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Build(ctx, "default", chunksOf("v2 a", "v2 b"), slow)
		assert.NoError(t, err)
	}()

	<-started
	results, err := s.Query("default", []float32{7, 1}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "v1 only", results[0].Chunk.Text)

	close(release)
	wg.Wait()

	results, err = s.Query("default", []float32{4, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestStore_ConcurrentAppendsAreSerialised(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, "default", chunksOf("chunk"), lengthEmbed)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ix := s.Current("default")
	assert.Equal(t, 8, ix.Len())
	assert.Equal(t, 8, ix.Version())
	for i, c := range ix.Chunks() {
		assert.Equal(t, i, c.ID)
	}
}

func TestStore_WaitsForDistributedLock(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	s, err := NewStore(StoreConfig{Root: t.TempDir(), Lock: lock, LockRetry: 10 * time.Millisecond})
	require.NoError(t, err)

	lock.SetLockHeld("index:default", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Build(ctx, "default", chunksOf("blocked"), lengthEmbed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, s.Current("default"))

	lock.Reset()
	_, err = s.Build(context.Background(), "default", chunksOf("unblocked"), lengthEmbed)
	require.NoError(t, err)
	assert.False(t, lock.IsHeld("index:default"), "lock should be released after publish")
	assert.Equal(t, 1, lock.Acquisitions())
}

func TestStore_LockBackendError(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	lock.AcquireFn = func(name string, ttl time.Duration) (bool, error) {
		return false, errors.New("redis down")
	}
	s, err := NewStore(StoreConfig{Root: t.TempDir(), Lock: lock})
	require.NoError(t, err)

	_, err = s.Build(context.Background(), "default", chunksOf("x"), lengthEmbed)
	assert.ErrorContains(t, err, "redis down")
}
