package services_test

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

func newReassembler(store objectstore.Store, bufSize int, opts ...services.ReassemblerOption) *services.Reassembler {
	logger := testLogger()
	tracker := services.NewSessionTracker(store, logger)
	opts = append([]services.ReassemblerOption{services.WithCopyBuffer(bufSize)}, opts...)
	return services.NewReassembler(store, tracker, services.NewNoopMetrics(), logger, opts...)
}

func TestReassemble_ConcatenatesInIndexOrder(t *testing.T) {
	store := objectstore.NewMemoryStore("https://cdn.example.com/media")
	sizes := []int{5, 1, 300, 17}
	// 按乱序写入分片。
	for _, i := range []int{2, 0, 3, 1} {
		putChunk(t, store, "u1", i, chunkBytes(i, sizes[i]))
	}

	ref, err := newReassembler(store, 64).Reassemble(context.Background(), "u1", "movie.mov", len(sizes))
	require.NoError(t, err)
	assert.Equal(t, "original/movie.mov", ref.Path)
	assert.Equal(t, "https://cdn.example.com/media/original/movie.mov", ref.PublicURL)
	assert.Equal(t, int64(323), ref.Size)
	assert.Equal(t, "video/quicktime", ref.ContentType)
	assert.Equal(t, 4, ref.Chunks)

	got, err := store.Bytes("original/movie.mov")
	require.NoError(t, err)
	assert.Equal(t, expectedConcat(sizes), got)

	staged, err := store.List(context.Background(), services.StagingPrefix)
	require.NoError(t, err)
	assert.Empty(t, staged, "staging object must be removed after publish")
}

func TestReassemble_SingleChunk(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	putChunk(t, store, "one", 0, []byte("only"))

	ref, err := newReassembler(store, 2).Reassemble(context.Background(), "one", "x.mp4", 1)
	require.NoError(t, err)
	got, err := store.Bytes(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, "only", string(got))
}

func TestReassemble_MemoryBoundedByCopyBuffer(t *testing.T) {
	const (
		buf       = 4096
		chunkSize = 10_000
	)
	ctx := context.Background()
	allocated := make(map[int]uint64)
	for _, total := range []int{10, 1000} {
		store := newSinkStore()
		for i := 0; i < total; i++ {
			putChunk(t, store, "mem", i, chunkBytes(i, chunkSize))
		}
		reasm := newReassembler(store, buf)

		var before, after runtime.MemStats
		runtime.GC()
		runtime.ReadMemStats(&before)
		ref, err := reasm.Reassemble(ctx, "mem", "big.mp4", total)
		runtime.ReadMemStats(&after)

		require.NoError(t, err)
		assert.Equal(t, int64(total*chunkSize), ref.Size)
		assert.Equal(t, int64(total*chunkSize), store.written())
		assert.LessOrEqual(t, store.maxWrite(), buf, "total=%d", total)
		allocated[total] = after.TotalAlloc - before.TotalAlloc
	}

	// 多搬运约 9.9MB 数据，额外分配只应来自每个分片的路径与列表项。
	moved := uint64((1000 - 10) * chunkSize)
	var growth uint64
	if allocated[1000] > allocated[10] {
		growth = allocated[1000] - allocated[10]
	}
	assert.Less(t, growth, moved/4, "allocations grow with data volume: 10 chunks=%d 1000 chunks=%d", allocated[10], allocated[1000])
}

// sinkStore 在 MemoryStore 之上丢弃 Create 写入的内容，只记录长度，
// 使分配统计只反映重组本身。
type sinkStore struct {
	*objectstore.MemoryStore

	mu      sync.Mutex
	sizes   map[string]int64
	largest int
	total   int64
}

func newSinkStore() *sinkStore {
	return &sinkStore{MemoryStore: objectstore.NewMemoryStore(""), sizes: make(map[string]int64)}
}

func (s *sinkStore) Create(_ context.Context, path string, _ objectstore.PutOptions) (objectstore.Writer, error) {
	return &sinkWriter{store: s, path: path}, nil
}

func (s *sinkStore) Stat(ctx context.Context, path string) (*objectstore.ObjectInfo, error) {
	s.mu.Lock()
	size, ok := s.sizes[path]
	s.mu.Unlock()
	if ok {
		return &objectstore.ObjectInfo{Path: path, Size: size}, nil
	}
	return s.MemoryStore.Stat(ctx, path)
}

func (s *sinkStore) Publish(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.sizes[src]
	if !ok {
		return objectstore.ErrNotFound
	}
	s.sizes[dst] = size
	return nil
}

func (s *sinkStore) Delete(ctx context.Context, paths ...string) error {
	s.mu.Lock()
	for _, p := range paths {
		delete(s.sizes, p)
	}
	s.mu.Unlock()
	return s.MemoryStore.Delete(ctx, paths...)
}

func (s *sinkStore) written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *sinkStore) maxWrite() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.largest
}

type sinkWriter struct {
	store *sinkStore
	path  string
	n     int64
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.store.mu.Lock()
	if len(p) > w.store.largest {
		w.store.largest = len(p)
	}
	w.store.total += int64(len(p))
	w.store.mu.Unlock()
	w.n += int64(len(p))
	return len(p), nil
}

func (w *sinkWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.sizes[w.path] = w.n
	return nil
}

func (w *sinkWriter) Abort() error { return nil }

func TestReassemble_IncompleteDoesNotWriteFinal(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	putChunk(t, store, "u", 0, []byte("a"))
	putChunk(t, store, "u", 2, []byte("c"))

	_, err := newReassembler(store, 8).Reassemble(context.Background(), "u", "f.mp4", 4)
	pe := requireKind(t, err, services.KindIncompleteUpload)
	assert.Equal(t, []int{1, 3}, pe.Missing)
	assert.True(t, errors.Is(err, services.ErrIncompleteUpload))

	_, err = store.Stat(context.Background(), "original/f.mp4")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestReassemble_Idempotent(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	sizes := []int{10, 20, 30}
	for i, n := range sizes {
		putChunk(t, store, "u", i, chunkBytes(i, n))
	}
	r := newReassembler(store, 7)

	first, err := r.Reassemble(context.Background(), "u", "f.mp4", 3)
	require.NoError(t, err)
	second, err := r.Reassemble(context.Background(), "u", "f.mp4", 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, err := store.Bytes("original/f.mp4")
	require.NoError(t, err)
	assert.Equal(t, expectedConcat(sizes), got)
}

func TestReassemble_ConcurrentRunsPublishOneCompleteObject(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	sizes := make([]int, 50)
	for i := range sizes {
		sizes[i] = 1000
		putChunk(t, store, "race", i, chunkBytes(i, sizes[i]))
	}
	r := newReassembler(store, 128)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for g := range errs {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			_, errs[g] = r.Reassemble(context.Background(), "race", "f.mp4", len(sizes))
		}(g)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	got, err := store.Bytes("original/f.mp4")
	require.NoError(t, err)
	assert.Equal(t, expectedConcat(sizes), got)
}

func TestReassemble_RacerReusesPublishedObject(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	sizes := []int{4, 4, 4}
	for i, n := range sizes {
		putChunk(t, store, "u", i, chunkBytes(i, n))
	}
	// 模拟另一并发运行已发布最终对象并清理了分片。
	require.NoError(t, store.Put(context.Background(), "original/f.mp4", bytes.NewReader(expectedConcat(sizes)), 12, objectstore.PutOptions{}))
	store.SetHooks(objectstore.FaultHooks{Open: func(path string) error {
		if path == "temp/u/0001" {
			return objectstore.ErrNotFound
		}
		return nil
	}})

	ref, err := newReassembler(store, 8).Reassemble(context.Background(), "u", "f.mp4", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(12), ref.Size)
}

func TestReassemble_VanishedChunkWithoutPublishedObject(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	for i := 0; i < 3; i++ {
		putChunk(t, store, "u", i, []byte("abcd"))
	}
	store.SetHooks(objectstore.FaultHooks{Open: func(path string) error {
		if path == "temp/u/0002" {
			return objectstore.ErrNotFound
		}
		return nil
	}})

	_, err := newReassembler(store, 8).Reassemble(context.Background(), "u", "f.mp4", 3)
	pe := requireKind(t, err, services.KindChunkFetchFailed)
	assert.Equal(t, 2, pe.Index)
	_, statErr := store.Stat(context.Background(), "original/f.mp4")
	assert.ErrorIs(t, statErr, objectstore.ErrNotFound)
}

func TestReassemble_ChunkReadFailure(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	for i := 0; i < 4; i++ {
		putChunk(t, store, "u", i, []byte("data"))
	}
	store.SetHooks(objectstore.FaultHooks{Open: func(path string) error {
		if path == "temp/u/0001" {
			return errors.New("connection reset")
		}
		return nil
	}})

	_, err := newReassembler(store, 8).Reassemble(context.Background(), "u", "f.mp4", 4)
	pe := requireKind(t, err, services.KindChunkFetchFailed)
	assert.Equal(t, 1, pe.Index)

	_, statErr := store.Stat(context.Background(), "original/f.mp4")
	assert.ErrorIs(t, statErr, objectstore.ErrNotFound)
	staged, err := store.List(context.Background(), services.StagingPrefix)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestReassemble_ChunkChangedMidRun(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	for i := 0; i < 3; i++ {
		putChunk(t, store, "u", i, []byte("abcd"))
	}
	var once sync.Once
	store.SetHooks(objectstore.FaultHooks{Open: func(path string) error {
		if path == "temp/u/0000" {
			once.Do(func() {
				// 列表之后、读取之前，分片 1 被客户端重传为不同长度。
				_ = store.Put(context.Background(), "temp/u/0001", strings.NewReader("abcdefgh"), 8, objectstore.PutOptions{})
			})
		}
		return nil
	}})

	_, err := newReassembler(store, 8).Reassemble(context.Background(), "u", "f.mp4", 3)
	requireKind(t, err, services.KindReassemblyIntegrity)
	_, statErr := store.Stat(context.Background(), "original/f.mp4")
	assert.ErrorIs(t, statErr, objectstore.ErrNotFound)
}

func TestReassemble_PublishFailure(t *testing.T) {
	store := objectstore.NewMemoryStore("")
	putChunk(t, store, "u", 0, []byte("abcd"))
	store.SetHooks(objectstore.FaultHooks{Publish: func(string, string) error { return errors.New("precondition failed") }})

	_, err := newReassembler(store, 8, services.WithRunIDGenerator(func() string { return "run-1" })).
		Reassemble(context.Background(), "u", "f.mp4", 1)
	pe := requireKind(t, err, services.KindStorageWriteFailed)
	assert.Equal(t, "original/f.mp4", pe.Path)

	_, statErr := store.Stat(context.Background(), "staging/u/run-1")
	assert.ErrorIs(t, statErr, objectstore.ErrNotFound, "staging must be discarded")
	_, err = store.Bytes("temp/u/0000")
	assert.NoError(t, err, "chunks stay for a retry")
}

func TestReassemble_InvalidInput(t *testing.T) {
	r := newReassembler(objectstore.NewMemoryStore(""), 8)
	for _, tc := range []struct {
		uploadID, fileName string
		total              int
	}{
		{"", "f.mp4", 1},
		{"u", "", 1},
		{"u", "../f.mp4", 1},
		{"u", "f.mp4", 0},
	} {
		_, err := r.Reassemble(context.Background(), tc.uploadID, tc.fileName, tc.total)
		requireKind(t, err, services.KindInvalidRequest)
	}
}
