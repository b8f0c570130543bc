package services_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

func testLogger() log.Logger {
	return log.NewStdLogger(io.Discard)
}

// chunkBytes 生成可辨认的分片内容，便于校验拼接顺序。
func chunkBytes(index, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte((index*31 + i) % 251)
	}
	return b
}

func expectedConcat(sizes []int) []byte {
	var buf bytes.Buffer
	for i, n := range sizes {
		buf.Write(chunkBytes(i, n))
	}
	return buf.Bytes()
}

func putChunk(t *testing.T, store objectstore.Store, uploadID string, index int, data []byte) {
	t.Helper()
	err := store.Put(context.Background(), services.ChunkPath(uploadID, index), bytes.NewReader(data), int64(len(data)), objectstore.PutOptions{})
	require.NoError(t, err)
}

type fakeVideos struct {
	mu      sync.Mutex
	videos  map[uuid.UUID]*po.Video
	markErr error
	getErr  error
	calls   []string
}

func newFakeVideos(ids ...uuid.UUID) *fakeVideos {
	f := &fakeVideos{videos: make(map[uuid.UUID]*po.Video)}
	for _, id := range ids {
		f.videos[id] = &po.Video{ID: id, ProcessingStatus: po.ProcessingPending}
	}
	return f
}

func (f *fakeVideos) record(call string, id uuid.UUID) (*po.Video, error) {
	f.calls = append(f.calls, call)
	if f.markErr != nil {
		return nil, f.markErr
	}
	v, ok := f.videos[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, repositories.ErrVideoNotFound)
	}
	return v, nil
}

func (f *fakeVideos) MarkProcessing(_ context.Context, id uuid.UUID, originalURL string, sizeBytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.record("processing", id)
	if err != nil {
		return err
	}
	v.ProcessingStatus = po.ProcessingProcessing
	v.OriginalFileURL = &originalURL
	if sizeBytes > 0 {
		v.FileSizeBytes = &sizeBytes
	}
	return nil
}

func (f *fakeVideos) MarkCompleted(_ context.Context, id uuid.UUID, manifestURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.record("completed", id)
	if err != nil {
		return err
	}
	v.ProcessingStatus = po.ProcessingCompleted
	v.DashManifestURL = &manifestURL
	return nil
}

func (f *fakeVideos) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, err := f.record("failed", id)
	if err != nil {
		return err
	}
	v.ProcessingStatus = po.ProcessingFailed
	v.ProcessingError = &reason
	return nil
}

func (f *fakeVideos) Get(_ context.Context, id uuid.UUID) (*po.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.videos[id]
	if !ok {
		return nil, repositories.ErrVideoNotFound
	}
	cp := *v
	return &cp, nil
}

func (f *fakeVideos) status(id uuid.UUID) po.ProcessingStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videos[id].ProcessingStatus
}

type fakeAcceptance struct {
	id  string
	err error
}

func (a fakeAcceptance) Wait(context.Context) (string, error) {
	return a.id, a.err
}

type fakeSubmitter struct {
	mu        sync.Mutex
	jobs      []services.TranscodeJob
	submitErr error
	ackErr    error
}

func (s *fakeSubmitter) Submit(_ context.Context, job services.TranscodeJob) (services.Acceptance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	s.jobs = append(s.jobs, job)
	return fakeAcceptance{id: fmt.Sprintf("msg-%d", len(s.jobs)), err: s.ackErr}, nil
}

func (s *fakeSubmitter) submitted() []services.TranscodeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.TranscodeJob(nil), s.jobs...)
}

type harness struct {
	store      *objectstore.MemoryStore
	videos     *fakeVideos
	submitter  *fakeSubmitter
	tracker    *services.SessionTracker
	receiver   *services.ChunkReceiver
	reasm      *services.Reassembler
	dispatcher *services.Dispatcher
	pipeline   *services.UploadPipeline
}

func newHarness(t *testing.T, bufSize int, videoIDs ...uuid.UUID) *harness {
	t.Helper()
	logger := testLogger()
	metrics := services.NewNoopMetrics()
	h := &harness{
		store:     objectstore.NewMemoryStore("https://cdn.example.com/media"),
		videos:    newFakeVideos(videoIDs...),
		submitter: &fakeSubmitter{},
	}
	h.tracker = services.NewSessionTracker(h.store, logger)
	h.receiver = services.NewChunkReceiver(h.store, h.tracker, metrics, logger)
	h.reasm = services.NewReassembler(h.store, h.tracker, metrics, logger, services.WithCopyBuffer(bufSize))
	h.dispatcher = services.NewDispatcher(h.submitter, h.videos, metrics, logger, 0)
	cleanup := services.NewCleanupAgent(h.store, metrics, logger)
	h.pipeline = services.NewUploadPipeline(h.receiver, h.tracker, h.reasm, cleanup, h.dispatcher, services.PipelineTimeouts{}, logger)
	t.Cleanup(h.pipeline.WaitBackground)
	return h
}

func (h *harness) send(ctx context.Context, uploadID, fileName string, index, total int, data []byte, videoID uuid.UUID) (*services.ChunkResult, error) {
	return h.pipeline.HandleChunk(ctx, services.ChunkInput{
		UploadID: uploadID,
		FileName: fileName,
		Index:    index,
		Total:    total,
		Size:     int64(len(data)),
		Data:     bytes.NewReader(data),
		VideoID:  videoID,
	})
}

func requireKind(t *testing.T, err error, kind services.ErrorKind) *services.PipelineError {
	t.Helper()
	require.Error(t, err)
	var pe *services.PipelineError
	require.True(t, errors.As(err, &pe), "expected PipelineError, got %T: %v", err, err)
	require.Equal(t, kind, pe.Kind, "unexpected kind: %v", err)
	return pe
}
