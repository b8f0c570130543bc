package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/controllers"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

const publicBase = "https://cdn.example.com/media"

type memoryVideos struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*po.Video
}

func newMemoryVideos(ids ...uuid.UUID) *memoryVideos {
	m := &memoryVideos{videos: make(map[uuid.UUID]*po.Video)}
	for _, id := range ids {
		m.videos[id] = &po.Video{ID: id, ProcessingStatus: po.ProcessingPending}
	}
	return m
}

func (m *memoryVideos) update(id uuid.UUID, fn func(v *po.Video)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return repositories.ErrVideoNotFound
	}
	fn(v)
	return nil
}

func (m *memoryVideos) MarkProcessing(_ context.Context, id uuid.UUID, url string, size int64) error {
	return m.update(id, func(v *po.Video) {
		v.ProcessingStatus = po.ProcessingProcessing
		v.OriginalFileURL = &url
		if size > 0 {
			v.FileSizeBytes = &size
		}
	})
}

func (m *memoryVideos) MarkCompleted(_ context.Context, id uuid.UUID, manifest string) error {
	return m.update(id, func(v *po.Video) {
		v.ProcessingStatus = po.ProcessingCompleted
		v.DashManifestURL = &manifest
	})
}

func (m *memoryVideos) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return m.update(id, func(v *po.Video) {
		v.ProcessingStatus = po.ProcessingFailed
		v.ProcessingError = &reason
	})
}

func (m *memoryVideos) Get(_ context.Context, id uuid.UUID) (*po.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, repositories.ErrVideoNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memoryVideos) status(id uuid.UUID) po.ProcessingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videos[id].ProcessingStatus
}

type okAcceptance struct{}

func (okAcceptance) Wait(context.Context) (string, error) { return "msg-1", nil }

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []services.TranscodeJob
	err  error
}

func (s *recordingSubmitter) Submit(_ context.Context, job services.TranscodeJob) (services.Acceptance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.jobs = append(s.jobs, job)
	return okAcceptance{}, nil
}

func (s *recordingSubmitter) submitted() []services.TranscodeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.TranscodeJob(nil), s.jobs...)
}

type apiFixture struct {
	store     *objectstore.MemoryStore
	videos    *memoryVideos
	submitter *recordingSubmitter
	server    *httptest.Server
}

func newAPIFixture(t *testing.T, maxChunkBytes int64, videoIDs ...uuid.UUID) *apiFixture {
	t.Helper()
	logger := log.NewStdLogger(io.Discard)
	metrics := services.NewNoopMetrics()
	f := &apiFixture{
		store:     objectstore.NewMemoryStore(publicBase),
		videos:    newMemoryVideos(videoIDs...),
		submitter: &recordingSubmitter{},
	}
	tracker := services.NewSessionTracker(f.store, logger)
	dispatcher := services.NewDispatcher(f.submitter, f.videos, metrics, logger, 0)
	pipeline := services.NewUploadPipeline(
		services.NewChunkReceiver(f.store, tracker, metrics, logger),
		tracker,
		services.NewReassembler(f.store, tracker, metrics, logger, services.WithCopyBuffer(64)),
		services.NewCleanupAgent(f.store, metrics, logger),
		dispatcher,
		services.PipelineTimeouts{},
		logger,
	)
	base := controllers.NewBaseHandler(controllers.HandlerTimeouts{})

	srv := khttp.NewServer(khttp.ErrorEncoder(controllers.EncodeError))
	r := srv.Route("/")
	controllers.NewUploadHandler(base, pipeline, maxChunkBytes, logger).Register(r)
	controllers.NewTranscodeHandler(base, dispatcher, services.NewStatusService(f.videos, logger), logger).Register(r)

	f.server = httptest.NewServer(srv)
	t.Cleanup(func() {
		f.server.Close()
		pipeline.WaitBackground()
		dispatcher.Wait()
	})
	return f
}

type chunkRequest struct {
	uploadID string
	fileName string
	index    int
	total    int
	data     []byte
	videoID  string
	omit     string
}

func (f *apiFixture) postChunk(t *testing.T, req chunkRequest) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"chunkIndex":  strconv.Itoa(req.index),
		"totalChunks": strconv.Itoa(req.total),
		"fileName":    req.fileName,
		"uploadId":    req.uploadID,
	}
	if req.videoID != "" {
		fields["videoId"] = req.videoID
	}
	for k, v := range fields {
		if k == req.omit {
			continue
		}
		require.NoError(t, w.WriteField(k, v))
	}
	if req.omit != "chunk" {
		part, err := w.CreateFormFile("chunk", fmt.Sprintf("%s.part%d", req.fileName, req.index))
		require.NoError(t, err)
		_, err = part.Write(req.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	resp, err := http.Post(f.server.URL+controllers.PathChunkedUpload, w.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (f *apiFixture) postJSON(t *testing.T, path string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return out
}

func chunkData(index, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte('a' + (index+i)%26)
	}
	return b
}
