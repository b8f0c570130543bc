package server_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/controllers"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/server"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, storage configloader.Storage, db server.Pinger) *httptest.Server {
	t.Helper()
	logger := log.NewStdLogger(io.Discard)
	telemetry, cleanup, err := server.NewTelemetry(configloader.ServiceMetadata{Name: "ingest-test"}, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	metrics, err := services.NewMetrics(server.ProvideMeterProvider(telemetry))
	require.NoError(t, err)
	store := objectstore.NewMemoryStore("https://cdn.example.com")
	tracker := services.NewSessionTracker(store, logger)
	pipeline := services.NewUploadPipeline(
		services.NewChunkReceiver(store, tracker, metrics, logger),
		tracker,
		services.NewReassembler(store, tracker, metrics, logger),
		services.NewCleanupAgent(store, metrics, logger),
		nil,
		services.PipelineTimeouts{},
		logger,
	)
	t.Cleanup(pipeline.WaitBackground)
	base := controllers.NewBaseHandler(controllers.HandlerTimeouts{})
	uploads := controllers.NewUploadHandler(base, pipeline, 1<<20, logger)

	srv := server.NewHTTPServer(configloader.HTTPServer{}, storage, telemetry, uploads, nil, db, logger)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthAndReadiness(t *testing.T) {
	ts := newTestServer(t, configloader.Storage{Driver: "memory"}, pinger{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newTestServer(t, configloader.Storage{Driver: "memory"}, pinger{err: errors.New("db down")})
	resp, err = http.Get(down.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, configloader.Storage{Driver: "memory"}, nil)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+controllers.PathChunkedUpload, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization,x-client-info,apikey,content-type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	allowed := strings.ToLower(resp.Header.Get("Access-Control-Allow-Headers"))
	for _, h := range []string{"authorization", "x-client-info", "apikey", "content-type"} {
		assert.Contains(t, allowed, h)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, configloader.Storage{Driver: "memory"}, nil)

	resp, err := http.Get(ts.URL + "/functions/v1/chunked-upload/abc?totalChunks=2")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "server_requests_code_total")
}

func TestLocalMediaIsServed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "original"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "original", "a.mp4"), []byte("video-bytes"), 0o600))

	ts := newTestServer(t, configloader.Storage{
		Driver:        "local",
		PublicBaseURL: "http://localhost:8000/media",
		Local:         configloader.LocalStorage{Root: root},
	}, nil)

	resp, err := http.Get(ts.URL + "/media/original/a.mp4")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video-bytes", string(raw))
}
