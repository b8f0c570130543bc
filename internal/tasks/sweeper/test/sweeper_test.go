package sweeper_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/sweeper"
)

type fixture struct {
	store *objectstore.MemoryStore
	now   time.Time
}

func (f *fixture) putAt(t *testing.T, path string, at time.Time) {
	t.Helper()
	f.store.SetClock(func() time.Time { return at })
	require.NoError(t, f.store.Put(context.Background(), path, strings.NewReader("x"), 1, objectstore.PutOptions{}))
}

func newFixture() *fixture {
	return &fixture{store: objectstore.NewMemoryStore(""), now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func newSweeper(f *fixture) *sweeper.Sweeper {
	cfg := configloader.Sweeper{MaxAge: configloader.Duration{Duration: time.Hour}}
	return sweeper.New(f.store, cfg, log.NewStdLogger(io.Discard)).WithClock(func() time.Time { return f.now })
}

func exists(f *fixture, path string) bool {
	_, err := f.store.Bytes(path)
	return err == nil
}

func TestSweep_RemovesAbandonedUploadsOnly(t *testing.T) {
	f := newFixture()
	old := f.now.Add(-2 * time.Hour)
	recent := f.now.Add(-10 * time.Minute)

	f.putAt(t, "temp/abandoned/0000", old)
	f.putAt(t, "temp/abandoned/0001", old)
	// 旧分片与新分片混合时，整组保留。
	f.putAt(t, "temp/active/0000", old)
	f.putAt(t, "temp/active/0001", recent)
	f.putAt(t, "staging/abandoned/run-1", old)
	f.putAt(t, "staging/active/run-2", recent)
	f.putAt(t, "original/done.mp4", old)

	report, err := newSweeper(f).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweeper.Report{UploadsRemoved: 1, ChunksRemoved: 2, StagingRemoved: 1}, report)

	assert.False(t, exists(f, "temp/abandoned/0000"))
	assert.False(t, exists(f, "temp/abandoned/0001"))
	assert.True(t, exists(f, "temp/active/0000"))
	assert.True(t, exists(f, "temp/active/0001"))
	assert.False(t, exists(f, "staging/abandoned/run-1"))
	assert.True(t, exists(f, "staging/active/run-2"))
	assert.True(t, exists(f, "original/done.mp4"), "published objects are never swept")
}

func TestSweep_ReportsDeleteFailures(t *testing.T) {
	f := newFixture()
	old := f.now.Add(-2 * time.Hour)
	f.putAt(t, "temp/a/0000", old)
	f.putAt(t, "temp/b/0000", old)
	f.store.SetHooks(objectstore.FaultHooks{Delete: func(path string) error {
		if strings.HasPrefix(path, "temp/a/") {
			return errors.New("denied")
		}
		return nil
	}})

	report, err := newSweeper(f).Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.UploadsRemoved)
	assert.True(t, exists(f, "temp/a/0000"))
	assert.False(t, exists(f, "temp/b/0000"))
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture()
	f.putAt(t, "temp/a/0000", f.now.Add(-2*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newSweeper(f).Run(ctx) }()

	require.Eventually(t, func() bool { return !exists(f, "temp/a/0000") }, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
