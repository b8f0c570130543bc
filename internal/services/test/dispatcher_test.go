package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

func awaitTicket(t *testing.T, ticket *services.DispatchTicket) error {
	t.Helper()
	select {
	case err := <-ticket.Done():
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch ticket not resolved")
		return nil
	}
}

func TestDispatch_MarksProcessingThenSubmits(t *testing.T) {
	videoID := uuid.New()
	videos := newFakeVideos(videoID)
	sub := &fakeSubmitter{}
	d := services.NewDispatcher(sub, videos, services.NewNoopMetrics(), testLogger(), time.Second)

	ref := &services.FinalObjectRef{Path: "original/a.mp4", PublicURL: "https://cdn/original/a.mp4", Size: 42}
	ticket, err := d.Dispatch(context.Background(), videoID, ref)
	require.NoError(t, err)
	require.NoError(t, awaitTicket(t, ticket))

	assert.Equal(t, []string{"processing"}, videos.calls)
	assert.Equal(t, po.ProcessingProcessing, videos.status(videoID))
	assert.Equal(t, "https://cdn/original/a.mp4", *videos.videos[videoID].OriginalFileURL)
	assert.Equal(t, int64(42), *videos.videos[videoID].FileSizeBytes)

	jobs := sub.submitted()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, ticket.JobID, job.JobID)
	assert.Equal(t, videoID, job.VideoID)
	assert.Equal(t, "https://cdn/original/a.mp4", job.SourceURL)
	assert.Equal(t, "processed/"+videoID.String()+"/", job.OutputPrefix)
	assert.Equal(t, "manifest.mpd", job.ManifestName)
	assert.Equal(t, 4, job.SegmentSeconds)
	assert.Equal(t, services.DefaultLadder(), job.Renditions)
	assert.Equal(t, 128, job.Audio.BitrateKbps)
}

func TestDispatch_SubmitFailureMarksFailed(t *testing.T) {
	videoID := uuid.New()
	videos := newFakeVideos(videoID)
	sub := &fakeSubmitter{submitErr: errors.New("topic not found")}
	d := services.NewDispatcher(sub, videos, services.NewNoopMetrics(), testLogger(), time.Second)

	_, err := d.Dispatch(context.Background(), videoID, &services.FinalObjectRef{PublicURL: "u"})
	requireKind(t, err, services.KindDispatchFailed)
	assert.Equal(t, []string{"processing", "failed"}, videos.calls)
	assert.Equal(t, po.ProcessingFailed, videos.status(videoID))
	assert.Contains(t, *videos.videos[videoID].ProcessingError, "topic not found")
}

func TestDispatch_AsyncAckFailureMarksFailed(t *testing.T) {
	videoID := uuid.New()
	videos := newFakeVideos(videoID)
	sub := &fakeSubmitter{ackErr: errors.New("deadline exceeded")}
	d := services.NewDispatcher(sub, videos, services.NewNoopMetrics(), testLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	ticket, err := d.Dispatch(ctx, videoID, &services.FinalObjectRef{PublicURL: "u"})
	require.NoError(t, err)
	// 请求结束后后台确认仍继续。
	cancel()

	ackErr := awaitTicket(t, ticket)
	requireKind(t, ackErr, services.KindDispatchFailed)
	d.Wait()
	assert.Equal(t, po.ProcessingFailed, videos.status(videoID))
}

func TestDispatch_UnknownVideo(t *testing.T) {
	sub := &fakeSubmitter{}
	d := services.NewDispatcher(sub, newFakeVideos(), services.NewNoopMetrics(), testLogger(), time.Second)

	_, err := d.Dispatch(context.Background(), uuid.New(), &services.FinalObjectRef{PublicURL: "u"})
	requireKind(t, err, services.KindDispatchFailed)
	assert.Empty(t, sub.submitted(), "nothing is submitted when the record cannot be marked")
}

func TestDispatch_InvalidInput(t *testing.T) {
	d := services.NewDispatcher(&fakeSubmitter{}, newFakeVideos(), services.NewNoopMetrics(), testLogger(), time.Second)
	_, err := d.Dispatch(context.Background(), uuid.Nil, &services.FinalObjectRef{PublicURL: "u"})
	requireKind(t, err, services.KindInvalidRequest)
	_, err = d.Dispatch(context.Background(), uuid.New(), &services.FinalObjectRef{})
	requireKind(t, err, services.KindInvalidRequest)
}
