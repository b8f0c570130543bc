package messaging_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/messaging"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

const (
	projectID = "test-project"
	topicID   = "ingest.transcode.jobs"
)

func TestTranscodePublisher_PublishesJobToEmulator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := pstest.NewServer()
	defer server.Close()
	_, err := server.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)})
	require.NoError(t, err)

	logger := log.NewStdLogger(io.Discard)
	cfg := configloader.Pubsub{
		ProjectID:        projectID,
		TranscodeTopic:   topicID,
		EmulatorEndpoint: server.Addr,
		PublishTimeout:   configloader.Duration{Duration: 5 * time.Second},
	}
	client, cleanupClient, err := messaging.NewClient(ctx, cfg, logger)
	require.NoError(t, err)
	defer cleanupClient()

	pub, stop := messaging.NewTranscodePublisher(client, cfg, logger)
	defer stop()

	videoID := uuid.New()
	job := services.NewTranscodeJob(videoID, &services.FinalObjectRef{
		Path:      "original/clip.mp4",
		PublicURL: "https://storage.googleapis.com/media/original/clip.mp4",
	}, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	acc, err := pub.Submit(ctx, job)
	require.NoError(t, err)
	serverID, err := acc.Wait(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, serverID)

	msgs := server.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, messaging.EventTranscodeRequested, msgs[0].Attributes[messaging.AttrEventType])
	assert.Equal(t, videoID.String(), msgs[0].Attributes[messaging.AttrVideoID])
	assert.Equal(t, job.JobID, msgs[0].Attributes[messaging.AttrJobID])

	var decoded services.TranscodeJob
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, job.SourceURL, decoded.SourceURL)
	assert.Equal(t, "processed/"+videoID.String()+"/", decoded.OutputPrefix)
	assert.Len(t, decoded.Renditions, 4)
}

func TestTranscodePublisher_MissingTopicFailsOnAck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server := pstest.NewServer()
	defer server.Close()

	logger := log.NewStdLogger(io.Discard)
	cfg := configloader.Pubsub{ProjectID: projectID, TranscodeTopic: "does-not-exist", EmulatorEndpoint: server.Addr}
	client, cleanupClient, err := messaging.NewClient(ctx, cfg, logger)
	require.NoError(t, err)
	defer cleanupClient()

	pub, stop := messaging.NewTranscodePublisher(client, cfg, logger)
	defer stop()

	acc, err := pub.Submit(ctx, services.NewTranscodeJob(uuid.New(), &services.FinalObjectRef{PublicURL: "u"}, time.Now()))
	require.NoError(t, err, "submission only queues the message")
	_, err = acc.Wait(ctx)
	assert.Error(t, err)
}

func TestTranscodePublisher_NotConfigured(t *testing.T) {
	logger := log.NewStdLogger(io.Discard)
	client, cleanup, err := messaging.NewClient(context.Background(), configloader.Pubsub{}, logger)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, client)

	pub, stop := messaging.NewTranscodePublisher(client, configloader.Pubsub{}, logger)
	defer stop()
	_, err = pub.Submit(context.Background(), services.TranscodeJob{})
	assert.True(t, errors.Is(err, messaging.ErrNotConfigured))
}
