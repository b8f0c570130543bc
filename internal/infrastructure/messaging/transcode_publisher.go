package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// 消息属性。
const (
	AttrEventType = "event_type"
	AttrVideoID   = "video_id"
	AttrJobID     = "job_id"

	EventTranscodeRequested = "video.transcode.requested"
)

// TranscodePublisher 把 TranscodeJob 以 JSON 发布到转码主题。
type TranscodePublisher struct {
	publisher *pubsub.Publisher
	topic     string
	log       *log.Helper
}

var _ services.TranscodeSubmitter = (*TranscodePublisher)(nil)

// NewTranscodePublisher 构造发布器。client 或 topic 为空时，Submit 一律返回 ErrNotConfigured。
func NewTranscodePublisher(client *pubsub.Client, cfg configloader.Pubsub, logger log.Logger) (*TranscodePublisher, func()) {
	p := &TranscodePublisher{topic: cfg.TranscodeTopic, log: log.NewHelper(logger)}
	if client == nil || cfg.TranscodeTopic == "" {
		return p, func() {}
	}
	p.publisher = client.Publisher(cfg.TranscodeTopic)
	if cfg.PublishTimeout.Duration > 0 {
		p.publisher.PublishSettings.Timeout = cfg.PublishTimeout.Duration
	}
	// 单条任务即时发送。
	p.publisher.PublishSettings.DelayThreshold = 10 * time.Millisecond
	return p, p.publisher.Stop
}

// Submit 实现 services.TranscodeSubmitter。
func (p *TranscodePublisher) Submit(ctx context.Context, job services.TranscodeJob) (services.Acceptance, error) {
	if p == nil || p.publisher == nil {
		return nil, ErrNotConfigured
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("messaging: encode transcode job: %w", err)
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrEventType: EventTranscodeRequested,
			AttrVideoID:   job.VideoID.String(),
			AttrJobID:     job.JobID,
		},
	})
	p.log.WithContext(ctx).Debugf("transcode job queued: topic=%s job_id=%s", p.topic, job.JobID)
	return publishAcceptance{result: result}, nil
}

type publishAcceptance struct {
	result *pubsub.PublishResult
}

func (a publishAcceptance) Wait(ctx context.Context) (string, error) {
	return a.result.Get(ctx)
}
