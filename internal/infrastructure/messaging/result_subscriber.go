package messaging

import (
	"context"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
)

// ResultSubscriber 是转码结果订阅，未配置时为 nil。
type ResultSubscriber gcpubsub.Subscriber

// NewResultSubscriber 基于 gcpubsub 组件构造结果订阅。
func NewResultSubscriber(ctx context.Context, cfg configloader.Pubsub, logger log.Logger) (ResultSubscriber, func(), error) {
	if cfg.ProjectID == "" || cfg.ResultSubscription == "" {
		log.NewHelper(logger).Warn("pubsub result subscription not configured, transcode results only accepted over HTTP")
		return nil, func() {}, nil
	}
	enableLogging := true
	enableMetrics := true
	component, cleanup, err := gcpubsub.NewComponent(ctx, gcpubsub.Config{
		ProjectID:        cfg.ProjectID,
		TopicID:          cfg.ResultTopic,
		SubscriptionID:   cfg.ResultSubscription,
		EnableLogging:    &enableLogging,
		EnableMetrics:    &enableMetrics,
		EmulatorEndpoint: cfg.EmulatorEndpoint,
		Receive: gcpubsub.ReceiveConfig{
			NumGoroutines:          cfg.ReceiveConcurrency,
			MaxOutstandingMessages: cfg.ReceiveConcurrency * 4,
		},
	}, gcpubsub.Dependencies{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return gcpubsub.ProvideSubscriber(component), cleanup, nil
}
