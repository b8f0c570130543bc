package transcoding

import (
	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/messaging"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// ProvideRunner 装配结果 Runner，未配置订阅时返回 nil。
func ProvideRunner(sub messaging.ResultSubscriber, status *services.StatusService, logger log.Logger) *Runner {
	realSub := gcpubsub.Subscriber(sub)
	if realSub == nil || status == nil {
		return nil
	}
	runner, err := NewRunner(realSub, NewHandler(status, logger), logger)
	if err != nil {
		log.NewHelper(logger).Errorw("msg", "init transcode result runner failed", "error", err)
		return nil
	}
	return runner
}

// ProviderSet 暴露 Runner 构造器。
var ProviderSet = wire.NewSet(ProvideRunner)
