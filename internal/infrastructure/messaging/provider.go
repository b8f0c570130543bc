package messaging

import (
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// ProviderSet 提供 Pub/Sub 客户端、转码发布器与结果订阅。
var ProviderSet = wire.NewSet(
	NewClient,
	NewTranscodePublisher,
	NewResultSubscriber,
	wire.Bind(new(services.TranscodeSubmitter), new(*TranscodePublisher)),
)
