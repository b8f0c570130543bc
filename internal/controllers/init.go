package controllers

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// ProviderSet exposes controller/handler constructors for DI.
var ProviderSet = wire.NewSet(
	ProvideBaseHandler,
	ProvideUploadHandler,
	NewTranscodeHandler,
)

// ProvideBaseHandler 根据 HTTP 配置构造超时策略。
func ProvideBaseHandler(cfg configloader.HTTPServer) *BaseHandler {
	return NewBaseHandler(HandlerTimeouts{
		Default: cfg.Timeout.Duration,
		Command: cfg.Timeout.Duration,
		Query:   cfg.QueryTimeout.Duration,
	})
}

// ProvideUploadHandler 注入单分片大小上限。
func ProvideUploadHandler(base *BaseHandler, pipeline *services.UploadPipeline, cfg configloader.HTTPServer, logger log.Logger) *UploadHandler {
	return NewUploadHandler(base, pipeline, cfg.MaxChunkBytes, logger)
}
