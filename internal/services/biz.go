// Package services 实现分片上传重组与转码派发的用例编排。
package services

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
)

// ProviderSet 提供流水线各组件。
var ProviderSet = wire.NewSet(
	NewMetrics,
	NewChunkReceiver,
	ProvideSessionTracker,
	ProvideReassembler,
	NewCleanupAgent,
	ProvideDispatcher,
	ProvideUploadPipeline,
	NewStatusService,
	wire.Bind(new(VideoStatusStore), new(*repositories.VideoRepository)),
)

// ProvideSessionTracker 按 pipeline 配置构造 SessionTracker。
func ProvideSessionTracker(store objectstore.Store, logger log.Logger, cfg configloader.Pipeline) *SessionTracker {
	return NewSessionTracker(store, logger, WithMaxChunks(cfg.MaxChunks))
}

// ProvideReassembler 按 pipeline 配置构造 Reassembler。
func ProvideReassembler(store objectstore.Store, tracker *SessionTracker, metrics *Metrics, logger log.Logger, cfg configloader.Pipeline) *Reassembler {
	return NewReassembler(store, tracker, metrics, logger, WithCopyBuffer(cfg.CopyBufferBytes))
}

// ProvideDispatcher 按 pipeline 配置构造 Dispatcher。
func ProvideDispatcher(submitter TranscodeSubmitter, videos VideoStatusStore, metrics *Metrics, logger log.Logger, cfg configloader.Pipeline) *Dispatcher {
	return NewDispatcher(submitter, videos, metrics, logger, cfg.DispatchTimeout.Duration)
}

// ProvideUploadPipeline 按 pipeline 配置构造 UploadPipeline。
func ProvideUploadPipeline(
	receiver *ChunkReceiver,
	tracker *SessionTracker,
	reassembler *Reassembler,
	cleanup *CleanupAgent,
	dispatcher *Dispatcher,
	cfg configloader.Pipeline,
	logger log.Logger,
) *UploadPipeline {
	return NewUploadPipeline(receiver, tracker, reassembler, cleanup, dispatcher, PipelineTimeouts{Cleanup: cfg.CleanupTimeout.Duration}, logger)
}
