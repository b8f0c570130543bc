package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/vo"
)

// DefaultCleanupTimeout 是分片清理的默认超时。
const DefaultCleanupTimeout = 30 * time.Second

// ChunkResult 是 HandleChunk 的结果：要么只有 Ack，要么带着最终对象。
type ChunkResult struct {
	Ack   *ChunkAck
	Final *FinalObjectRef
	// Dispatch 仅在请求携带 videoId 且派发成功提交时非空。
	Dispatch *DispatchTicket
}

// UploadPipeline 串联接收、完整性判断、重组、清理与派发。
type UploadPipeline struct {
	receiver       *ChunkReceiver
	tracker        *SessionTracker
	reassembler    *Reassembler
	cleanup        *CleanupAgent
	dispatcher     *Dispatcher
	log            *log.Helper
	cleanupTimeout time.Duration

	bg sync.WaitGroup
}

// PipelineTimeouts 汇总后台任务的超时设置。
type PipelineTimeouts struct {
	Cleanup time.Duration
}

// NewUploadPipeline 构造 UploadPipeline。dispatcher 可为 nil，此时忽略 videoId。
func NewUploadPipeline(
	receiver *ChunkReceiver,
	tracker *SessionTracker,
	reassembler *Reassembler,
	cleanup *CleanupAgent,
	dispatcher *Dispatcher,
	timeouts PipelineTimeouts,
	logger log.Logger,
) *UploadPipeline {
	if timeouts.Cleanup <= 0 {
		timeouts.Cleanup = DefaultCleanupTimeout
	}
	return &UploadPipeline{
		receiver:       receiver,
		tracker:        tracker,
		reassembler:    reassembler,
		cleanup:        cleanup,
		dispatcher:     dispatcher,
		log:            log.NewHelper(logger),
		cleanupTimeout: timeouts.Cleanup,
	}
}

// HandleChunk 处理一个分片。使集合变得完整的那次调用负责重组，与分片序号无关。
func (p *UploadPipeline) HandleChunk(ctx context.Context, in ChunkInput) (*ChunkResult, error) {
	ack, err := p.receiver.Receive(ctx, in)
	if err != nil {
		return nil, err
	}

	complete, err := p.tracker.IsComplete(ctx, in.UploadID, in.Total)
	if err != nil {
		// 分片已持久化，客户端重试同一分片即可再次触发判断。
		p.log.WithContext(ctx).Errorf("completeness check failed: upload_id=%s err=%v", in.UploadID, err)
		return nil, chunkFetchFailed(noIndex, ChunkPrefix(in.UploadID), err)
	}
	if !complete {
		return &ChunkResult{Ack: ack}, nil
	}

	final, err := p.reassembler.Reassemble(ctx, in.UploadID, in.FileName, in.Total)
	if err != nil {
		if errors.Is(err, ErrIncompleteUpload) {
			p.log.WithContext(ctx).Infof("upload no longer complete at reassembly, acking chunk: upload_id=%s err=%v", in.UploadID, err)
			return &ChunkResult{Ack: ack}, nil
		}
		p.log.WithContext(ctx).Errorf("reassembly failed: upload_id=%s file=%s err=%v", in.UploadID, in.FileName, err)
		return nil, err
	}
	p.log.WithContext(ctx).Infof("upload reassembled: upload_id=%s path=%s bytes=%d", in.UploadID, final.Path, final.Size)

	p.scheduleCleanup(ctx, in.UploadID, in.Total)

	result := &ChunkResult{Ack: ack, Final: final}
	if in.VideoID != uuid.Nil && p.dispatcher != nil {
		ticket, err := p.dispatcher.Dispatch(ctx, in.VideoID, final)
		if err != nil {
			p.log.WithContext(ctx).Errorf("auto dispatch failed: upload_id=%s video_id=%s err=%v", in.UploadID, in.VideoID, err)
		} else {
			result.Dispatch = ticket
		}
	}
	return result, nil
}

// Complete 在不上传新分片的前提下触发重组，供管理端重试使用。
// 分片不全时返回 IncompleteUpload。
func (p *UploadPipeline) Complete(ctx context.Context, uploadID, fileName string, total int, videoID uuid.UUID) (*ChunkResult, error) {
	final, err := p.reassembler.Reassemble(ctx, uploadID, fileName, total)
	if err != nil {
		return nil, err
	}
	p.scheduleCleanup(ctx, uploadID, total)

	result := &ChunkResult{Final: final}
	if videoID != uuid.Nil && p.dispatcher != nil {
		ticket, err := p.dispatcher.Dispatch(ctx, videoID, final)
		if err != nil {
			return result, err
		}
		result.Dispatch = ticket
	}
	return result, nil
}

// Status 返回上传进度视图。
func (p *UploadPipeline) Status(ctx context.Context, uploadID string, total int) (*vo.UploadSession, error) {
	sess, err := p.tracker.Snapshot(ctx, uploadID, total)
	if err != nil {
		if KindOf(err) == KindUnknown {
			return nil, chunkFetchFailed(noIndex, ChunkPrefix(uploadID), err)
		}
		return nil, err
	}
	return sess, nil
}

// WaitBackground 等待所有后台清理与派发确认结束，用于优雅退出与测试。
func (p *UploadPipeline) WaitBackground() {
	p.bg.Wait()
	if p.dispatcher != nil {
		p.dispatcher.Wait()
	}
}

func (p *UploadPipeline) scheduleCleanup(ctx context.Context, uploadID string, total int) {
	detached := context.WithoutCancel(ctx)
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		cctx, cancel := context.WithTimeout(detached, p.cleanupTimeout)
		defer cancel()
		p.cleanup.Cleanup(cctx, uploadID, total)
	}()
}
