package services

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
)

// CleanupAgent 删除已重组上传的分片。
type CleanupAgent struct {
	store   objectstore.Store
	metrics *Metrics
	log     *log.Helper
}

// NewCleanupAgent 构造 CleanupAgent。
func NewCleanupAgent(store objectstore.Store, metrics *Metrics, logger log.Logger) *CleanupAgent {
	return &CleanupAgent{store: store, metrics: metrics, log: log.NewHelper(logger)}
}

// Cleanup 删除 temp/{uploadId}/{0..total-1} 及总数标记。错误只记录日志，不向调用方返回。
func (c *CleanupAgent) Cleanup(ctx context.Context, uploadID string, total int) {
	if total < 1 || !validSegment(uploadID) {
		return
	}
	paths := make([]string, total, total+1)
	for i := range paths {
		paths[i] = ChunkPath(uploadID, i)
	}
	paths = append(paths, TotalMarkerPath(uploadID, total))
	if err := c.store.Delete(ctx, paths...); err != nil {
		c.metrics.cleanupFailed(ctx)
		c.log.WithContext(ctx).Warnf("cleanup chunks failed: upload_id=%s total=%d err=%v", uploadID, total, err)
		return
	}
	c.log.WithContext(ctx).Debugf("chunks cleaned up: upload_id=%s total=%d", uploadID, total)
}
