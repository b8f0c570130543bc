package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/vo"
)

// DefaultMaxChunks 是单次上传允许的 totalChunks 上限。
const DefaultMaxChunks = 100000

// MaxListedMissing 是进度视图与 409 响应中列出的缺失序号上限。
const MaxListedMissing = 1000

// SessionTracker 根据 temp/{uploadId}/ 的列表推导上传进度，自身不保存任何状态。
type SessionTracker struct {
	store     objectstore.Store
	log       *log.Helper
	maxChunks int
}

// TrackerOption 定义可选配置。
type TrackerOption func(*SessionTracker)

// WithMaxChunks 设置 totalChunks 上限。
func WithMaxChunks(n int) TrackerOption {
	return func(t *SessionTracker) {
		if n > 0 {
			t.maxChunks = n
		}
	}
}

// NewSessionTracker 构造 SessionTracker。
func NewSessionTracker(store objectstore.Store, logger log.Logger, opts ...TrackerOption) *SessionTracker {
	t := &SessionTracker{store: store, log: log.NewHelper(logger), maxChunks: DefaultMaxChunks}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MaxChunks 返回 totalChunks 上限。
func (t *SessionTracker) MaxChunks() int {
	return t.maxChunks
}

// Snapshot 返回当前已到达/缺失的分片视图。
func (t *SessionTracker) Snapshot(ctx context.Context, uploadID string, total int) (*vo.UploadSession, error) {
	if err := t.validate(uploadID, total); err != nil {
		return nil, err
	}
	listing, err := t.list(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return listing.session(uploadID, total), nil
}

// IsComplete 判断 [0,total) 的每个分片是否都已存在，且各分片登记的 totalChunks 一致。
func (t *SessionTracker) IsComplete(ctx context.Context, uploadID string, total int) (bool, error) {
	if err := t.validate(uploadID, total); err != nil {
		return false, err
	}
	listing, err := t.list(ctx, uploadID)
	if err != nil {
		return false, err
	}
	return listing.complete(total), nil
}

func (t *SessionTracker) validate(uploadID string, total int) error {
	switch {
	case !validSegment(uploadID):
		return invalidRequest("uploadId is missing or malformed")
	case total < 1:
		return invalidRequest("totalChunks must be >= 1")
	case total > t.maxChunks:
		return invalidRequest("totalChunks %d exceeds limit %d", total, t.maxChunks)
	}
	return nil
}

// chunkListing 是一次列表的解析结果。
type chunkListing struct {
	chunks map[int]objectstore.ObjectInfo
	// totals 为去重排序后的登记总数。
	totals []int
}

// list 列出 temp/{uploadId}/ 并区分分片与总数标记。无法解析的对象被忽略。
func (t *SessionTracker) list(ctx context.Context, uploadID string) (*chunkListing, error) {
	prefix := ChunkPrefix(uploadID)
	objs, err := t.store.List(ctx, prefix)
	if err != nil {
		t.log.WithContext(ctx).Errorf("list chunks failed: upload_id=%s err=%v", uploadID, err)
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	listing := &chunkListing{chunks: make(map[int]objectstore.ObjectInfo, len(objs))}
	for _, obj := range objs {
		if idx, ok := ParseChunkIndex(uploadID, obj.Path); ok {
			listing.chunks[idx] = obj
			continue
		}
		if total, ok := ParseTotalMarker(uploadID, obj.Path); ok {
			listing.totals = append(listing.totals, total)
			continue
		}
		t.log.WithContext(ctx).Warnf("ignore unexpected object under chunk prefix: path=%s", obj.Path)
	}
	sort.Ints(listing.totals)
	return listing, nil
}

// conflicts 判断以 total 上传的分片是否与已有列表矛盾。
func (l *chunkListing) conflicts(total int) bool {
	for _, declared := range l.totals {
		if declared != total {
			return true
		}
	}
	for idx := range l.chunks {
		if idx >= total {
			return true
		}
	}
	return false
}

// complete 只统计数量，不构造缺失列表。
func (l *chunkListing) complete(total int) bool {
	if l.conflicts(total) {
		return false
	}
	return len(l.chunks) == total
}

func (l *chunkListing) session(uploadID string, total int) *vo.UploadSession {
	sess := &vo.UploadSession{
		UploadID:        uploadID,
		TotalChunks:     total,
		ReceivedIndices: []int{},
		MissingIndices:  []int{},
		DeclaredTotals:  l.totals,
	}
	for idx, obj := range l.chunks {
		if idx >= total {
			sess.Extraneous = append(sess.Extraneous, idx)
			continue
		}
		sess.ReceivedIndices = append(sess.ReceivedIndices, idx)
		sess.ReceivedBytes += obj.Size
	}
	sort.Ints(sess.ReceivedIndices)
	sort.Ints(sess.Extraneous)
	sess.MissingCount = total - len(sess.ReceivedIndices)

	// 按已收序号跳跃查找缺口，收集到上限即停。
	next := 0
	for _, idx := range sess.ReceivedIndices {
		sess.MissingIndices = appendMissing(sess.MissingIndices, next, idx)
		next = idx + 1
	}
	sess.MissingIndices = appendMissing(sess.MissingIndices, next, total)
	return sess
}

func appendMissing(dst []int, from, to int) []int {
	for i := from; i < to && len(dst) < MaxListedMissing; i++ {
		dst = append(dst, i)
	}
	return dst
}
