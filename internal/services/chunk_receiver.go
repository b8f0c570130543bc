package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
)

// 分片对象上附带的元数据键。
const (
	MetaTotalChunks = "total-chunks"
	MetaFileName    = "file-name"
)

// ChunkInput 描述一次分片上传请求。
type ChunkInput struct {
	UploadID string
	FileName string
	Index    int
	Total    int
	// Size 为分片字节数，未知时为 -1。
	Size int64
	Data io.Reader
	// VideoID 非零时，上传完成后自动派发转码。
	VideoID uuid.UUID
}

// ChunkAck 确认分片已持久化。
type ChunkAck struct {
	UploadID string
	Index    int
	Size     int64
}

// ChunkReceiver 校验分片并写入 temp/{uploadId}/{index}。
//
// 首个分片到达时写入 temp/{uploadId}/total-{N} 标记，之后 totalChunks 不同的分片一律拒绝。
type ChunkReceiver struct {
	store   objectstore.Store
	tracker *SessionTracker
	metrics *Metrics
	log     *log.Helper
}

// NewChunkReceiver 构造 ChunkReceiver。
func NewChunkReceiver(store objectstore.Store, tracker *SessionTracker, metrics *Metrics, logger log.Logger) *ChunkReceiver {
	return &ChunkReceiver{store: store, tracker: tracker, metrics: metrics, log: log.NewHelper(logger)}
}

// Receive 持久化单个分片。同一序号重复上传会覆盖旧内容。
func (r *ChunkReceiver) Receive(ctx context.Context, in ChunkInput) (*ChunkAck, error) {
	if err := validateChunkInput(in, r.tracker.MaxChunks()); err != nil {
		return nil, err
	}

	body, err := nonEmpty(in.Data)
	if err != nil {
		return nil, err
	}
	if err := r.declareTotal(ctx, in); err != nil {
		return nil, err
	}
	counter := &countingReader{r: body}
	path := ChunkPath(in.UploadID, in.Index)
	opts := objectstore.PutOptions{
		ContentType: ContentTypeFor(in.FileName),
		Metadata: map[string]string{
			MetaTotalChunks: strconv.Itoa(in.Total),
			MetaFileName:    in.FileName,
		},
	}
	if err := r.store.Put(ctx, path, counter, in.Size, opts); err != nil {
		r.log.WithContext(ctx).Errorf("store chunk failed: upload_id=%s index=%d err=%v", in.UploadID, in.Index, err)
		return nil, storageWriteFailed(in.Index, path, err)
	}

	r.metrics.chunkReceived(ctx, counter.n)
	r.log.WithContext(ctx).Debugf("chunk stored: upload_id=%s index=%d/%d bytes=%d", in.UploadID, in.Index, in.Total, counter.n)
	return &ChunkAck{UploadID: in.UploadID, Index: in.Index, Size: counter.n}, nil
}

// declareTotal 校验 totalChunks 与已登记的值一致，首个分片负责登记。
func (r *ChunkReceiver) declareTotal(ctx context.Context, in ChunkInput) error {
	listing, err := r.tracker.list(ctx, in.UploadID)
	if err != nil {
		return chunkFetchFailed(in.Index, ChunkPrefix(in.UploadID), err)
	}
	if listing.conflicts(in.Total) {
		r.log.WithContext(ctx).Warnf("chunk rejected, totalChunks disagrees: upload_id=%s index=%d total=%d declared=%v",
			in.UploadID, in.Index, in.Total, listing.totals)
		return invalidRequest("totalChunks %d disagrees with chunks already stored for upload %s", in.Total, in.UploadID)
	}
	if len(listing.totals) > 0 {
		return nil
	}
	marker := TotalMarkerPath(in.UploadID, in.Total)
	value := strconv.Itoa(in.Total)
	if err := r.store.Put(ctx, marker, strings.NewReader(value), int64(len(value)), objectstore.PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{MetaTotalChunks: value},
	}); err != nil {
		r.log.WithContext(ctx).Errorf("store total marker failed: upload_id=%s err=%v", in.UploadID, err)
		return storageWriteFailed(in.Index, marker, err)
	}
	return nil
}

func validateChunkInput(in ChunkInput, maxChunks int) error {
	switch {
	case !validSegment(in.UploadID):
		return invalidRequest("uploadId is missing or malformed")
	case !validSegment(in.FileName):
		return invalidRequest("fileName is missing or malformed")
	case in.Total < 1:
		return invalidRequest("totalChunks must be >= 1")
	case in.Total > maxChunks:
		return invalidRequest("totalChunks %d exceeds limit %d", in.Total, maxChunks)
	case in.Index < 0 || in.Index >= in.Total:
		return invalidRequest("chunkIndex %d out of range [0,%d)", in.Index, in.Total)
	case in.Data == nil || in.Size == 0:
		return invalidRequest("chunk is empty")
	}
	return nil
}

// nonEmpty 预读一个字节确认分片非空，再把它拼回原始流。
func nonEmpty(r io.Reader) (io.Reader, error) {
	var first [1]byte
	n, err := io.ReadFull(r, first[:])
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, invalidRequest("read chunk: %v", err)
		}
		return nil, invalidRequest("chunk is empty")
	}
	return io.MultiReader(bytes.NewReader(first[:n]), r), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
