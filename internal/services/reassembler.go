package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
)

// DefaultCopyBufferBytes 是重组拷贝缓冲区的默认大小。
const DefaultCopyBufferBytes = 1 << 20

// FinalObjectRef 指向已发布的完整原始文件。
type FinalObjectRef struct {
	Path        string
	PublicURL   string
	Size        int64
	ContentType string
	Chunks      int
}

// Reassembler 把全部分片按序拼接为 original/{fileName}。
//
// 输出先写入 staging/{uploadId}/{runId}，校验长度后再原子发布到规范路径；
// 并发运行互不干扰，规范路径上只会出现完整对象。
type Reassembler struct {
	store    objectstore.Store
	tracker  *SessionTracker
	metrics  *Metrics
	log      *log.Helper
	bufSize  int
	newRunID func() string
}

// ReassemblerOption 定义可选配置。
type ReassemblerOption func(*Reassembler)

// WithCopyBuffer 设置拷贝缓冲区大小，决定单次重组的内存上限。
func WithCopyBuffer(size int) ReassemblerOption {
	return func(r *Reassembler) {
		if size > 0 {
			r.bufSize = size
		}
	}
}

// WithRunIDGenerator 覆盖 staging 运行 ID 生成器。
func WithRunIDGenerator(gen func() string) ReassemblerOption {
	return func(r *Reassembler) {
		if gen != nil {
			r.newRunID = gen
		}
	}
}

// NewReassembler 构造 Reassembler。
func NewReassembler(store objectstore.Store, tracker *SessionTracker, metrics *Metrics, logger log.Logger, opts ...ReassemblerOption) *Reassembler {
	r := &Reassembler{
		store:    store,
		tracker:  tracker,
		metrics:  metrics,
		log:      log.NewHelper(logger),
		bufSize:  DefaultCopyBufferBytes,
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reassemble 在分片齐全时生成最终对象。
//
// 分片不全时返回 IncompleteUpload 且不写规范路径。重复调用是幂等的：
// 分片仍在则重新发布相同内容；若读取分片时发现已被另一次运行清理，
// 且规范路径上已有长度一致的对象，则直接返回该对象。
func (r *Reassembler) Reassemble(ctx context.Context, uploadID, fileName string, total int) (*FinalObjectRef, error) {
	start := time.Now()
	ref, err := r.reassemble(ctx, uploadID, fileName, total)
	result := "ok"
	var size int64
	if err != nil {
		result = KindOf(err).String()
	} else {
		size = ref.Size
	}
	r.metrics.reassembled(ctx, result, size, time.Since(start))
	return ref, err
}

func (r *Reassembler) reassemble(ctx context.Context, uploadID, fileName string, total int) (*FinalObjectRef, error) {
	if !validSegment(fileName) {
		return nil, invalidRequest("fileName is missing or malformed")
	}
	if err := r.tracker.validate(uploadID, total); err != nil {
		return nil, err
	}
	helper := r.log.WithContext(ctx)

	listing, err := r.tracker.list(ctx, uploadID)
	if err != nil {
		return nil, chunkFetchFailed(noIndex, ChunkPrefix(uploadID), err)
	}
	if listing.conflicts(total) {
		helper.Warnf("reassembly refused, totalChunks disagrees with stored chunks: upload_id=%s total=%d declared=%v", uploadID, total, listing.totals)
		return nil, invalidRequest("totalChunks %d disagrees with chunks already stored for upload %s", total, uploadID)
	}
	if !listing.complete(total) {
		return nil, incompleteUpload(listing.session(uploadID, total).MissingIndices)
	}
	chunks := listing.chunks
	var expected int64
	for _, obj := range chunks {
		expected += obj.Size
	}
	finalPath := FinalPath(fileName)
	contentType := ContentTypeFor(fileName)

	staging := StagingPath(uploadID, r.newRunID())
	w, err := r.store.Create(ctx, staging, objectstore.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			MetaFileName:    fileName,
			MetaTotalChunks: strconv.Itoa(total),
		},
	})
	if err != nil {
		return nil, storageWriteFailed(noIndex, staging, err)
	}
	helper.Infof("reassembly started: upload_id=%s chunks=%d bytes=%d staging=%s", uploadID, total, expected, staging)

	buf := make([]byte, r.bufSize)
	for i := 0; i < total; i++ {
		chunkPath := ChunkPath(uploadID, i)
		rc, err := r.store.Open(ctx, chunkPath)
		if err != nil {
			_ = w.Abort()
			if errors.Is(err, objectstore.ErrNotFound) {
				return r.racerFallback(ctx, finalPath, contentType, expected, total, i, chunkPath, err)
			}
			return nil, chunkFetchFailed(i, chunkPath, err)
		}
		n, readErr, writeErr := copyChunk(w, rc, buf)
		_ = rc.Close()
		switch {
		case writeErr != nil:
			_ = w.Abort()
			return nil, storageWriteFailed(i, staging, writeErr)
		case readErr != nil:
			_ = w.Abort()
			return nil, chunkFetchFailed(i, chunkPath, readErr)
		case n != chunks[i].Size:
			_ = w.Abort()
			helper.Warnf("chunk changed during reassembly: upload_id=%s index=%d listed=%d read=%d", uploadID, i, chunks[i].Size, n)
			return nil, integrityError(chunkPath, fmt.Sprintf("chunk %d: listed %d bytes, read %d", i, chunks[i].Size, n))
		}
	}
	if err := w.Close(); err != nil {
		return nil, storageWriteFailed(noIndex, staging, err)
	}

	info, err := r.store.Stat(ctx, staging)
	if err != nil {
		r.discard(ctx, staging)
		return nil, storageWriteFailed(noIndex, staging, err)
	}
	if info.Size != expected {
		r.discard(ctx, staging)
		helper.Errorf("reassembly integrity check failed: upload_id=%s expected=%d actual=%d", uploadID, expected, info.Size)
		return nil, integrityError(staging, fmt.Sprintf("expected %d bytes, staged %d", expected, info.Size))
	}

	if err := r.store.Publish(ctx, staging, finalPath); err != nil {
		r.discard(ctx, staging)
		return nil, storageWriteFailed(noIndex, finalPath, err)
	}
	r.discard(ctx, staging)

	return r.ref(ctx, finalPath, contentType, expected, total)
}

// racerFallback 处理另一并发运行已发布并清理分片的情况。
func (r *Reassembler) racerFallback(ctx context.Context, finalPath, contentType string, expected int64, total, index int, chunkPath string, cause error) (*FinalObjectRef, error) {
	info, err := r.store.Stat(ctx, finalPath)
	if err != nil || info.Size != expected {
		return nil, chunkFetchFailed(index, chunkPath, cause)
	}
	r.log.WithContext(ctx).Infof("chunk %d vanished, reusing object published by concurrent reassembly: path=%s", index, finalPath)
	return r.ref(ctx, finalPath, contentType, expected, total)
}

func (r *Reassembler) ref(ctx context.Context, finalPath, contentType string, size int64, total int) (*FinalObjectRef, error) {
	url, err := r.store.PublicURL(ctx, finalPath)
	if err != nil {
		return nil, storageWriteFailed(noIndex, finalPath, fmt.Errorf("public url: %w", err))
	}
	return &FinalObjectRef{
		Path:        finalPath,
		PublicURL:   url,
		Size:        size,
		ContentType: contentType,
		Chunks:      total,
	}, nil
}

// discard 删除 staging 对象，失败只记录日志，遗留对象由 sweeper 回收。
func (r *Reassembler) discard(ctx context.Context, staging string) {
	if err := r.store.Delete(context.WithoutCancel(ctx), staging); err != nil {
		r.log.WithContext(ctx).Warnf("delete staging object failed: path=%s err=%v", staging, err)
	}
}

// copyChunk 用固定缓冲区拷贝，分别返回读错误与写错误。
func copyChunk(dst io.Writer, src io.Reader, buf []byte) (written int64, readErr, writeErr error) {
	for {
		nr, er := src.Read(buf)
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			written += int64(nw)
			if ew != nil {
				return written, nil, ew
			}
			if nw != nr {
				return written, nil, io.ErrShortWrite
			}
		}
		if er != nil {
			if errors.Is(er, io.EOF) {
				return written, nil, nil
			}
			return written, er, nil
		}
	}
}
