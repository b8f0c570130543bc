// Package client 提供分片上传客户端：切分文件、并发发送分片并在单个分片失败时重试。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	chunkedUploadPath = "/functions/v1/chunked-upload"

	DefaultChunkSize    = 5 << 20
	DefaultConcurrency  = 4
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = 500 * time.Millisecond
	DefaultTimeout      = 2 * time.Minute
)

// Config 描述上传客户端参数。
type Config struct {
	Endpoint     string
	ChunkSize    int64
	Concurrency  int
	MaxAttempts  int
	RetryBackoff time.Duration
	Timeout      time.Duration
	// Headers 附加到每个请求上，例如 authorization / apikey。
	Headers map[string]string
}

// Progress 在每个分片成功后发送一次。
type Progress struct {
	ChunkIndex  int
	TotalChunks int
	Completed   int
	BytesSent   int64
	TotalBytes  int64
}

// Options 控制单次上传。
type Options struct {
	UploadID string
	VideoID  string
	// Progress 非 nil 时接收进度事件，调用方需要持续消费。
	Progress chan<- Progress
}

// Result 是上传完成后服务端返回的最终对象信息。
type Result struct {
	UploadID  string `json:"-"`
	PublicURL string `json:"publicUrl"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	VideoID   string `json:"videoId,omitempty"`
	JobID     string `json:"jobId,omitempty"`
}

type errorBody struct {
	Error         string `json:"error"`
	Details       string `json:"details"`
	MissingChunks string `json:"missingChunks"`
}

// Uploader 通过 HTTP 分片上传文件。
type Uploader struct {
	client *khttp.Client
	base   *url.URL
	cfg    Config
	log    *log.Helper
}

// NewUploader 构造 Uploader，返回的 cleanup 关闭底层 HTTP 客户端。
func NewUploader(ctx context.Context, cfg Config, logger log.Logger) (*Uploader, func(), error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, nil, errors.New("uploader: endpoint is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil {
		return nil, nil, fmt.Errorf("uploader: parse endpoint: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	hc, err := khttp.NewClient(ctx,
		khttp.WithEndpoint(base.Host),
		khttp.WithTimeout(cfg.Timeout),
		khttp.WithErrorDecoder(decodeError),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("uploader: create http client: %w", err)
	}
	cleanup := func() { _ = hc.Close() }
	return &Uploader{client: hc, base: base, cfg: cfg, log: log.NewHelper(logger)}, cleanup, nil
}

// UploadFile 打开本地文件并上传，fileName 取文件名。
func (u *Uploader) UploadFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return u.Upload(ctx, f, info.Size(), filepath.Base(path), opts)
}

// Upload 将 src 切分为固定大小的分片并发上传。
//
// 分片到达顺序不做假设，完成集合的那个请求返回最终对象；若所有分片都已确认但没有
// 请求带回最终对象，则调用 complete 接口触发重组。
func (u *Uploader) Upload(ctx context.Context, src io.ReaderAt, size int64, fileName string, opts Options) (*Result, error) {
	if size <= 0 {
		return nil, errors.New("uploader: source is empty")
	}
	if strings.TrimSpace(fileName) == "" {
		return nil, errors.New("uploader: fileName is required")
	}
	uploadID := opts.UploadID
	if uploadID == "" {
		uploadID = uuid.NewString()
	}
	total := int((size + u.cfg.ChunkSize - 1) / u.cfg.ChunkSize)
	helper := u.log.WithContext(ctx)
	helper.Infof("upload started: upload_id=%s file=%s bytes=%d chunks=%d", uploadID, fileName, size, total)

	var (
		final     atomic.Pointer[Result]
		completed atomic.Int64
		sent      atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for i := 0; i < total; i++ {
		index := i
		g.Go(func() error {
			offset := int64(index) * u.cfg.ChunkSize
			n := min(u.cfg.ChunkSize, size-offset)
			data := make([]byte, n)
			if _, err := src.ReadAt(data, offset); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read chunk %d: %w", index, err)
			}
			res, err := u.sendWithRetry(gctx, uploadID, fileName, opts.VideoID, index, total, data)
			if err != nil {
				return err
			}
			if res != nil {
				final.Store(res)
			}
			done := completed.Add(1)
			bytesSent := sent.Add(n)
			if opts.Progress != nil {
				select {
				case opts.Progress <- Progress{ChunkIndex: index, TotalChunks: total, Completed: int(done), BytesSent: bytesSent, TotalBytes: size}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		helper.Errorf("upload failed: upload_id=%s err=%v", uploadID, err)
		return nil, err
	}

	res := final.Load()
	if res == nil {
		var err error
		res, err = u.complete(ctx, uploadID, fileName, opts.VideoID, total)
		if err != nil {
			return nil, err
		}
	}
	res.UploadID = uploadID
	helper.Infof("upload finished: upload_id=%s path=%s bytes=%d", uploadID, res.Path, res.Size)
	return res, nil
}

func (u *Uploader) sendWithRetry(ctx context.Context, uploadID, fileName, videoID string, index, total int, data []byte) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		res, err := u.sendChunk(ctx, uploadID, fileName, videoID, index, total, data)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(err) || attempt == u.cfg.MaxAttempts {
			break
		}
		u.log.WithContext(ctx).Warnf("chunk upload failed, retrying: upload_id=%s chunk=%d attempt=%d err=%v", uploadID, index, attempt, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(u.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("chunk %d: %w", index, lastErr)
}

func (u *Uploader) sendChunk(ctx context.Context, uploadID, fileName, videoID string, index, total int, data []byte) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := [][2]string{
		{"chunkIndex", strconv.Itoa(index)},
		{"totalChunks", strconv.Itoa(total)},
		{"fileName", fileName},
		{"uploadId", uploadID},
	}
	if videoID != "" {
		fields = append(fields, [2]string{"videoId", videoID})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("chunk", fmt.Sprintf("%s.%d", fileName, index))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url(chunkedUploadPath), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return u.do(req)
}

func (u *Uploader) complete(ctx context.Context, uploadID, fileName, videoID string, total int) (*Result, error) {
	payload, err := json.Marshal(map[string]any{"fileName": fileName, "totalChunks": total, "videoId": videoID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url(chunkedUploadPath+"/"+url.PathEscape(uploadID)+"/complete"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := u.do(req)
	if err != nil {
		return nil, fmt.Errorf("complete upload %s: %w", uploadID, err)
	}
	if res == nil {
		return nil, fmt.Errorf("complete upload %s: server returned no final object", uploadID)
	}
	return res, nil
}

// do 发送请求并解析响应，响应中带 publicUrl 时返回最终对象，否则返回 nil。
func (u *Uploader) do(req *http.Request) (*Result, error) {
	for k, v := range u.cfg.Headers {
		req.Header.Set(k, v)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if res.PublicURL == "" {
		return nil, nil
	}
	return &res, nil
}

func (u *Uploader) url(path string) string {
	return u.base.String() + path
}

// decodeError 将 {error, details} 响应转换为 kratos 错误，状态码保留在 Code 中。
func decodeError(_ context.Context, res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return nil
	}
	defer res.Body.Close()
	var body errorBody
	data, _ := io.ReadAll(res.Body)
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	e := kerrors.New(res.StatusCode, "", body.Error)
	if body.Details != "" {
		e = e.WithCause(errors.New(body.Details))
	}
	if body.MissingChunks != "" {
		e = e.WithMetadata(map[string]string{"missing": body.MissingChunks})
	}
	return e
}

// retryable 传输错误与 5xx 可重试，4xx 不可重试。
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *kerrors.Error
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return true
}
