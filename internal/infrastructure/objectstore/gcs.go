package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/api/iterator"
)

const gcsPublicHost = "https://storage.googleapis.com"

// ReadURLSigner 为私有 bucket 生成可读的签名 URL。
type ReadURLSigner interface {
	Sign(ctx context.Context, object string) (string, error)
}

// GCSStore 基于 Cloud Storage 的实现。
type GCSStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
	signer  ReadURLSigner
	log     *log.Helper
}

// GCSOption 定义可选配置。
type GCSOption func(*GCSStore)

// WithReadURLSigner 让 PublicURL 返回签名 URL 而非公开地址。
func WithReadURLSigner(signer ReadURLSigner) GCSOption {
	return func(s *GCSStore) {
		s.signer = signer
	}
}

// WithGCSPublicBaseURL 覆盖公开访问前缀（例如 CDN 域名）。
func WithGCSPublicBaseURL(baseURL string) GCSOption {
	return func(s *GCSStore) {
		if baseURL != "" {
			s.baseURL = baseURL
		}
	}
}

// NewGCSStore 创建 GCSStore。client 的生命周期由调用方管理。
func NewGCSStore(client *storage.Client, bucket string, logger log.Logger, opts ...GCSOption) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("objectstore: gcs client is required")
	}
	if bucket == "" {
		return nil, errors.New("objectstore: gcs bucket is required")
	}
	s := &GCSStore{
		client:  client,
		bucket:  bucket,
		baseURL: gcsPublicHost + "/" + bucket,
		log:     log.NewHelper(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *GCSStore) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path)
}

// Put 实现 Store。
func (s *GCSStore) Put(ctx context.Context, path string, r io.Reader, _ int64, opts PutOptions) error {
	w, err := s.Create(ctx, path, opts)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Abort()
		return fmt.Errorf("gcs put %s: %w", path, err)
	}
	return w.Close()
}

// Open 实现 Store。
func (s *GCSStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gcs open %s: %w", path, err)
	}
	return r, nil
}

// Create 实现 Store。取消写入上下文即放弃上传，对象不会出现。
func (s *GCSStore) Create(ctx context.Context, path string, opts PutOptions) (Writer, error) {
	wctx, cancel := context.WithCancel(ctx)
	w := s.object(path).NewWriter(wctx)
	w.ContentType = opts.ContentType
	w.Metadata = cloneMetadata(opts.Metadata)
	return &gcsWriter{w: w, cancel: cancel}, nil
}

// Publish 实现 Store。服务端复制是原子的，并固定在 src 当前的 generation 上。
func (s *GCSStore) Publish(ctx context.Context, src, dst string) error {
	srcHandle := s.object(src)
	attrs, err := srcHandle.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("gcs stat %s: %w", src, err)
	}
	copier := s.object(dst).CopierFrom(srcHandle.Generation(attrs.Generation))
	copier.ContentType = attrs.ContentType
	copier.Metadata = attrs.Metadata
	if _, err := copier.Run(ctx); err != nil {
		return fmt.Errorf("gcs copy %s -> %s: %w", src, dst, err)
	}
	return nil
}

// Stat 实现 Store。
func (s *GCSStore) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	attrs, err := s.object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gcs stat %s: %w", path, err)
	}
	return gcsInfo(attrs), nil
}

// List 实现 Store。GCS 按字典序返回对象。
func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list %s: %w", prefix, err)
		}
		out = append(out, *gcsInfo(attrs))
	}
	return out, nil
}

// Delete 实现 Store，不存在的对象视为已删除。
func (s *GCSStore) Delete(ctx context.Context, paths ...string) error {
	var errs []error
	for _, p := range paths {
		err := s.object(p).Delete(ctx)
		if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
			continue
		}
		errs = append(errs, fmt.Errorf("gcs delete %s: %w", p, err))
	}
	return errors.Join(errs...)
}

// PublicURL 实现 Store。
func (s *GCSStore) PublicURL(ctx context.Context, path string) (string, error) {
	if s.signer == nil {
		return joinURL(s.baseURL, path), nil
	}
	url, err := s.signer.Sign(ctx, path)
	if err != nil {
		s.log.WithContext(ctx).Errorf("sign read url failed: bucket=%s object=%s err=%v", s.bucket, path, err)
		return "", err
	}
	return url, nil
}

func gcsInfo(attrs *storage.ObjectAttrs) *ObjectInfo {
	return &ObjectInfo{
		Path:        attrs.Name,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Metadata:    cloneMetadata(attrs.Metadata),
		Updated:     attrs.Updated,
	}
}

type gcsWriter struct {
	w       *storage.Writer
	cancel  context.CancelFunc
	aborted bool
}

func (g *gcsWriter) Write(p []byte) (int, error) {
	if g.aborted {
		return 0, ErrAborted
	}
	return g.w.Write(p)
}

func (g *gcsWriter) Close() error {
	if g.aborted {
		return ErrAborted
	}
	defer g.cancel()
	return g.w.Close()
}

func (g *gcsWriter) Abort() error {
	if g.aborted {
		return nil
	}
	g.aborted = true
	g.cancel()
	_ = g.w.Close()
	return nil
}
