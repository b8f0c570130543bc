package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/go-kratos/kratos/v2/log"
)

const (
	// s3 单次 CopyObject 的上限。
	s3MaxSingleCopy = 5 << 30
	s3CopyPartSize  = 512 << 20
	s3DeleteBatch   = 1000
)

// S3API 是 S3Store 使用到的客户端方法子集，*s3.Client 满足该接口。
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, optFns ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store 基于 Amazon S3（或兼容实现）的对象存储。
type S3Store struct {
	api      S3API
	uploader *manager.Uploader
	presign  *s3.PresignClient
	bucket   string
	baseURL  string
	ttl      time.Duration
	log      *log.Helper
}

// S3Option 定义可选配置。
type S3Option func(*S3Store)

// WithS3PublicBaseURL 覆盖公开访问前缀。
func WithS3PublicBaseURL(baseURL string) S3Option {
	return func(s *S3Store) {
		if baseURL != "" {
			s.baseURL = baseURL
		}
	}
}

// WithS3Presign 让 PublicURL 返回预签名地址。
func WithS3Presign(client *s3.Client, ttl time.Duration) S3Option {
	return func(s *S3Store) {
		if client != nil {
			s.presign = s3.NewPresignClient(client)
			s.ttl = ttl
		}
	}
}

// WithS3PartSize 设置流式上传的分段大小。
func WithS3PartSize(size int64) S3Option {
	return func(s *S3Store) {
		if size >= manager.MinUploadPartSize {
			s.uploader.PartSize = size
		}
	}
}

// NewS3Store 创建 S3Store。
func NewS3Store(api S3API, bucket string, logger log.Logger, opts ...S3Option) (*S3Store, error) {
	if api == nil {
		return nil, errors.New("objectstore: s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("objectstore: s3 bucket is required")
	}
	s := &S3Store{
		api:      api,
		uploader: manager.NewUploader(api),
		bucket:   bucket,
		baseURL:  fmt.Sprintf("https://%s.s3.amazonaws.com", bucket),
		log:      log.NewHelper(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put 实现 Store。
func (s *S3Store) Put(ctx context.Context, path string, r io.Reader, size int64, opts PutOptions) error {
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(path),
		Body:     r,
		Metadata: cloneMetadata(opts.Metadata),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3 put %s: %w", path, err)
	}
	return nil
}

// Open 实现 Store。
func (s *S3Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if isS3NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", path, err)
	}
	return out.Body, nil
}

// Create 实现 Store。写入通过 io.Pipe 交给 manager.Uploader 分段上传，内存占用与分段大小相关。
func (s *S3Store) Create(ctx context.Context, path string, opts PutOptions) (Writer, error) {
	uctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(path),
		Body:     pr,
		Metadata: cloneMetadata(opts.Metadata),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	w := &s3Writer{pw: pw, cancel: cancel, done: make(chan error, 1)}
	go func() {
		_, err := s.uploader.Upload(uctx, in)
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// Publish 实现 Store。CopyObject 在服务端原子完成；超过 5GiB 时改用分段复制，CompleteMultipartUpload 之前 dst 不可见。
func (s *S3Store) Publish(ctx context.Context, src, dst string) error {
	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(src),
	})
	if isS3NotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("s3 head %s: %w", src, err)
	}
	size := aws.ToInt64(head.ContentLength)
	if size <= s3MaxSingleCopy {
		_, err = s.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(dst),
			CopySource: aws.String(s.copySource(src)),
		})
		if err != nil {
			return fmt.Errorf("s3 copy %s -> %s: %w", src, dst, err)
		}
		return nil
	}
	return s.multipartCopy(ctx, src, dst, size, head.ContentType, head.Metadata)
}

func (s *S3Store) multipartCopy(ctx context.Context, src, dst string, size int64, contentType *string, metadata map[string]string) (err error) {
	created, err := s.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(dst),
		ContentType: contentType,
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("s3 create multipart %s: %w", dst, err)
	}
	uploadID := created.UploadId
	defer func() {
		if err == nil {
			return
		}
		s.log.WithContext(ctx).Warnf("aborting multipart copy: dst=%s err=%v", dst, err)
		if _, abortErr := s.api.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(dst),
			UploadId: uploadID,
		}); abortErr != nil {
			s.log.WithContext(ctx).Errorf("abort multipart copy failed: dst=%s err=%v", dst, abortErr)
		}
	}()

	var parts []types.CompletedPart
	var part int32 = 1
	for offset := int64(0); offset < size; offset += s3CopyPartSize {
		end := min(offset+s3CopyPartSize, size) - 1
		out, copyErr := s.api.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(dst),
			UploadId:        uploadID,
			PartNumber:      aws.Int32(part),
			CopySource:      aws.String(s.copySource(src)),
			CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", offset, end)),
		})
		if copyErr != nil {
			return fmt.Errorf("s3 upload part copy %d: %w", part, copyErr)
		}
		parts = append(parts, types.CompletedPart{ETag: out.CopyPartResult.ETag, PartNumber: aws.Int32(part)})
		part++
	}
	_, err = s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(dst),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("s3 complete multipart %s: %w", dst, err)
	}
	return nil
}

// Stat 实现 Store。
func (s *S3Store) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if isS3NotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3 head %s: %w", path, err)
	}
	return &ObjectInfo{
		Path:        path,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    cloneMetadata(out.Metadata),
		Updated:     aws.ToTime(out.LastModified),
	}, nil
}

// List 实现 Store。ListObjectsV2 按 key 的 UTF-8 字节序返回。
func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	var out []ObjectInfo
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Path:    aws.ToString(obj.Key),
				Size:    aws.ToInt64(obj.Size),
				Updated: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Delete 实现 Store，按 1000 个一批调用 DeleteObjects。
func (s *S3Store) Delete(ctx context.Context, paths ...string) error {
	var errs []error
	for start := 0; start < len(paths); start += s3DeleteBatch {
		batch := paths[start:min(start+s3DeleteBatch, len(paths))]
		ids := make([]types.ObjectIdentifier, 0, len(batch))
		for _, p := range batch {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(p)})
		}
		out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("s3 delete batch: %w", err))
			continue
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("s3 delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	return errors.Join(errs...)
}

// PublicURL 实现 Store。
func (s *S3Store) PublicURL(ctx context.Context, path string) (string, error) {
	if s.presign == nil {
		return joinURL(s.baseURL, path), nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		s.log.WithContext(ctx).Errorf("presign get failed: key=%s err=%v", path, err)
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	return req.URL, nil
}

func (s *S3Store) copySource(key string) string {
	return (&url.URL{Path: s.bucket + "/" + key}).EscapedPath()
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

type s3Writer struct {
	pw       *io.PipeWriter
	cancel   context.CancelFunc
	done     chan error
	finished bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.finished {
		return 0, ErrAborted
	}
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	if w.finished {
		return ErrAborted
	}
	w.finished = true
	_ = w.pw.Close()
	err := <-w.done
	w.cancel()
	return err
}

func (w *s3Writer) Abort() error {
	if w.finished {
		return nil
	}
	w.finished = true
	w.cancel()
	_ = w.pw.CloseWithError(ErrAborted)
	<-w.done
	return nil
}
