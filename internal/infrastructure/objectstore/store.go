// Package objectstore 封装分片上传流水线使用的对象存储后端（GCS、S3、本地磁盘、内存）。
//
// 所有后端遵循相同的语义：
//   - Put 覆盖写入，同一路径重复写入只保留最后一次的内容；
//   - Create 返回流式 Writer，只有 Close 成功后对象才可见，Abort 丢弃已写内容；
//   - Publish 以原子方式让 dst 拥有 src 的完整内容，读者永远看不到半截对象；
//   - Delete 对不存在的对象视为成功。
package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("objectstore: object not found")

// ErrAborted 表示 Writer 已被 Abort，后续写入无效。
var ErrAborted = errors.New("objectstore: write aborted")

// ObjectInfo 描述一个对象的元信息。
type ObjectInfo struct {
	Path        string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Updated     time.Time
}

// PutOptions 为写入对象时的可选属性。
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Writer 是流式写入句柄。
type Writer interface {
	io.Writer
	// Close 提交对象，返回后对象对读者可见。
	Close() error
	// Abort 丢弃已写入内容，对象不会出现。
	Abort() error
}

// Store 是流水线依赖的对象存储能力集合。
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, opts PutOptions) error
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Create(ctx context.Context, path string, opts PutOptions) (Writer, error)
	Publish(ctx context.Context, src, dst string) error
	Stat(ctx context.Context, path string) (*ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, paths ...string) error
	PublicURL(ctx context.Context, path string) (string, error)
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
