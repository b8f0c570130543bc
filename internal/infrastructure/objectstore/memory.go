package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// FaultHooks 允许测试针对特定路径注入失败。返回非 nil 错误即令对应操作失败。
type FaultHooks struct {
	Put     func(path string) error
	Open    func(path string) error
	Publish func(src, dst string) error
	Delete  func(path string) error
}

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	updated     time.Time
}

// MemoryStore 是进程内对象存储，用于本地开发与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	baseURL string
	now     func() time.Time

	hooks    FaultHooks
	maxWrite int
}

// NewMemoryStore 创建 MemoryStore，baseURL 用于拼接 PublicURL。
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryStore{
		objects: make(map[string]memObject),
		baseURL: baseURL,
		now:     time.Now,
	}
}

// SetHooks 替换故障注入钩子。
func (m *MemoryStore) SetHooks(h FaultHooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

// SetClock 覆盖时间函数。
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

// MaxWriteSize 返回 Create 出来的 Writer 收到的单次 Write 最大字节数。
func (m *MemoryStore) MaxWriteSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxWrite
}

// Bytes 返回对象内容副本，不存在时返回 ErrNotFound。
func (m *MemoryStore) Bytes(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), obj.data...), nil
}

// Put 实现 Store。
func (m *MemoryStore) Put(ctx context.Context, path string, r io.Reader, _ int64, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := m.hookPut(); hook != nil {
		if err := hook(path); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	m.store(path, data, opts)
	return nil
}

// Open 实现 Store。
func (m *MemoryStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	hook := m.hooks.Open
	obj, ok := m.objects[path]
	m.mu.RUnlock()
	if hook != nil {
		if err := hook(path); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Create 实现 Store。
func (m *MemoryStore) Create(ctx context.Context, path string, opts PutOptions) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memWriter{store: m, path: path, opts: opts}, nil
}

// Publish 实现 Store。
func (m *MemoryStore) Publish(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hooks.Publish != nil {
		if err := m.hooks.Publish(src, dst); err != nil {
			return err
		}
	}
	obj, ok := m.objects[src]
	if !ok {
		return ErrNotFound
	}
	obj.updated = m.now()
	m.objects[dst] = obj
	return nil
}

// Stat 实现 Store。
func (m *MemoryStore) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	info := obj.info(path)
	return &info, nil
}

// List 实现 Store，结果按路径排序。
func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for path, obj := range m.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, obj.info(path))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Delete 实现 Store。
func (m *MemoryStore) Delete(ctx context.Context, paths ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var failed []string
	for _, p := range paths {
		if m.hooks.Delete != nil {
			if err := m.hooks.Delete(p); err != nil {
				failed = append(failed, p)
				continue
			}
		}
		delete(m.objects, p)
	}
	if len(failed) > 0 {
		return fmt.Errorf("delete %d objects failed: %s", len(failed), strings.Join(failed, ","))
	}
	return nil
}

// PublicURL 实现 Store。
func (m *MemoryStore) PublicURL(_ context.Context, path string) (string, error) {
	return joinURL(m.baseURL, path), nil
}

func (m *MemoryStore) hookPut() func(string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hooks.Put
}

func (m *MemoryStore) store(path string, data []byte, opts PutOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = memObject{
		data:        data,
		contentType: opts.ContentType,
		metadata:    cloneMetadata(opts.Metadata),
		updated:     m.now(),
	}
}

func (m *MemoryStore) observeWrite(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.maxWrite {
		m.maxWrite = n
	}
}

func (o memObject) info(path string) ObjectInfo {
	return ObjectInfo{
		Path:        path,
		Size:        int64(len(o.data)),
		ContentType: o.contentType,
		Metadata:    cloneMetadata(o.metadata),
		Updated:     o.updated,
	}
}

type memWriter struct {
	store  *MemoryStore
	path   string
	opts   PutOptions
	buf    bytes.Buffer
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrAborted
	}
	w.store.observeWrite(len(p))
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return ErrAborted
	}
	w.closed = true
	w.store.store(w.path, append([]byte(nil), w.buf.Bytes()...), w.opts)
	return nil
}

func (w *memWriter) Abort() error {
	w.closed = true
	w.buf.Reset()
	return nil
}
