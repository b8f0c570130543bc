package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const localTempPrefix = ".tmp-"

// LocalStore 把对象保存为 root 下的普通文件，适用于本地开发。
// 写入先落到同目录临时文件，再通过 os.Rename 原子替换；不保存自定义元数据。
type LocalStore struct {
	root    string
	baseURL string
}

// NewLocalStore 创建 LocalStore，root 不存在时自动创建。
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("objectstore: local root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve local root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create local root: %w", err)
	}
	if baseURL == "" {
		baseURL = "file://" + filepath.ToSlash(abs)
	}
	return &LocalStore{root: abs, baseURL: baseURL}, nil
}

func (s *LocalStore) resolve(path string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("objectstore: path %q escapes root", path)
	}
	return full, nil
}

// Put 实现 Store。
func (s *LocalStore) Put(ctx context.Context, path string, r io.Reader, _ int64, opts PutOptions) error {
	w, err := s.Create(ctx, path, opts)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Abort()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Close()
}

// Open 实现 Store。
func (s *LocalStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Create 实现 Store。
func (s *LocalStore) Create(ctx context.Context, path string, _ PutOptions) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, localTempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &localWriter{file: tmp, target: full}, nil
}

// Publish 实现 Store。src 会被保留，dst 通过 rename 一次性出现。
func (s *LocalStore) Publish(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := s.Open(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()
	w, err := s.Create(ctx, dst, PutOptions{})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		_ = w.Abort()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	return w.Close()
}

// Stat 实现 Store。
func (s *LocalStore) Stat(ctx context.Context, path string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, ErrNotFound
	}
	return &ObjectInfo{Path: path, Size: fi.Size(), Updated: fi.ModTime()}, nil
}

// List 实现 Store，结果按路径排序，忽略未提交的临时文件。前缀目录不存在时返回空列表。
func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 只遍历前缀所在目录。
	start, err := s.resolve(path.Dir(prefix))
	if err != nil {
		return nil, err
	}
	var out []ObjectInfo
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == start && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), localTempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		out = append(out, ObjectInfo{Path: key, Size: fi.Size(), Updated: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Delete 实现 Store。
func (s *LocalStore) Delete(ctx context.Context, paths ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		full, err := s.resolve(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublicURL 实现 Store。
func (s *LocalStore) PublicURL(_ context.Context, path string) (string, error) {
	return joinURL(s.baseURL, path), nil
}

type localWriter struct {
	file   *os.File
	target string
	done   bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, ErrAborted
	}
	return w.file.Write(p)
}

func (w *localWriter) Close() error {
	if w.done {
		return ErrAborted
	}
	w.done = true
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.file.Name())
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.file.Name())
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(w.file.Name(), w.target); err != nil {
		_ = os.Remove(w.file.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	return os.Remove(w.file.Name())
}
