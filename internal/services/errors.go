package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 是流水线错误的封闭分类。
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidRequest
	KindStorageWriteFailed
	KindIncompleteUpload
	KindChunkFetchFailed
	KindReassemblyIntegrity
	KindDispatchFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindStorageWriteFailed:
		return "StorageWriteFailed"
	case KindIncompleteUpload:
		return "IncompleteUpload"
	case KindChunkFetchFailed:
		return "ChunkFetchFailed"
	case KindReassemblyIntegrity:
		return "ReassemblyIntegrityError"
	case KindDispatchFailed:
		return "DispatchFailed"
	default:
		return "Unknown"
	}
}

// 用于 errors.Is 按类别匹配。
var (
	ErrInvalidRequest      = &PipelineError{Kind: KindInvalidRequest}
	ErrStorageWriteFailed  = &PipelineError{Kind: KindStorageWriteFailed}
	ErrIncompleteUpload    = &PipelineError{Kind: KindIncompleteUpload}
	ErrChunkFetchFailed    = &PipelineError{Kind: KindChunkFetchFailed}
	ErrReassemblyIntegrity = &PipelineError{Kind: KindReassemblyIntegrity}
	ErrDispatchFailed      = &PipelineError{Kind: KindDispatchFailed}
)

// noIndex 表示错误与具体分片无关。
const noIndex = -1

// PipelineError 携带错误类别以及定位信息。
type PipelineError struct {
	Kind ErrorKind
	// Index 为相关分片序号，-1 表示不涉及单个分片。
	Index int
	// Missing 仅在 KindIncompleteUpload 时有值。
	Missing []int
	Path    string
	Detail  string
	Err     error
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Kind != KindIncompleteUpload && e.Index >= 0 && e.Err != nil {
		fmt.Fprintf(&b, " (chunk %d)", e.Index)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " missing=%v", truncateIndices(e.Missing, 20))
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%s", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is 只比较类别，使 errors.Is(err, ErrIncompleteUpload) 成立。
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf 返回错误链中第一个 PipelineError 的类别。
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

func invalidRequest(format string, args ...any) error {
	return &PipelineError{Kind: KindInvalidRequest, Index: noIndex, Detail: fmt.Sprintf(format, args...)}
}

func storageWriteFailed(index int, path string, err error) error {
	return &PipelineError{Kind: KindStorageWriteFailed, Index: index, Path: path, Err: err}
}

func incompleteUpload(missing []int) error {
	return &PipelineError{Kind: KindIncompleteUpload, Index: noIndex, Missing: missing}
}

func chunkFetchFailed(index int, path string, err error) error {
	return &PipelineError{Kind: KindChunkFetchFailed, Index: index, Path: path, Err: err}
}

func integrityError(path, detail string) error {
	return &PipelineError{Kind: KindReassemblyIntegrity, Index: noIndex, Path: path, Detail: detail}
}

func dispatchFailed(detail string, err error) error {
	return &PipelineError{Kind: KindDispatchFailed, Index: noIndex, Detail: detail, Err: err}
}

func truncateIndices(indices []int, limit int) string {
	if len(indices) <= limit {
		return fmt.Sprint(indices)
	}
	return fmt.Sprintf("%v...(+%d)", indices[:limit], len(indices)-limit)
}
