package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/transport"
)

// HandlerType 表示 Handler 的语义类别，用于选择超时策略。
type HandlerType int

const (
	// HandlerTypeDefault 表示未显式区分的 Handler。
	HandlerTypeDefault HandlerType = iota
	// HandlerTypeCommand 表示分片上传、重组等写操作。
	HandlerTypeCommand
	// HandlerTypeQuery 表示进度查询。
	HandlerTypeQuery
)

// HandlerTimeouts 聚合不同类型 Handler 的超时策略。
type HandlerTimeouts struct {
	Default time.Duration
	Command time.Duration
	Query   time.Duration
}

const (
	fallbackDefaultTimeout = 30 * time.Second
	fallbackQueryTimeout   = 5 * time.Second
	headerRequestID        = "x-request-id"
	headerClientInfo       = "x-client-info"
)

// BaseHandler 提供公共的超时与请求头解析能力，供具体 Handler 内嵌复用。
type BaseHandler struct {
	timeouts HandlerTimeouts
}

// NewBaseHandler 构造基础 Handler，并为缺省值填充回退策略。
func NewBaseHandler(timeouts HandlerTimeouts) *BaseHandler {
	if timeouts.Default <= 0 {
		if timeouts.Command > 0 {
			timeouts.Default = timeouts.Command
		} else {
			timeouts.Default = fallbackDefaultTimeout
		}
	}
	if timeouts.Command <= 0 {
		timeouts.Command = timeouts.Default
	}
	if timeouts.Query <= 0 {
		timeouts.Query = fallbackQueryTimeout
	}
	return &BaseHandler{timeouts: timeouts}
}

// WithTimeout 根据 Handler 类型包装上下文，返回绑定超时的新 Context 与取消函数。
func (h *BaseHandler) WithTimeout(ctx context.Context, kind HandlerType) (context.Context, context.CancelFunc) {
	if h == nil {
		return context.WithTimeout(ctx, fallbackDefaultTimeout)
	}
	var timeout time.Duration
	switch kind {
	case HandlerTypeCommand:
		timeout = h.timeouts.Command
	case HandlerTypeQuery:
		timeout = h.timeouts.Query
	default:
		timeout = h.timeouts.Default
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// HandlerMetadata 描述从请求头解析出的追踪信息。
type HandlerMetadata struct {
	RequestID  string
	ClientInfo string
}

// IsZero 判断 Metadata 是否为空。
func (m HandlerMetadata) IsZero() bool {
	return m.RequestID == "" && m.ClientInfo == ""
}

// ExtractMetadata 从 kratos transport 中读取请求头。
func (h *BaseHandler) ExtractMetadata(ctx context.Context) HandlerMetadata {
	tr, ok := transport.FromServerContext(ctx)
	if !ok {
		return HandlerMetadata{}
	}
	header := tr.RequestHeader()
	return HandlerMetadata{
		RequestID:  strings.TrimSpace(header.Get(headerRequestID)),
		ClientInfo: strings.TrimSpace(header.Get(headerClientInfo)),
	}
}

type handlerMetadataKey struct{}

// InjectHandlerMetadata 将解析结果注入到 Context，供后续层访问。
func InjectHandlerMetadata(ctx context.Context, meta HandlerMetadata) context.Context {
	if meta.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, handlerMetadataKey{}, meta)
}

// HandlerMetadataFromContext 读取上游注入的 HandlerMetadata。
func HandlerMetadataFromContext(ctx context.Context) (HandlerMetadata, bool) {
	if ctx == nil {
		return HandlerMetadata{}, false
	}
	meta, ok := ctx.Value(handlerMetadataKey{}).(HandlerMetadata)
	return meta, ok
}
