package transcoding

import (
	"context"
	"errors"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// ResultApplier 抽象 StatusService，便于测试。
type ResultApplier interface {
	ApplyResult(ctx context.Context, res services.TranscodeResult) (services.ApplyOutcome, error)
}

// Handler 解码并应用一条转码结果。返回 nil 表示消息可以确认。
type Handler struct {
	decoder *resultDecoder
	status  ResultApplier
	log     *log.Helper
}

// NewHandler 构造 Handler。
func NewHandler(status ResultApplier, logger log.Logger) *Handler {
	return &Handler{decoder: newResultDecoder(), status: status, log: log.NewHelper(logger)}
}

// Handle 处理消息体。毒消息与校验失败被丢弃，存储错误返回以触发重投。
func (h *Handler) Handle(ctx context.Context, data []byte) error {
	res, err := h.decoder.Decode(data)
	if err != nil {
		h.log.WithContext(ctx).Warnf("drop undecodable transcode result: %v", err)
		return nil
	}
	outcome, err := h.status.ApplyResult(ctx, res)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			h.log.WithContext(ctx).Warnf("drop invalid transcode result: video_id=%s err=%v", res.VideoID, err)
			return nil
		}
		h.log.WithContext(ctx).Errorf("apply transcode result failed, will retry: video_id=%s err=%v", res.VideoID, err)
		return err
	}
	h.log.WithContext(ctx).Debugf("transcode result handled: video_id=%s outcome=%s", res.VideoID, outcome)
	return nil
}
