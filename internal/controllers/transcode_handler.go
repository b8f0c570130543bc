package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/controllers/dto"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

const (
	PathVideoProcessing       = "/functions/v1/video-processing"
	PathTranscodeCallback     = "/functions/v1/video-processing/callback"
	OperationVideoProcessing  = "/ingest.VideoProcessing/Start"
	OperationTranscodeResult  = "/ingest.VideoProcessing/Callback"
	failStartVideoProcessing  = "Failed to start video processing"
	failApplyTranscodeResult  = "Failed to apply transcode result"
	missingVideoProcessingMsg = "Missing videoId or originalFileUrl"
)

// TranscodeHandler 提供手动触发转码与转码回调两个入口。
type TranscodeHandler struct {
	*BaseHandler
	dispatcher *services.Dispatcher
	status     *services.StatusService
	log        *log.Helper
}

// NewTranscodeHandler 构造 TranscodeHandler。
func NewTranscodeHandler(base *BaseHandler, dispatcher *services.Dispatcher, status *services.StatusService, logger log.Logger) *TranscodeHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	return &TranscodeHandler{BaseHandler: base, dispatcher: dispatcher, status: status, log: log.NewHelper(logger)}
}

// Register 挂载路由。
func (h *TranscodeHandler) Register(r *khttp.Router) {
	r.POST(PathVideoProcessing, h.StartProcessing)
	r.POST(PathTranscodeCallback, h.Callback)
}

// StartProcessing 为已存在的原始文件提交转码任务，不等待转码完成。
func (h *TranscodeHandler) StartProcessing(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationVideoProcessing)
	var body dto.VideoProcessingRequest
	if err := ctx.Bind(&body); err != nil {
		return kerrors.BadRequest(ReasonInvalidRequest, "Invalid request").WithCause(err)
	}
	rawID := strings.TrimSpace(body.VideoID)
	fileURL := strings.TrimSpace(body.OriginalFileURL)
	if rawID == "" || fileURL == "" {
		return kerrors.BadRequest(ReasonInvalidRequest, missingVideoProcessingMsg)
	}
	videoID, err := uuid.Parse(rawID)
	if err != nil {
		return kerrors.BadRequest(ReasonInvalidRequest, "Invalid request").WithCause(fmt.Errorf("videoId %q is not a valid uuid", rawID))
	}
	ref := &services.FinalObjectRef{PublicURL: fileURL, Size: body.FileSizeBytes}

	handler := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		timeoutCtx, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		return h.dispatcher.Dispatch(timeoutCtx, videoID, ref)
	})
	out, err := handler(ctx, &body)
	if err != nil {
		return toKratosError(err, failStartVideoProcessing)
	}
	ticket := out.(*services.DispatchTicket)
	h.log.WithContext(ctx).Infof("transcode requested: video_id=%s job_id=%s", videoID, ticket.JobID)
	return ctx.JSON(http.StatusOK, dto.VideoProcessingResponse{Success: true, VideoID: videoID.String(), JobID: ticket.JobID})
}

// Callback 接收转码服务以 HTTP 推送的结果，未知或过期的结果同样返回 200。
func (h *TranscodeHandler) Callback(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationTranscodeResult)
	var body services.TranscodeResult
	if err := ctx.Bind(&body); err != nil {
		return kerrors.BadRequest(ReasonInvalidRequest, "Invalid request").WithCause(err)
	}
	body.Status = strings.ToLower(strings.TrimSpace(body.Status))

	handler := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		timeoutCtx, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		return h.status.ApplyResult(timeoutCtx, body)
	})
	out, err := handler(ctx, &body)
	if err != nil {
		return toKratosError(err, failApplyTranscodeResult)
	}
	outcome := out.(services.ApplyOutcome)
	return ctx.JSON(http.StatusOK, dto.TranscodeCallbackResponse{Success: true, Outcome: string(outcome)})
}
