package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/controllers/dto"
	"github.com/bionicotaku/lingo-services-ingest/internal/models/vo"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// 路由与 operation 名称。
const (
	PathChunkedUpload   = "/functions/v1/chunked-upload"
	PathUploadStatus    = "/functions/v1/chunked-upload/{uploadId}"
	PathUploadComplete  = "/functions/v1/chunked-upload/{uploadId}/complete"
	OperationUpload     = "/ingest.ChunkedUpload/Upload"
	OperationStatus     = "/ingest.ChunkedUpload/Status"
	OperationComplete   = "/ingest.ChunkedUpload/Complete"
	multipartMemoryFrac = 4
	multipartOverhead   = 1 << 20
	failProcessChunk    = "Failed to process chunk"
	failCompleteUpload  = "Failed to complete upload"
	failUploadStatus    = "Failed to read upload status"
)

// UploadHandler 处理分片上传相关的 HTTP 请求。
type UploadHandler struct {
	*BaseHandler
	pipeline      *services.UploadPipeline
	log           *log.Helper
	maxChunkBytes int64
}

// NewUploadHandler 构造 UploadHandler。maxChunkBytes 限制单个分片的大小。
func NewUploadHandler(base *BaseHandler, pipeline *services.UploadPipeline, maxChunkBytes int64, logger log.Logger) *UploadHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	return &UploadHandler{BaseHandler: base, pipeline: pipeline, log: log.NewHelper(logger), maxChunkBytes: maxChunkBytes}
}

// Register 挂载路由。
func (h *UploadHandler) Register(r *khttp.Router) {
	r.POST(PathChunkedUpload, h.Upload)
	r.GET(PathUploadStatus, h.Status)
	r.POST(PathUploadComplete, h.Complete)
}

// Upload 接收一个 multipart 分片，完成上传时返回最终对象地址。
func (h *UploadHandler) Upload(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationUpload)
	req := ctx.Request()
	if h.maxChunkBytes > 0 {
		req.Body = http.MaxBytesReader(ctx.Response(), req.Body, h.maxChunkBytes+multipartOverhead)
	}
	memLimit := h.maxChunkBytes / multipartMemoryFrac
	if memLimit <= 0 {
		memLimit = 32 << 20
	}
	if err := req.ParseMultipartForm(memLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return kerrors.New(http.StatusRequestEntityTooLarge, ReasonChunkTooLarge, "Chunk too large").
				WithCause(fmt.Errorf("limit %d bytes", h.maxChunkBytes))
		}
		return kerrors.BadRequest(ReasonInvalidRequest, "Invalid multipart form").WithCause(err)
	}
	defer func() {
		if req.MultipartForm != nil {
			_ = req.MultipartForm.RemoveAll()
		}
	}()

	form, missing, err := dto.ParseChunkForm(req)
	if err != nil {
		return kerrors.BadRequest(ReasonInvalidRequest, "Invalid request").WithCause(err)
	}
	file, header, fileErr := req.FormFile(dto.FieldChunk)
	if fileErr != nil {
		missing = append([]string{dto.FieldChunk}, missing...)
	}
	if len(missing) > 0 {
		return kerrors.BadRequest(ReasonInvalidRequest, "Missing required fields").
			WithCause(fmt.Errorf("missing: %s", strings.Join(missing, ", ")))
	}
	defer file.Close()
	if h.maxChunkBytes > 0 && header.Size > h.maxChunkBytes {
		return kerrors.New(http.StatusRequestEntityTooLarge, ReasonChunkTooLarge, "Chunk too large").
			WithCause(fmt.Errorf("chunk %d is %d bytes, limit %d", form.ChunkIndex, header.Size, h.maxChunkBytes))
	}
	form.Size = header.Size

	in := services.ChunkInput{
		UploadID: form.UploadID,
		FileName: form.FileName,
		Index:    form.ChunkIndex,
		Total:    form.TotalChunks,
		Size:     header.Size,
		Data:     file,
		VideoID:  form.VideoID,
	}
	handler := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		timeoutCtx, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		timeoutCtx = InjectHandlerMetadata(timeoutCtx, h.ExtractMetadata(c))
		return h.pipeline.HandleChunk(timeoutCtx, in)
	})
	out, err := handler(ctx, form)
	if err != nil {
		return toKratosError(err, failProcessChunk)
	}
	res := out.(*services.ChunkResult)
	if res.Final != nil {
		h.log.WithContext(ctx).Infof("upload completed: upload_id=%s path=%s bytes=%d", form.UploadID, res.Final.Path, res.Final.Size)
	}
	return ctx.JSON(http.StatusOK, chunkResponse(form, res))
}

// Status 返回上传进度，totalChunks 通过查询参数传入。
func (h *UploadHandler) Status(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationStatus)
	uploadID := ctx.Vars().Get("uploadId")
	total, err := strconv.Atoi(strings.TrimSpace(ctx.Query().Get(dto.FieldTotalChunks)))
	if err != nil {
		return kerrors.BadRequest(ReasonInvalidRequest, "Invalid request").WithCause(fmt.Errorf("totalChunks query parameter is required"))
	}
	handler := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		timeoutCtx, cancel := h.WithTimeout(c, HandlerTypeQuery)
		defer cancel()
		return h.pipeline.Status(timeoutCtx, uploadID, total)
	})
	out, err := handler(ctx, uploadID)
	if err != nil {
		return toKratosError(err, failUploadStatus)
	}
	sess := out.(*vo.UploadSession)
	return ctx.JSON(http.StatusOK, dto.UploadStatusResponse{UploadSession: sess, Complete: sess.Complete()})
}

// Complete 在全部分片已上传时触发重组，分片不全返回 409。
func (h *UploadHandler) Complete(ctx khttp.Context) error {
	khttp.SetOperation(ctx, OperationComplete)
	uploadID := ctx.Vars().Get("uploadId")
	var body dto.CompleteUploadRequest
	if err := ctx.Bind(&body); err != nil {
		return kerrors.BadRequest(ReasonInvalidRequest, "Invalid request").WithCause(err)
	}
	var videoID uuid.UUID
	if raw := strings.TrimSpace(body.VideoID); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return kerrors.BadRequest(ReasonInvalidRequest, "Invalid request").WithCause(fmt.Errorf("videoId %q is not a valid uuid", raw))
		}
		videoID = id
	}
	handler := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		timeoutCtx, cancel := h.WithTimeout(c, HandlerTypeCommand)
		defer cancel()
		return h.pipeline.Complete(timeoutCtx, uploadID, strings.TrimSpace(body.FileName), body.TotalChunks, videoID)
	})
	out, err := handler(ctx, &body)
	if err != nil {
		return toKratosError(err, failCompleteUpload)
	}
	res := out.(*services.ChunkResult)
	h.log.WithContext(ctx).Infof("upload completed by admin request: upload_id=%s path=%s", uploadID, res.Final.Path)
	return ctx.JSON(http.StatusOK, chunkResponse(dto.ChunkForm{}, res))
}

func chunkResponse(form dto.ChunkForm, res *services.ChunkResult) dto.ChunkUploadResponse {
	if res == nil || res.Final == nil {
		idx := form.ChunkIndex
		return dto.ChunkUploadResponse{Success: true, ChunkIndex: &idx}
	}
	resp := dto.ChunkUploadResponse{
		Success:   true,
		PublicURL: res.Final.PublicURL,
		Path:      res.Final.Path,
		Size:      res.Final.Size,
	}
	if res.Dispatch != nil {
		resp.VideoID = res.Dispatch.VideoID.String()
		resp.JobID = res.Dispatch.JobID
	}
	return resp
}
