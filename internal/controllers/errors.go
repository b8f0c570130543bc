package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/encoding"
	"github.com/go-kratos/kratos/v2/encoding/json"

	"github.com/bionicotaku/lingo-services-ingest/internal/controllers/dto"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// 错误原因，出现在 kratos Error.Reason 中。
const (
	ReasonInvalidRequest     = "INVALID_REQUEST"
	ReasonChunkTooLarge      = "CHUNK_TOO_LARGE"
	ReasonIncompleteUpload   = "INCOMPLETE_UPLOAD"
	ReasonStorageWriteFailed = "STORAGE_WRITE_FAILED"
	ReasonChunkFetchFailed   = "CHUNK_FETCH_FAILED"
	ReasonIntegrity          = "REASSEMBLY_INTEGRITY"
	ReasonDispatchFailed     = "DISPATCH_FAILED"
	ReasonInternal           = "INTERNAL"
)

// toKratosError 把流水线错误映射为 kratos 错误，failMessage 用作 5xx 的对外描述。
func toKratosError(err error, failMessage string) *kerrors.Error {
	if err == nil {
		return nil
	}
	var ke *kerrors.Error
	if errors.As(err, &ke) {
		return ke
	}
	var pe *services.PipelineError
	if !errors.As(err, &pe) {
		return kerrors.InternalServer(ReasonInternal, failMessage).WithCause(err)
	}
	switch pe.Kind {
	case services.KindInvalidRequest:
		return kerrors.BadRequest(ReasonInvalidRequest, "Invalid request").WithCause(err)
	case services.KindIncompleteUpload:
		return kerrors.Conflict(ReasonIncompleteUpload, "Upload incomplete").
			WithCause(err).
			WithMetadata(map[string]string{"missing": joinInts(pe.Missing)})
	case services.KindStorageWriteFailed:
		return kerrors.InternalServer(ReasonStorageWriteFailed, failMessage).WithCause(err)
	case services.KindChunkFetchFailed:
		return kerrors.InternalServer(ReasonChunkFetchFailed, failMessage).WithCause(err)
	case services.KindReassemblyIntegrity:
		return kerrors.InternalServer(ReasonIntegrity, failMessage).WithCause(err)
	case services.KindDispatchFailed:
		return kerrors.InternalServer(ReasonDispatchFailed, failMessage).WithCause(err)
	default:
		return kerrors.InternalServer(ReasonInternal, failMessage).WithCause(err)
	}
}

// EncodeError 以 {error, details} 渲染错误，状态码取自 kratos Error.Code。
// 作为 khttp.ErrorEncoder 注册到 HTTP Server。
func EncodeError(w http.ResponseWriter, _ *http.Request, err error) {
	se := kerrors.FromError(err)
	body := dto.ErrorResponse{Error: se.Message}
	if cause := errors.Unwrap(se); cause != nil {
		body.Details = cause.Error()
	} else if se.Reason != "" {
		body.Details = se.Reason
	}
	if missing := se.Metadata["missing"]; missing != "" {
		body.MissingChunks = missing
	}
	data, mErr := encoding.GetCodec(json.Name).Marshal(body)
	if mErr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(se.Code))
	_, _ = w.Write(data)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
