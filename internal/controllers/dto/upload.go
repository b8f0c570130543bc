// Package dto 定义 HTTP 请求/响应结构以及与服务层输入之间的转换。
package dto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/vo"
)

// 分片上传表单字段。
const (
	FieldChunk       = "chunk"
	FieldChunkIndex  = "chunkIndex"
	FieldTotalChunks = "totalChunks"
	FieldFileName    = "fileName"
	FieldUploadID    = "uploadId"
	FieldVideoID     = "videoId"
)

// ChunkForm 是分片上传表单中除文件外的字段。
type ChunkForm struct {
	UploadID    string
	FileName    string
	ChunkIndex  int
	TotalChunks int
	VideoID     uuid.UUID
	Size        int64
}

// String 用于 logging 中间件打印请求参数，不含分片内容。
func (f ChunkForm) String() string {
	return fmt.Sprintf("uploadId=%s fileName=%s chunk=%d/%d size=%d", f.UploadID, f.FileName, f.ChunkIndex, f.TotalChunks, f.Size)
}

// FormValues 抽象 multipart 表单取值。
type FormValues interface {
	FormValue(key string) string
}

// ParseChunkForm 读取并校验必填字段，返回缺失字段列表或格式错误。
func ParseChunkForm(form FormValues) (ChunkForm, []string, error) {
	var (
		out     ChunkForm
		missing []string
	)
	get := func(key string) string {
		v := strings.TrimSpace(form.FormValue(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	rawIndex := get(FieldChunkIndex)
	rawTotal := get(FieldTotalChunks)
	out.FileName = get(FieldFileName)
	out.UploadID = get(FieldUploadID)
	if len(missing) > 0 {
		return out, missing, nil
	}

	var err error
	if out.ChunkIndex, err = strconv.Atoi(rawIndex); err != nil {
		return out, nil, fmt.Errorf("chunkIndex %q is not an integer", rawIndex)
	}
	if out.TotalChunks, err = strconv.Atoi(rawTotal); err != nil {
		return out, nil, fmt.Errorf("totalChunks %q is not an integer", rawTotal)
	}
	if raw := strings.TrimSpace(form.FormValue(FieldVideoID)); raw != "" {
		if out.VideoID, err = uuid.Parse(raw); err != nil {
			return out, nil, fmt.Errorf("videoId %q is not a valid uuid", raw)
		}
	}
	return out, nil, nil
}

// ChunkUploadResponse 是分片上传的响应：普通分片只带 chunkIndex，完成上传时带 publicUrl 与 path。
type ChunkUploadResponse struct {
	Success    bool   `json:"success"`
	ChunkIndex *int   `json:"chunkIndex,omitempty"`
	PublicURL  string `json:"publicUrl,omitempty"`
	Path       string `json:"path,omitempty"`
	Size       int64  `json:"size,omitempty"`
	VideoID    string `json:"videoId,omitempty"`
	JobID      string `json:"jobId,omitempty"`
}

// CompleteUploadRequest 是管理端触发重组的请求体。
type CompleteUploadRequest struct {
	FileName    string `json:"fileName"`
	TotalChunks int    `json:"totalChunks"`
	VideoID     string `json:"videoId,omitempty"`
}

// UploadStatusResponse 是上传进度视图。
type UploadStatusResponse struct {
	*vo.UploadSession
	Complete bool `json:"complete"`
}

// VideoProcessingRequest 对应 POST /functions/v1/video-processing。
type VideoProcessingRequest struct {
	VideoID         string `json:"videoId"`
	OriginalFileURL string `json:"originalFileUrl"`
	FileSizeBytes   int64  `json:"fileSizeBytes,omitempty"`
}

// VideoProcessingResponse 在任务提交后立即返回。
type VideoProcessingResponse struct {
	Success bool   `json:"success"`
	VideoID string `json:"videoId"`
	JobID   string `json:"jobId,omitempty"`
}

// TranscodeCallbackResponse 是转码回调的响应。
type TranscodeCallbackResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome"`
}

// ErrorResponse 是所有错误的响应体。
type ErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	MissingChunks string `json:"missingChunks,omitempty"`
}
