// Package po 定义面向持久化的数据对象（Persistent Objects），由 Repository 层使用。
package po

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingStatus 表示视频转码处理状态。
type ProcessingStatus string

// 状态流转：pending → processing → completed | failed。
const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Terminal 表示该状态不会再被转码结果改写。
func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingCompleted
}

// Video 映射 videos 表中与上传/转码相关的列。
type Video struct {
	ID               uuid.UUID        `db:"id"`
	ProcessingStatus ProcessingStatus `db:"processing_status"`
	OriginalFileURL  *string          `db:"original_file_url"` // 重组后原始文件地址
	FileSizeBytes    *int64           `db:"file_size_bytes"`   // 原始文件大小
	DashManifestURL  *string          `db:"dash_manifest_url"` // 转码成功后写入
	ProcessingError  *string          `db:"processing_error"`  // 最近一次失败原因
	UpdatedAt        time.Time        `db:"updated_at"`
}
