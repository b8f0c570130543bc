package services

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// 对象存储布局。
const (
	TempPrefix      = "temp/"
	OriginalPrefix  = "original/"
	StagingPrefix   = "staging/"
	ProcessedPrefix = "processed/"

	DefaultContentType = "video/mp4"
	ManifestName       = "manifest.mpd"

	totalMarkerName = "total-"
)

var contentTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"ogg":  "video/ogg",
	"avi":  "video/x-msvideo",
	"mov":  "video/quicktime",
}

// ChunkPrefix 返回某次上传全部分片的公共前缀。
func ChunkPrefix(uploadID string) string {
	return TempPrefix + uploadID + "/"
}

// ChunkPath 返回分片对象路径，序号至少四位补零，超过 9999 自然增长。
func ChunkPath(uploadID string, index int) string {
	return fmt.Sprintf("%s%04d", ChunkPrefix(uploadID), index)
}

// FinalPath 返回重组后原始文件的规范路径。
func FinalPath(fileName string) string {
	return OriginalPrefix + fileName
}

// StagingPath 返回单次重组运行的临时输出路径。
func StagingPath(uploadID, runID string) string {
	return StagingPrefix + uploadID + "/" + runID
}

// ProcessedPrefixFor 返回转码产物目录。
func ProcessedPrefixFor(videoID string) string {
	return ProcessedPrefix + videoID + "/"
}

// TotalMarkerPath 返回记录 totalChunks 的标记对象路径。总数编码在路径中，只靠列表即可读出，
// 不依赖后端是否保存自定义元数据。
func TotalMarkerPath(uploadID string, total int) string {
	return ChunkPrefix(uploadID) + totalMarkerName + strconv.Itoa(total)
}

// ParseTotalMarker 从标记对象路径中解析 totalChunks。
func ParseTotalMarker(uploadID, objectPath string) (int, bool) {
	rest, ok := strings.CutPrefix(objectPath, ChunkPrefix(uploadID)+totalMarkerName)
	if !ok || !allDigits(rest) {
		return 0, false
	}
	total, err := strconv.Atoi(rest)
	if err != nil || total < 1 {
		return 0, false
	}
	return total, true
}

// ParseChunkIndex 从分片路径中解析序号，非本次上传或格式不符时返回 false。
func ParseChunkIndex(uploadID, objectPath string) (int, bool) {
	rest, ok := strings.CutPrefix(objectPath, ChunkPrefix(uploadID))
	if !ok || !allDigits(rest) {
		return 0, false
	}
	idx, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ContentTypeFor 按扩展名（不区分大小写）推断 MIME，未知时返回 video/mp4。
func ContentTypeFor(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return DefaultContentType
}

// validSegment 检查 uploadId / fileName 不能逃逸出所属前缀。
func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	if strings.ContainsAny(s, "/\\") {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
