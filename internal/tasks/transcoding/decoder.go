// Package transcoding 消费转码器回报的结果并写回视频处理状态。
package transcoding

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// ErrPoisonMessage 表示消息无法解码，重投也不会成功。
var ErrPoisonMessage = errors.New("transcoding: poison message")

// resultPayload 兼容 camelCase 与 snake_case 两种字段命名。
type resultPayload struct {
	JobID        string `json:"jobId"`
	JobIDSnake   string `json:"job_id"`
	VideoID      string `json:"videoId"`
	VideoIDSnake string `json:"video_id"`
	Status       string `json:"status"`
	ManifestURL  string `json:"manifestUrl"`
	ManifestSn   string `json:"manifest_url"`
	Error        string `json:"error"`
}

type resultDecoder struct{}

func newResultDecoder() *resultDecoder {
	return &resultDecoder{}
}

// Decode 把消息体解码为 TranscodeResult。
func (d *resultDecoder) Decode(data []byte) (services.TranscodeResult, error) {
	var p resultPayload
	if len(data) == 0 {
		return services.TranscodeResult{}, fmt.Errorf("%w: empty payload", ErrPoisonMessage)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return services.TranscodeResult{}, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}
	rawID := strings.TrimSpace(firstNonEmpty(p.VideoID, p.VideoIDSnake))
	videoID, err := uuid.Parse(rawID)
	if err != nil {
		return services.TranscodeResult{}, fmt.Errorf("%w: invalid video id %q", ErrPoisonMessage, rawID)
	}
	return services.TranscodeResult{
		JobID:       strings.TrimSpace(firstNonEmpty(p.JobID, p.JobIDSnake)),
		VideoID:     videoID,
		Status:      strings.ToLower(strings.TrimSpace(p.Status)),
		ManifestURL: strings.TrimSpace(firstNonEmpty(p.ManifestURL, p.ManifestSn)),
		Error:       p.Error,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
