package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
)

// 转码结果状态。
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

// TranscodeResult 是转码器回报的结果。
type TranscodeResult struct {
	JobID       string    `json:"jobId"`
	VideoID     uuid.UUID `json:"videoId"`
	Status      string    `json:"status"`
	ManifestURL string    `json:"manifestUrl,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ApplyOutcome 描述 ApplyResult 实际做了什么。
type ApplyOutcome string

const (
	OutcomeApplied      ApplyOutcome = "applied"
	OutcomeUnknownVideo ApplyOutcome = "unknown_video"
	OutcomeStale        ApplyOutcome = "stale"
)

// StatusService 把转码结果写回 VideoRecord。
type StatusService struct {
	videos VideoStatusStore
	log    *log.Helper
}

// NewStatusService 构造 StatusService。
func NewStatusService(videos VideoStatusStore, logger log.Logger) *StatusService {
	return &StatusService{videos: videos, log: log.NewHelper(logger)}
}

// ApplyResult 写入 completed + manifest 或 failed + 错误信息。
//
// 未知视频与已完成视频上的结果被丢弃并返回 nil 错误；存储错误原样返回，由调用方重试。
func (s *StatusService) ApplyResult(ctx context.Context, res TranscodeResult) (ApplyOutcome, error) {
	if err := validateResult(res); err != nil {
		return "", err
	}
	helper := s.log.WithContext(ctx)

	current, err := s.videos.Get(ctx, res.VideoID)
	if err != nil {
		if errors.Is(err, repositories.ErrVideoNotFound) {
			helper.Warnf("drop transcode result for unknown video: video_id=%s job_id=%s", res.VideoID, res.JobID)
			return OutcomeUnknownVideo, nil
		}
		return "", fmt.Errorf("load video %s: %w", res.VideoID, err)
	}
	if current.ProcessingStatus.Terminal() {
		helper.Infof("ignore stale transcode result: video_id=%s job_id=%s status=%s", res.VideoID, res.JobID, res.Status)
		return OutcomeStale, nil
	}

	switch res.Status {
	case ResultCompleted:
		err = s.videos.MarkCompleted(ctx, res.VideoID, res.ManifestURL)
	default:
		reason := strings.TrimSpace(res.Error)
		if reason == "" {
			reason = "transcode failed"
		}
		err = s.videos.MarkFailed(ctx, res.VideoID, reason)
	}
	if err != nil {
		if errors.Is(err, repositories.ErrVideoNotFound) {
			helper.Warnf("video vanished while applying transcode result: video_id=%s", res.VideoID)
			return OutcomeUnknownVideo, nil
		}
		return "", fmt.Errorf("apply transcode result %s: %w", res.VideoID, err)
	}
	helper.Infof("transcode result applied: video_id=%s job_id=%s status=%s", res.VideoID, res.JobID, res.Status)
	return OutcomeApplied, nil
}

func validateResult(res TranscodeResult) error {
	switch {
	case res.VideoID == uuid.Nil:
		return invalidRequest("videoId is required")
	case res.Status != ResultCompleted && res.Status != ResultFailed:
		return invalidRequest("status must be %q or %q", ResultCompleted, ResultFailed)
	case res.Status == ResultCompleted && strings.TrimSpace(res.ManifestURL) == "":
		return invalidRequest("manifestUrl is required for completed results")
	}
	return nil
}
