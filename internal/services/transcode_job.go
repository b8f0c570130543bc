package services

import (
	"time"

	"github.com/google/uuid"
)

// Rendition 是 DASH 码率阶梯中的一档。
type Rendition struct {
	Width       int `json:"width"`
	Height      int `json:"height"`
	BitrateKbps int `json:"bitrateKbps"`
}

// AudioProfile 描述音频转码参数。
type AudioProfile struct {
	Codec        string `json:"codec"`
	BitrateKbps  int    `json:"bitrateKbps"`
	SampleRateHz int    `json:"sampleRateHz"`
	Channels     int    `json:"channels"`
}

// TranscodeJob 是发送给转码器的任务描述。
type TranscodeJob struct {
	JobID          string       `json:"jobId"`
	VideoID        uuid.UUID    `json:"videoId"`
	SourcePath     string       `json:"sourcePath,omitempty"`
	SourceURL      string       `json:"sourceUrl"`
	OutputPrefix   string       `json:"outputPrefix"`
	ManifestName   string       `json:"manifestName"`
	SegmentSeconds int          `json:"segmentSeconds"`
	Renditions     []Rendition  `json:"renditions"`
	Audio          AudioProfile `json:"audio"`
	RequestedAt    time.Time    `json:"requestedAt"`
}

// DefaultLadder 返回 360p 到 1080p 的四档 DASH 阶梯。
func DefaultLadder() []Rendition {
	return []Rendition{
		{Width: 640, Height: 360, BitrateKbps: 400},
		{Width: 854, Height: 480, BitrateKbps: 800},
		{Width: 1280, Height: 720, BitrateKbps: 1200},
		{Width: 1920, Height: 1080, BitrateKbps: 2000},
	}
}

// DefaultAudio 返回 AAC 128kbps / 48kHz / 双声道。
func DefaultAudio() AudioProfile {
	return AudioProfile{Codec: "aac", BitrateKbps: 128, SampleRateHz: 48000, Channels: 2}
}

const defaultSegmentSeconds = 4

// NewTranscodeJob 为已发布的原始文件构造转码任务。
func NewTranscodeJob(videoID uuid.UUID, ref *FinalObjectRef, now time.Time) TranscodeJob {
	job := TranscodeJob{
		JobID:          uuid.NewString(),
		VideoID:        videoID,
		OutputPrefix:   ProcessedPrefixFor(videoID.String()),
		ManifestName:   ManifestName,
		SegmentSeconds: defaultSegmentSeconds,
		Renditions:     DefaultLadder(),
		Audio:          DefaultAudio(),
		RequestedAt:    now.UTC(),
	}
	if ref != nil {
		job.SourcePath = ref.Path
		job.SourceURL = ref.PublicURL
	}
	return job
}
