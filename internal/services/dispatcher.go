package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
)

// DefaultDispatchTimeout 是等待转码任务被消息系统确认的默认时长。
const DefaultDispatchTimeout = 30 * time.Second

// TranscodeSubmitter 把转码任务交给外部转码系统。
// Submit 同步返回即表示任务已进入发送队列；Acceptance.Wait 等待服务端确认。
type TranscodeSubmitter interface {
	Submit(ctx context.Context, job TranscodeJob) (Acceptance, error)
}

// Acceptance 表示一次已提交但尚未确认的发送。
type Acceptance interface {
	Wait(ctx context.Context) (string, error)
}

// VideoStatusStore 抽象 VideoRecord 的状态写入，便于测试。
type VideoStatusStore interface {
	MarkProcessing(ctx context.Context, id uuid.UUID, originalURL string, sizeBytes int64) error
	MarkCompleted(ctx context.Context, id uuid.UUID, manifestURL string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	Get(ctx context.Context, id uuid.UUID) (*po.Video, error)
}

var _ VideoStatusStore = (*repositories.VideoRepository)(nil)

// DispatchTicket 跟踪一次派发的异步确认。
type DispatchTicket struct {
	JobID   string
	VideoID uuid.UUID
	done    chan error
}

// Done 在确认完成后收到结果（nil 表示成功），随后关闭。
func (t *DispatchTicket) Done() <-chan error {
	return t.done
}

// Dispatcher 把视频状态置为 processing 后派发转码任务。
type Dispatcher struct {
	submitter TranscodeSubmitter
	videos    VideoStatusStore
	metrics   *Metrics
	log       *log.Helper
	timeout   time.Duration
	now       func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher 构造 Dispatcher，timeout <= 0 时使用默认值。
func NewDispatcher(submitter TranscodeSubmitter, videos VideoStatusStore, metrics *Metrics, logger log.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{
		submitter: submitter,
		videos:    videos,
		metrics:   metrics,
		log:       log.NewHelper(logger),
		timeout:   timeout,
		now:       time.Now,
	}
}

// Dispatch 先写入 processing，再提交转码任务。
//
// 同步提交失败时写入 failed 并返回 DispatchFailed；提交成功后在脱离请求生命周期的
// goroutine 中等待确认，确认失败同样写入 failed。
func (d *Dispatcher) Dispatch(ctx context.Context, videoID uuid.UUID, ref *FinalObjectRef) (*DispatchTicket, error) {
	if videoID == uuid.Nil {
		return nil, invalidRequest("videoId is required")
	}
	if ref == nil || ref.PublicURL == "" {
		return nil, invalidRequest("originalFileUrl is required")
	}
	helper := d.log.WithContext(ctx)

	if err := d.videos.MarkProcessing(ctx, videoID, ref.PublicURL, ref.Size); err != nil {
		d.metrics.dispatched(ctx, "mark_failed")
		helper.Errorf("mark processing failed: video_id=%s err=%v", videoID, err)
		if errors.Is(err, repositories.ErrVideoNotFound) {
			return nil, dispatchFailed("video record not found", err)
		}
		return nil, dispatchFailed("mark processing", err)
	}

	job := NewTranscodeJob(videoID, ref, d.now())
	acc, err := d.submitter.Submit(ctx, job)
	if err != nil {
		d.metrics.dispatched(ctx, "submit_failed")
		helper.Errorf("submit transcode job failed: video_id=%s job_id=%s err=%v", videoID, job.JobID, err)
		d.markFailed(context.WithoutCancel(ctx), videoID, "dispatch: "+err.Error())
		return nil, dispatchFailed("submit transcode job", err)
	}

	ticket := &DispatchTicket{JobID: job.JobID, VideoID: videoID, done: make(chan error, 1)}
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(ticket.done)

		waitCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		serverID, err := acc.Wait(waitCtx)
		if err != nil {
			d.metrics.dispatched(detached, "ack_failed")
			d.log.WithContext(detached).Errorf("transcode job not acknowledged: video_id=%s job_id=%s err=%v", videoID, job.JobID, err)
			d.markFailed(detached, videoID, "dispatch: "+err.Error())
			ticket.done <- dispatchFailed("transcode job not acknowledged", err)
			return
		}
		d.metrics.dispatched(detached, "ok")
		d.log.WithContext(detached).Infof("transcode job dispatched: video_id=%s job_id=%s message_id=%s", videoID, job.JobID, serverID)
		ticket.done <- nil
	}()

	helper.Infof("transcode job submitted: video_id=%s job_id=%s source=%s", videoID, job.JobID, ref.Path)
	return ticket, nil
}

// Wait 阻塞直到所有异步确认结束。
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) markFailed(ctx context.Context, videoID uuid.UUID, reason string) {
	if err := d.videos.MarkFailed(ctx, videoID, reason); err != nil {
		d.log.WithContext(ctx).Errorf("mark failed status failed: video_id=%s err=%v", videoID, err)
	}
}
