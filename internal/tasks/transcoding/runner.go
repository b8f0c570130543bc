package transcoding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bionicotaku/lingo-utils/gcpubsub"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
)

// Runner 消费转码结果订阅，同时实现 kratos transport.Server。
type Runner struct {
	subscriber gcpubsub.Subscriber
	handler    *Handler
	log        *log.Helper

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ transport.Server = (*Runner)(nil)

// NewRunner 构造 Runner。
func NewRunner(subscriber gcpubsub.Subscriber, handler *Handler, logger log.Logger) (*Runner, error) {
	if subscriber == nil {
		return nil, fmt.Errorf("transcoding: subscriber is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("transcoding: handler is required")
	}
	return &Runner{subscriber: subscriber, handler: handler, log: log.NewHelper(logger)}, nil
}

// Run 阻塞消费直到 ctx 取消。
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.subscriber == nil {
		return nil
	}
	return r.subscriber.Receive(ctx, r.processMessage)
}

func (r *Runner) processMessage(ctx context.Context, msg *gcpubsub.Message) error {
	if msg == nil {
		return nil
	}
	return r.handler.Handle(ctx, msg.Data)
}

// Start 实现 transport.Server，在后台启动消费循环。
func (r *Runner) Start(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	r.log.Info("transcode result runner started")
	go func() {
		defer close(done)
		if err := r.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Errorf("transcode result runner stopped unexpectedly: %v", err)
		}
	}()
	return nil
}

// Stop 实现 transport.Server，等待消费循环退出或 ctx 到期。
func (r *Runner) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		r.log.Info("transcode result runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
