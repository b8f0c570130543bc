// Package sweeper 回收长时间未完成的分片上传与遗留的 staging 对象。
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
)

// 默认参数。
const (
	DefaultInterval = 10 * time.Minute
	DefaultMaxAge   = 24 * time.Hour
)

// Report 汇总一次清扫的结果。
type Report struct {
	UploadsRemoved int
	ChunksRemoved  int
	StagingRemoved int
}

// Sweeper 按对象更新时间清理 temp/ 与 staging/。
type Sweeper struct {
	store    objectstore.Store
	log      *log.Helper
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// New 构造 Sweeper，非正值参数使用默认值。
func New(store objectstore.Store, cfg configloader.Sweeper, logger log.Logger) *Sweeper {
	s := &Sweeper{
		store:    store,
		log:      log.NewHelper(logger),
		interval: cfg.Interval.Duration,
		maxAge:   cfg.MaxAge.Duration,
		now:      time.Now,
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	return s
}

// WithClock 覆盖时间函数，便于测试。
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

// Sweep 执行一次清扫。
//
// 某个 uploadId 下最新的分片早于 maxAge 时，整组分片被删除；仍在上传中的会话不受影响。
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	cutoff := s.now().Add(-s.maxAge)

	chunks, err := s.store.List(ctx, services.TempPrefix)
	if err != nil {
		return report, fmt.Errorf("sweeper: list %s: %w", services.TempPrefix, err)
	}
	groups := make(map[string][]objectstore.ObjectInfo)
	newest := make(map[string]time.Time)
	for _, obj := range chunks {
		uploadID, ok := uploadIDOf(obj.Path)
		if !ok {
			continue
		}
		groups[uploadID] = append(groups[uploadID], obj)
		if obj.Updated.After(newest[uploadID]) {
			newest[uploadID] = obj.Updated
		}
	}

	var errs []error
	for uploadID, objs := range groups {
		if !newest[uploadID].Before(cutoff) {
			continue
		}
		paths := make([]string, len(objs))
		for i, o := range objs {
			paths[i] = o.Path
		}
		if err := s.store.Delete(ctx, paths...); err != nil {
			errs = append(errs, fmt.Errorf("delete upload %s: %w", uploadID, err))
			continue
		}
		report.UploadsRemoved++
		report.ChunksRemoved += len(paths)
		s.log.WithContext(ctx).Infof("abandoned upload removed: upload_id=%s chunks=%d last_chunk_at=%s",
			uploadID, len(paths), newest[uploadID].Format(time.RFC3339))
	}

	staged, err := s.store.List(ctx, services.StagingPrefix)
	if err != nil {
		errs = append(errs, fmt.Errorf("list %s: %w", services.StagingPrefix, err))
		return report, errors.Join(errs...)
	}
	var stale []string
	for _, obj := range staged {
		if obj.Updated.Before(cutoff) {
			stale = append(stale, obj.Path)
		}
	}
	if len(stale) > 0 {
		if err := s.store.Delete(ctx, stale...); err != nil {
			errs = append(errs, fmt.Errorf("delete staging objects: %w", err))
		} else {
			report.StagingRemoved = len(stale)
		}
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("sweeper: %w", errors.Join(errs...))
	}
	return report, nil
}

// Run 周期性执行 Sweep 直到 ctx 取消。单次失败只记录日志。
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	report, err := s.Sweep(ctx)
	if err != nil {
		s.log.WithContext(ctx).Warnf("sweep finished with errors: %v", err)
	}
	if report.UploadsRemoved > 0 || report.StagingRemoved > 0 {
		s.log.WithContext(ctx).Infof("sweep done: uploads=%d chunks=%d staging=%d",
			report.UploadsRemoved, report.ChunksRemoved, report.StagingRemoved)
	}
}

func uploadIDOf(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, services.TempPrefix)
	if !ok {
		return "", false
	}
	uploadID, _, ok := strings.Cut(rest, "/")
	if !ok || uploadID == "" {
		return "", false
	}
	return uploadID, true
}
