package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bionicotaku/lingo-services-ingest/internal/models/po"
)

// ErrVideoNotFound 表示 videos 表中不存在该记录。
var ErrVideoNotFound = errors.New("video not found")

// DBTX 是仓储使用的最小查询接口，*pgxpool.Pool 与 pgxmock 均满足。
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	markProcessingSQL = `UPDATE videos
SET processing_status = $2, original_file_url = $3, file_size_bytes = COALESCE($4, file_size_bytes), processing_error = NULL, updated_at = now()
WHERE id = $1`

	markCompletedSQL = `UPDATE videos
SET processing_status = $2, dash_manifest_url = $3, processing_error = NULL, updated_at = now()
WHERE id = $1`

	markFailedSQL = `UPDATE videos
SET processing_status = $2, processing_error = $3, updated_at = now()
WHERE id = $1`

	getVideoSQL = `SELECT id, processing_status, original_file_url, file_size_bytes, dash_manifest_url, processing_error, updated_at
FROM videos
WHERE id = $1`
)

// VideoRepository 负责写入视频的转码处理状态。
type VideoRepository struct {
	db  DBTX
	log *log.Helper
}

// NewVideoRepository 使用连接池构造仓储。
func NewVideoRepository(pool *pgxpool.Pool, logger log.Logger) *VideoRepository {
	return NewVideoRepositoryWithConn(pool, logger)
}

// NewVideoRepositoryWithConn 使用任意 DBTX 构造仓储，便于测试注入。
func NewVideoRepositoryWithConn(db DBTX, logger log.Logger) *VideoRepository {
	return &VideoRepository{db: db, log: log.NewHelper(logger)}
}

// MarkProcessing 记录原始文件地址并把状态置为 processing。sizeBytes <= 0 时保留原有大小。
func (r *VideoRepository) MarkProcessing(ctx context.Context, id uuid.UUID, originalURL string, sizeBytes int64) error {
	var sizeArg *int64
	if sizeBytes > 0 {
		sizeArg = &sizeBytes
	}
	tag, err := r.db.Exec(ctx, markProcessingSQL, id, string(po.ProcessingProcessing), originalURL, sizeArg)
	return r.checkUpdate(ctx, "mark processing", id, tag, err)
}

// MarkCompleted 写入 DASH manifest 地址并把状态置为 completed。
func (r *VideoRepository) MarkCompleted(ctx context.Context, id uuid.UUID, manifestURL string) error {
	tag, err := r.db.Exec(ctx, markCompletedSQL, id, string(po.ProcessingCompleted), manifestURL)
	return r.checkUpdate(ctx, "mark completed", id, tag, err)
}

// MarkFailed 把状态置为 failed，reason 为空时清空错误信息。
func (r *VideoRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	var reasonArg *string
	if reason != "" {
		reasonArg = &reason
	}
	tag, err := r.db.Exec(ctx, markFailedSQL, id, string(po.ProcessingFailed), reasonArg)
	return r.checkUpdate(ctx, "mark failed", id, tag, err)
}

// Get 查询单个视频的处理状态。
func (r *VideoRepository) Get(ctx context.Context, id uuid.UUID) (*po.Video, error) {
	var (
		v      po.Video
		status string
	)
	err := r.db.QueryRow(ctx, getVideoSQL, id).Scan(
		&v.ID,
		&status,
		&v.OriginalFileURL,
		&v.FileSizeBytes,
		&v.DashManifestURL,
		&v.ProcessingError,
		&v.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVideoNotFound
	}
	if err != nil {
		r.log.WithContext(ctx).Errorf("get video failed: video_id=%s err=%v", id, err)
		return nil, fmt.Errorf("get video: %w", err)
	}
	v.ProcessingStatus = po.ProcessingStatus(status)
	return &v, nil
}

func (r *VideoRepository) checkUpdate(ctx context.Context, op string, id uuid.UUID, tag pgconn.CommandTag, err error) error {
	if err != nil {
		r.log.WithContext(ctx).Errorf("%s failed: video_id=%s err=%v", op, id, err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrVideoNotFound)
	}
	return nil
}
