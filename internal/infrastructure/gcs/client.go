package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
)

// NewClient 使用默认凭据创建 Cloud Storage 客户端，cleanup 关闭客户端。
func NewClient(ctx context.Context, logger log.Logger) (*storage.Client, func(), error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create gcs client: %w", err)
	}
	helper := log.NewHelper(logger)
	cleanup := func() {
		if err := client.Close(); err != nil {
			helper.Warnf("close gcs client: %v", err)
		}
	}
	return client, cleanup, nil
}
