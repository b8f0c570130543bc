// Package messaging 封装转码任务发布与结果订阅使用的 Pub/Sub 客户端。
package messaging

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
)

// ErrNotConfigured 表示未配置 Pub/Sub，派发会直接失败。
var ErrNotConfigured = errors.New("messaging: pubsub is not configured")

// NewClient 创建 Pub/Sub v2 客户端。project_id 为空时返回 nil 客户端。
// 配置 emulator_endpoint 时使用无认证的明文 gRPC 连接。
func NewClient(ctx context.Context, cfg configloader.Pubsub, logger log.Logger) (*pubsub.Client, func(), error) {
	helper := log.NewHelper(logger)
	if cfg.ProjectID == "" {
		helper.Warn("pubsub project_id not configured, transcode dispatch disabled")
		return nil, func() {}, nil
	}

	var opts []option.ClientOption
	if cfg.EmulatorEndpoint != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.EmulatorEndpoint),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("messaging: create pubsub client: %w", err)
	}
	helper.Infof("pubsub client ready: project=%s emulator=%t", cfg.ProjectID, cfg.EmulatorEndpoint != "")

	cleanup := func() {
		if err := client.Close(); err != nil {
			helper.Warnf("close pubsub client: %v", err)
		}
	}
	return client, cleanup, nil
}
