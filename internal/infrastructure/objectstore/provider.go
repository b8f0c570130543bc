package objectstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/gcs"
)

// ProviderSet 暴露按配置选择后端的 Store 构造器。
var ProviderSet = wire.NewSet(NewStore)

// NewStore 根据 storage.driver 创建对应后端，cleanup 释放底层客户端。
func NewStore(ctx context.Context, cfg configloader.Storage, logger log.Logger) (Store, func(), error) {
	helper := log.NewHelper(logger)
	noop := func() {}

	switch cfg.Driver {
	case "gcs":
		client, cleanup, err := gcs.NewClient(ctx, logger)
		if err != nil {
			return nil, nil, err
		}
		opts := []GCSOption{WithGCSPublicBaseURL(cfg.PublicBaseURL)}
		signed := cfg.SignerServiceAccount != "" || cfg.SignerCredentialsFile != ""
		if signed {
			signer, err := gcs.NewReadURLSigner(ctx, gcs.ReadURLConfig{
				Bucket:          cfg.Bucket,
				TTL:             cfg.SignedURLTTL.Duration,
				AccessID:        cfg.SignerServiceAccount,
				CredentialsFile: cfg.SignerCredentialsFile,
			}, logger)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			opts = append(opts, WithReadURLSigner(signer))
		}
		store, err := NewGCSStore(client, cfg.Bucket, logger, opts...)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		helper.Infof("object store ready: driver=gcs bucket=%s signed=%v", cfg.Bucket, signed)
		return store, cleanup, nil

	case "s3":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			}
			o.UsePathStyle = cfg.S3.UsePathStyle
		})
		opts := []S3Option{WithS3PublicBaseURL(cfg.PublicBaseURL), WithS3PartSize(cfg.S3.PartSizeBytes)}
		if cfg.PublicBaseURL == "" {
			opts = append(opts, WithS3Presign(client, cfg.SignedURLTTL.Duration))
		}
		store, err := NewS3Store(client, cfg.Bucket, logger, opts...)
		if err != nil {
			return nil, nil, err
		}
		helper.Infof("object store ready: driver=s3 bucket=%s region=%s endpoint=%s", cfg.Bucket, cfg.S3.Region, cfg.S3.Endpoint)
		return store, noop, nil

	case "local":
		store, err := NewLocalStore(cfg.Local.Root, cfg.PublicBaseURL)
		if err != nil {
			return nil, nil, err
		}
		helper.Infof("object store ready: driver=local root=%s", cfg.Local.Root)
		return store, noop, nil

	case "memory", "":
		helper.Warn("object store ready: driver=memory, objects are lost on restart")
		return NewMemoryStore(cfg.PublicBaseURL), noop, nil

	default:
		return nil, nil, fmt.Errorf("objectstore: unsupported driver %q", cfg.Driver)
	}
}
