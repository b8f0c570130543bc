// Package gcs 提供 Cloud Storage 客户端，以及私有 bucket 中成品对象的签名读取地址。
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/oauth2/google"
)

// ReadURLConfig 描述签名读取地址的生成参数。
type ReadURLConfig struct {
	Bucket string
	TTL    time.Duration
	// AccessID 是签名用的 service account 邮箱，留空时取凭据中的 client_email。
	AccessID string
	// CredentialsFile 是 service account JSON 路径，留空时使用默认凭据。
	CredentialsFile string
}

// ReadURLSigner 为同一 bucket 内的对象签发固定有效期的 V4 GET 地址。
type ReadURLSigner struct {
	bucket     string
	ttl        time.Duration
	accessID   string
	privateKey []byte
	now        func() time.Time
	log        *log.Helper
}

// SignerOption 定义可选配置。
type SignerOption func(*ReadURLSigner)

// WithClock 覆盖时间获取函数。
func WithClock(clock func() time.Time) SignerOption {
	return func(s *ReadURLSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewReadURLSigner 加载 service account 私钥并创建签名器。
func NewReadURLSigner(ctx context.Context, cfg ReadURLConfig, logger log.Logger, opts ...SignerOption) (*ReadURLSigner, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs signer: bucket is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("gcs signer: ttl must be positive")
	}
	raw, err := credentialsJSON(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("gcs signer: %w", err)
	}
	key, err := parseServiceAccount(raw)
	if err != nil {
		return nil, fmt.Errorf("gcs signer: %w", err)
	}

	s := &ReadURLSigner{
		bucket:     cfg.Bucket,
		ttl:        cfg.TTL,
		accessID:   cfg.AccessID,
		privateKey: []byte(key.PrivateKey),
		now:        time.Now,
		log:        log.NewHelper(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	switch {
	case s.accessID == "":
		s.accessID = key.ClientEmail
	case key.ClientEmail != "" && key.ClientEmail != s.accessID:
		s.log.WithContext(ctx).Warnf("gcs signer access id differs from credentials: config=%s credentials=%s", s.accessID, key.ClientEmail)
	}
	if s.accessID == "" {
		return nil, errors.New("gcs signer: google access id is required")
	}
	return s, nil
}

// Sign 返回 objectName 的只读签名地址。
func (s *ReadURLSigner) Sign(ctx context.Context, objectName string) (string, error) {
	if objectName == "" {
		return "", errors.New("object name is required")
	}
	url, err := storage.SignedURL(s.bucket, objectName, &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        s.now().Add(s.ttl),
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
	})
	if err != nil {
		s.log.WithContext(ctx).Errorf("sign read url failed: bucket=%s object=%s err=%v", s.bucket, objectName, err)
		return "", fmt.Errorf("signed url: %w", err)
	}
	return url, nil
}

type serviceAccountKey struct {
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

func credentialsJSON(ctx context.Context, file string) ([]byte, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		return data, nil
	}
	creds, err := google.FindDefaultCredentials(ctx, storage.ScopeReadOnly)
	if err != nil {
		return nil, fmt.Errorf("find default credentials: %w", err)
	}
	if len(creds.JSON) == 0 {
		return nil, errors.New("default credentials carry no service account JSON")
	}
	return creds.JSON, nil
}

func parseServiceAccount(raw []byte) (serviceAccountKey, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return key, fmt.Errorf("parse service account json: %w", err)
	}
	if key.PrivateKey == "" {
		return key, errors.New("service account private key is empty")
	}
	return key, nil
}
