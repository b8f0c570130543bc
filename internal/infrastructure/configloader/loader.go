package configloader

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/joho/godotenv"
)

const (
	defaultConfPath    = "configs"
	defaultServiceName = "ingest"
	defaultVersion     = "dev"
	defaultEnvironment = "development"

	envConfPath       = "CONF_PATH"
	envServiceName    = "SERVICE_NAME"
	envServiceVersion = "SERVICE_VERSION"
	envAppEnv         = "APP_ENV"
	envDatabaseURL    = "DATABASE_URL"
	envPort           = "PORT"
	envStorageBucket  = "STORAGE_BUCKET"
	envPubsubEmulator = "PUBSUB_EMULATOR_HOST"
)

const (
	defaultCopyBufferBytes = 1 << 20
	defaultCleanupTimeout  = 30 * time.Second
	defaultDispatchTimeout = 30 * time.Second
	defaultPublishTimeout  = 10 * time.Second
	defaultMaxChunkBytes   = 64 << 20
	defaultMaxChunks       = 100000
	defaultHTTPTimeout     = 10 * time.Minute
	defaultQueryTimeout    = 5 * time.Second
	defaultSignedURLTTL    = 24 * time.Hour
	defaultSweepInterval   = 10 * time.Minute
	defaultSweepMaxAge     = 24 * time.Hour
)

var envFileNames = []string{".env.local", ".env"}

// Params 包含构造配置 Bundle 所需的运行时输入参数。
type Params struct {
	ConfPath string
}

// ServiceMetadata 保存服务标识信息，供日志组件使用。
type ServiceMetadata struct {
	Name        string
	Version     string
	Environment string
	InstanceID  string
}

// Bundle 聚合配置与服务元信息，供 Wire 注入。
type Bundle struct {
	Bootstrap *Bootstrap
	Service   ServiceMetadata
}

// BuildError 捕获配置构建过程中的上下文错误信息。
type BuildError struct {
	Stage string
	Path  string
	Err   error
}

// Error 实现 error 接口。
func (e BuildError) Error() string {
	if e.Stage == "" {
		return e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("config %s at %q: %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Stage, e.Err)
}

// Unwrap 暴露底层错误。
func (e BuildError) Unwrap() error {
	return e.Err
}

// Build 从配置路径构建 Bundle。
//
// 流程：解析路径 → 加载 .env → 读取 YAML → 环境变量覆盖 → 填充默认值 → 校验。
func Build(params Params) (*Bundle, error) {
	confPath := ResolveConfPath(params.ConfPath)
	loadEnvFiles(confPath)

	bootstrap, err := loadBootstrap(confPath)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Bootstrap: bootstrap,
		Service:   buildServiceMetadata(),
	}, nil
}

// ResolveConfPath 优先级：显式传入路径 > CONF_PATH 环境变量 > 默认路径。
func ResolveConfPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(envConfPath); env != "" {
		return env
	}
	return defaultConfPath
}

func loadBootstrap(confPath string) (*Bootstrap, error) {
	c := config.New(config.WithSource(file.NewSource(confPath)))
	if err := c.Load(); err != nil {
		return nil, BuildError{Stage: "load", Path: confPath, Err: err}
	}
	defer c.Close()

	var bc Bootstrap
	if err := c.Scan(&bc); err != nil {
		return nil, BuildError{Stage: "scan", Path: confPath, Err: err}
	}
	applyEnvOverrides(&bc)
	applyDefaults(&bc)
	if err := Validate(&bc); err != nil {
		return nil, BuildError{Stage: "validate", Path: confPath, Err: err}
	}
	return &bc, nil
}

// applyEnvOverrides 环境变量为空时保留配置文件原值。
func applyEnvOverrides(bc *Bootstrap) {
	if bc == nil {
		return
	}
	if dsn := os.Getenv(envDatabaseURL); dsn != "" {
		bc.Data.Postgres.DSN = dsn
	}
	// Cloud Run 通过 $PORT 指定监听端口
	if port := os.Getenv(envPort); port != "" {
		bc.Server.HTTP.Addr = replacePort(bc.Server.HTTP.Addr, port)
	}
	if bucket := os.Getenv(envStorageBucket); bucket != "" {
		bc.Storage.Bucket = bucket
	}
	if emulator := os.Getenv(envPubsubEmulator); emulator != "" {
		bc.Messaging.Pubsub.EmulatorEndpoint = emulator
	}
}

func applyDefaults(bc *Bootstrap) {
	if bc.Server.HTTP.Network == "" {
		bc.Server.HTTP.Network = "tcp"
	}
	if bc.Server.HTTP.Addr == "" {
		bc.Server.HTTP.Addr = "0.0.0.0:8000"
	}
	if bc.Server.HTTP.Timeout.Duration <= 0 {
		bc.Server.HTTP.Timeout.Duration = defaultHTTPTimeout
	}
	if bc.Server.HTTP.QueryTimeout.Duration <= 0 {
		bc.Server.HTTP.QueryTimeout.Duration = defaultQueryTimeout
	}
	if bc.Server.HTTP.MaxChunkBytes <= 0 {
		bc.Server.HTTP.MaxChunkBytes = defaultMaxChunkBytes
	}
	if bc.Storage.Driver == "" {
		bc.Storage.Driver = "memory"
	}
	bc.Storage.Driver = strings.ToLower(bc.Storage.Driver)
	if bc.Storage.SignedURLTTL.Duration <= 0 {
		bc.Storage.SignedURLTTL.Duration = defaultSignedURLTTL
	}
	if bc.Pipeline.CopyBufferBytes <= 0 {
		bc.Pipeline.CopyBufferBytes = defaultCopyBufferBytes
	}
	if bc.Pipeline.MaxChunks <= 0 {
		bc.Pipeline.MaxChunks = defaultMaxChunks
	}
	if bc.Pipeline.CleanupTimeout.Duration <= 0 {
		bc.Pipeline.CleanupTimeout.Duration = defaultCleanupTimeout
	}
	if bc.Pipeline.DispatchTimeout.Duration <= 0 {
		bc.Pipeline.DispatchTimeout.Duration = defaultDispatchTimeout
	}
	if bc.Messaging.Pubsub.PublishTimeout.Duration <= 0 {
		bc.Messaging.Pubsub.PublishTimeout.Duration = defaultPublishTimeout
	}
	if bc.Messaging.Pubsub.ReceiveConcurrency <= 0 {
		bc.Messaging.Pubsub.ReceiveConcurrency = 4
	}
	if bc.Sweeper.Interval.Duration <= 0 {
		bc.Sweeper.Interval.Duration = defaultSweepInterval
	}
	if bc.Sweeper.MaxAge.Duration <= 0 {
		bc.Sweeper.MaxAge.Duration = defaultSweepMaxAge
	}
}

// Validate 检查跨字段约束，所有问题合并成一个错误返回。
func Validate(bc *Bootstrap) error {
	if bc == nil {
		return errors.New("bootstrap is nil")
	}
	var errs []error
	switch bc.Storage.Driver {
	case "gcs", "s3":
		if bc.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for driver %s", bc.Storage.Driver))
		}
	case "local":
		if bc.Storage.Local.Root == "" {
			errs = append(errs, errors.New("storage.local.root is required for driver local"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", bc.Storage.Driver))
	}
	if bc.Storage.Driver == "s3" && bc.Storage.S3.Region == "" {
		errs = append(errs, errors.New("storage.s3.region is required for driver s3"))
	}
	ps := bc.Messaging.Pubsub
	if (ps.TranscodeTopic != "" || ps.ResultSubscription != "") && ps.ProjectID == "" {
		errs = append(errs, errors.New("messaging.pubsub.project_id is required when pubsub is configured"))
	}
	if ps.ResultSubscription != "" && ps.ResultTopic == "" {
		errs = append(errs, errors.New("messaging.pubsub.result_topic is required with result_subscription"))
	}
	if bc.Data.Postgres.MinOpenConns < 0 {
		errs = append(errs, errors.New("data.postgres.min_open_conns must be >= 0"))
	}
	if bc.Data.Postgres.MaxOpenConns > 0 && bc.Data.Postgres.MinOpenConns > bc.Data.Postgres.MaxOpenConns {
		errs = append(errs, errors.New("data.postgres.min_open_conns must not exceed max_open_conns"))
	}
	return errors.Join(errs...)
}

func buildServiceMetadata() ServiceMetadata {
	host, _ := os.Hostname()
	return ServiceMetadata{
		Name:        firstNonEmpty(os.Getenv(envServiceName), defaultServiceName),
		Version:     firstNonEmpty(os.Getenv(envServiceVersion), defaultVersion),
		Environment: firstNonEmpty(os.Getenv(envAppEnv), defaultEnvironment),
		InstanceID:  host,
	}
}

// loadEnvFiles best-effort 加载 .env 文件，失败时忽略。
func loadEnvFiles(confPath string) {
	files := envFileCandidates(confPath)
	if len(files) == 0 {
		return
	}
	_ = godotenv.Load(files...)
}

// envFileCandidates 依次在 confPath 所在目录与当前工作目录中查找 .env.local、.env。
func envFileCandidates(confPath string) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, dir := range orderedDirs(confPath) {
		for _, name := range envFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if _, ok := seen[candidate]; ok {
				continue
			}
			files = append(files, candidate)
			seen[candidate] = struct{}{}
		}
	}
	return files
}

func orderedDirs(confPath string) []string {
	var dirs []string
	appendUnique := func(path string) {
		if path == "" {
			return
		}
		clean := filepath.Clean(path)
		for _, existing := range dirs {
			if existing == clean {
				return
			}
		}
		dirs = append(dirs, clean)
	}
	if confPath != "" {
		if info, err := os.Stat(confPath); err == nil {
			if info.IsDir() {
				appendUnique(confPath)
			} else {
				appendUnique(filepath.Dir(confPath))
			}
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		appendUnique(cwd)
	}
	return dirs
}

// replacePort 替换地址中的端口部分，保留 host。
func replacePort(addr, newPort string) string {
	if addr == "" {
		return "0.0.0.0:" + newPort
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0:" + newPort
	}
	return net.JoinHostPort(host, newPort)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
