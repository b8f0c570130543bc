// Package configloader 负责加载服务配置：YAML 文件 + .env + 环境变量覆盖，
// 并在加载后做一次完整校验。
package configloader

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 是配置文件的根结构。
type Bootstrap struct {
	Server    Server    `json:"server"`
	Storage   Storage   `json:"storage"`
	Data      Data      `json:"data"`
	Messaging Messaging `json:"messaging"`
	Pipeline  Pipeline  `json:"pipeline"`
	Sweeper   Sweeper   `json:"sweeper"`
}

// Server 对外监听配置。
type Server struct {
	HTTP HTTPServer `json:"http"`
}

// HTTPServer HTTP 入口配置。
type HTTPServer struct {
	Network        string   `json:"network"`
	Addr           string   `json:"addr"`
	Timeout        Duration `json:"timeout"`
	QueryTimeout   Duration `json:"query_timeout"`
	MaxChunkBytes  int64    `json:"max_chunk_bytes"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Storage 对象存储配置。Driver 取值 gcs / s3 / local / memory。
type Storage struct {
	Driver                string       `json:"driver"`
	Bucket                string       `json:"bucket"`
	PublicBaseURL         string       `json:"public_base_url"`
	SignedURLTTL          Duration     `json:"signed_url_ttl"`
	SignerServiceAccount  string       `json:"signer_service_account"`
	SignerCredentialsFile string       `json:"signer_credentials_file"`
	S3                    S3Storage    `json:"s3"`
	Local                 LocalStorage `json:"local"`
}

// S3Storage 仅在 driver=s3 时生效。
type S3Storage struct {
	Region        string `json:"region"`
	Endpoint      string `json:"endpoint"`
	UsePathStyle  bool   `json:"use_path_style"`
	PartSizeBytes int64  `json:"part_size_bytes"`
}

// LocalStorage 仅在 driver=local 时生效。
type LocalStorage struct {
	Root string `json:"root"`
}

// Data 持久化依赖。
type Data struct {
	Postgres Postgres `json:"postgres"`
}

// Postgres 连接池参数。
type Postgres struct {
	DSN                      string   `json:"dsn"`
	MaxOpenConns             int32    `json:"max_open_conns"`
	MinOpenConns             int32    `json:"min_open_conns"`
	MaxConnLifetime          Duration `json:"max_conn_lifetime"`
	MaxConnIdleTime          Duration `json:"max_conn_idle_time"`
	HealthCheckPeriod        Duration `json:"health_check_period"`
	Schema                   string   `json:"schema"`
	EnablePreparedStatements bool     `json:"enable_prepared_statements"`
}

// Messaging 消息通道。
type Messaging struct {
	Pubsub Pubsub `json:"pubsub"`
}

// Pubsub 转码任务发布与结果订阅。
type Pubsub struct {
	ProjectID          string   `json:"project_id"`
	TranscodeTopic     string   `json:"transcode_topic"`
	ResultTopic        string   `json:"result_topic"`
	ResultSubscription string   `json:"result_subscription"`
	EmulatorEndpoint   string   `json:"emulator_endpoint"`
	PublishTimeout     Duration `json:"publish_timeout"`
	ReceiveConcurrency int      `json:"receive_concurrency"`
}

// Pipeline 上传流水线参数。
type Pipeline struct {
	CopyBufferBytes int      `json:"copy_buffer_bytes"`
	MaxChunks       int      `json:"max_chunks"`
	CleanupTimeout  Duration `json:"cleanup_timeout"`
	DispatchTimeout Duration `json:"dispatch_timeout"`
}

// Sweeper 废弃分片清理任务参数。
type Sweeper struct {
	Interval Duration `json:"interval"`
	MaxAge   Duration `json:"max_age"`
}

// Duration 支持 "30s" 形式的字符串以及纳秒整数。
type Duration struct {
	time.Duration
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		d.Duration = 0
	case float64:
		d.Duration = time.Duration(v)
	case string:
		if v == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	default:
		return fmt.Errorf("invalid duration type %T", raw)
	}
	return nil
}

// MarshalJSON 实现 json.Marshaler。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
