// Package server 组装 HTTP 入口与指标导出。
package server

import (
	"context"
	stdhttp "net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	kmetrics "github.com/go-kratos/kratos/v2/middleware/metrics"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bionicotaku/lingo-services-ingest/internal/controllers"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
)

// ProviderSet bundles the HTTP server and telemetry providers for Wire.
var ProviderSet = wire.NewSet(NewTelemetry, ProvideMeterProvider, NewHTTPServer)

// CORS 请求头与上传函数保持一致。
var corsAllowedHeaders = []string{"authorization", "x-client-info", "apikey", "content-type"}

const readinessTimeout = 2 * time.Second

// Pinger 用于 readiness 检查，*pgxpool.Pool 满足该接口。
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c configloader.HTTPServer,
	storage configloader.Storage,
	telemetry *Telemetry,
	uploads *controllers.UploadHandler,
	transcode *controllers.TranscodeHandler,
	db Pinger,
	logger log.Logger,
) *http.Server {
	mw := []middleware.Middleware{recovery.Recovery(), logging.Server(logger)}
	if telemetry != nil {
		mw = append(mw, kmetrics.Server(
			kmetrics.WithRequests(telemetry.RequestCounter),
			kmetrics.WithSeconds(telemetry.SecondsHistogram),
		))
	}

	origins := c.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	opts := []http.ServerOption{
		http.Middleware(mw...),
		http.ErrorEncoder(controllers.EncodeError),
		http.Filter(handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedHeaders(corsAllowedHeaders),
			handlers.AllowedMethods([]string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodOptions}),
		)),
	}
	if c.Network != "" {
		opts = append(opts, http.Network(c.Network))
	}
	if c.Addr != "" {
		opts = append(opts, http.Address(c.Addr))
	}
	if c.Timeout.Duration > 0 {
		opts = append(opts, http.Timeout(c.Timeout.Duration))
	}

	srv := http.NewServer(opts...)

	srv.Handle("/healthz", stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
	}))

	srv.Handle("/readyz", stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if db == nil {
			w.WriteHeader(stdhttp.StatusOK)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			log.NewHelper(logger).WithContext(ctx).Warnf("readiness check failed: %v", err)
			w.WriteHeader(stdhttp.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(stdhttp.StatusOK)
	}))

	if telemetry != nil && telemetry.PrometheusRegistry != nil {
		srv.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	}

	// local 驱动下直接托管对象文件，仅用于开发环境。
	if prefix := localMediaPrefix(storage); prefix != "" {
		srv.HandlePrefix(prefix, stdhttp.StripPrefix(prefix, stdhttp.FileServer(stdhttp.Dir(storage.Local.Root))))
	}

	r := srv.Route("/")
	if uploads != nil {
		uploads.Register(r)
	}
	if transcode != nil {
		transcode.Register(r)
	}
	return srv
}

func localMediaPrefix(storage configloader.Storage) string {
	if storage.Driver != "local" || storage.Local.Root == "" || storage.PublicBaseURL == "" {
		return ""
	}
	u, err := url.Parse(storage.PublicBaseURL)
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
