// Package main 启动分片上传 HTTP 服务与转码结果订阅。
package main

import (
	"context"
	"flag"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport"
	khttp "github.com/go-kratos/kratos/v2/transport/http"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/transcoding"

	_ "go.uber.org/automaxprocs"
)

func newApp(
	logger log.Logger,
	meta configloader.ServiceMetadata,
	hs *khttp.Server,
	runner *transcoding.Runner,
	pipeline *services.UploadPipeline,
	dispatcher *services.Dispatcher,
) *kratos.App {
	servers := []transport.Server{hs}
	if runner != nil {
		servers = append(servers, runner)
	} else {
		log.NewHelper(logger).Warn("transcode result runner disabled (messaging.pubsub.result_subscription not configured)")
	}
	return kratos.New(
		kratos.ID(meta.InstanceID),
		kratos.Name(meta.Name),
		kratos.Version(meta.Version),
		kratos.Metadata(map[string]string{"environment": meta.Environment}),
		kratos.Logger(logger),
		kratos.Server(servers...),
		kratos.AfterStop(func(context.Context) error {
			// 等待脱离请求的清理与派发确认结束。
			pipeline.WaitBackground()
			dispatcher.Wait()
			return nil
		}),
	)
}

func main() {
	ctx := context.Background()

	confFlag := flag.String("conf", "", "config path or directory, eg: -conf configs/config.yaml")
	flag.Parse()

	app, cleanup, err := wireApp(ctx, configloader.Params{ConfPath: *confFlag})
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
