// Package main 提供废弃分片清理任务的独立进程入口。
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kratos/kratos/v2/log"
	_ "go.uber.org/automaxprocs"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/sweeper"
)

type sweeperTaskApp struct {
	Sweeper *sweeper.Sweeper
	Logger  log.Logger
}

func main() {
	ctx := context.Background()

	confFlag := flag.String("conf", "", "config path or directory, eg: -conf configs/config.yaml")
	onceFlag := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	app, cleanup, err := wireSweeperTask(ctx, configloader.Params{ConfPath: *confFlag})
	if err != nil {
		panic(err)
	}
	defer cleanup()

	helper := log.NewHelper(app.Logger)

	if *onceFlag {
		report, err := app.Sweeper.Sweep(ctx)
		helper.Infof("sweep done: uploads=%d chunks=%d staging=%d",
			report.UploadsRemoved, report.ChunksRemoved, report.StagingRemoved)
		if err != nil {
			helper.Errorf("sweep failed: %v", err)
			os.Exit(1)
		}
		return
	}

	helper.Info("starting upload sweeper")

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Sweeper.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		helper.Errorf("sweeper stopped unexpectedly: %v", err)
		os.Exit(1)
	}

	helper.Info("sweeper stopped")
}
