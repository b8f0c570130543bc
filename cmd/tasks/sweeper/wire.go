//go:build wireinject
// +build wireinject

// Package main 为 sweeper 任务提供 Wire 依赖注入定义。
package main

import (
	"context"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"

	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/logger"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/sweeper"
)

//go:generate go run github.com/google/wire/cmd/wire

func wireSweeperTask(context.Context, configloader.Params) (*sweeperTaskApp, func(), error) {
	panic(wire.Build(
		configloader.ProviderSet,
		logger.ProviderSet,
		objectstore.ProviderSet,
		sweeper.ProviderSet,
		newSweeperTaskApp,
	))
}

func newSweeperTaskApp(logger log.Logger, s *sweeper.Sweeper) *sweeperTaskApp {
	return &sweeperTaskApp{Sweeper: s, Logger: logger}
}
