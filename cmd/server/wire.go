//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"context"

	"github.com/go-kratos/kratos/v2"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bionicotaku/lingo-services-ingest/internal/controllers"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/configloader"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/database"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/logger"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/messaging"
	"github.com/bionicotaku/lingo-services-ingest/internal/infrastructure/objectstore"
	"github.com/bionicotaku/lingo-services-ingest/internal/repositories"
	"github.com/bionicotaku/lingo-services-ingest/internal/server"
	"github.com/bionicotaku/lingo-services-ingest/internal/services"
	"github.com/bionicotaku/lingo-services-ingest/internal/tasks/transcoding"
)

//go:generate go run github.com/google/wire/cmd/wire

// wireApp init kratos application.
func wireApp(context.Context, configloader.Params) (*kratos.App, func(), error) {
	panic(wire.Build(
		configloader.ProviderSet,
		logger.ProviderSet,
		database.ProviderSet,
		repositories.ProviderSet,
		objectstore.ProviderSet,
		messaging.ProviderSet,
		services.ProviderSet,
		controllers.ProviderSet,
		server.ProviderSet,
		wire.Bind(new(server.Pinger), new(*pgxpool.Pool)),
		transcoding.ProviderSet,
		newApp,
	))
}
