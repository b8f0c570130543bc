package configloader

import "github.com/google/wire"

// ProviderSet exposes configuration-derived dependencies for Wire graphs.
var ProviderSet = wire.NewSet(
	Build,
	ProvideBootstrap,
	ProvideServiceMetadata,
	ProvideHTTPConfig,
	ProvideStorageConfig,
	ProvidePostgresConfig,
	ProvidePubsubConfig,
	ProvidePipelineConfig,
	ProvideSweeperConfig,
)

// ProvideBootstrap exposes the strongly typed bootstrap configuration.
func ProvideBootstrap(b *Bundle) *Bootstrap {
	if b == nil || b.Bootstrap == nil {
		return &Bootstrap{}
	}
	return b.Bootstrap
}

// ProvideServiceMetadata returns the resolved ServiceMetadata.
func ProvideServiceMetadata(b *Bundle) ServiceMetadata {
	if b == nil {
		return ServiceMetadata{}
	}
	return b.Service
}

// ProvideHTTPConfig returns server.http.
func ProvideHTTPConfig(bc *Bootstrap) HTTPServer { return bc.Server.HTTP }

// ProvideStorageConfig returns storage.
func ProvideStorageConfig(bc *Bootstrap) Storage { return bc.Storage }

// ProvidePostgresConfig returns data.postgres.
func ProvidePostgresConfig(bc *Bootstrap) Postgres { return bc.Data.Postgres }

// ProvidePubsubConfig returns messaging.pubsub.
func ProvidePubsubConfig(bc *Bootstrap) Pubsub { return bc.Messaging.Pubsub }

// ProvidePipelineConfig returns pipeline.
func ProvidePipelineConfig(bc *Bootstrap) Pipeline { return bc.Pipeline }

// ProvideSweeperConfig returns sweeper.
func ProvideSweeperConfig(bc *Bootstrap) Sweeper { return bc.Sweeper }
