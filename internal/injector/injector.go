//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/entitysync/internal/config"
)

// InitializeEngine builds the engine described by cfg.
func InitializeEngine(cfg config.Config) (*Engine, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
