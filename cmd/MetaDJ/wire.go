//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"MetaDJ/internal/biz"
	"MetaDJ/internal/conf"
	"MetaDJ/internal/data"
	"MetaDJ/internal/server"
	"MetaDJ/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Resilience, *conf.Providers, *conf.Auth, *conf.Parser, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		NewRateLimitSweeper,
		newApp,
	))
}
