//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"GuardLane/internal/biz"
	"GuardLane/internal/conf"
	"GuardLane/internal/data"
	"GuardLane/internal/server"
	"GuardLane/internal/service"
	"GuardLane/pkg/crypto"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Security, *conf.Guard, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		newCryptoService,
		newApp,
	))
}

// newCryptoService creates the AES cipher for tenant credentials from config.
// A missing key yields a nil cipher; tenant writes then refuse credentials.
func newCryptoService(sec *conf.Security) (*crypto.AESCrypto, error) {
	if sec == nil || sec.Encryption == nil || sec.Encryption.Key == "" {
		return nil, nil
	}
	return crypto.NewAESCrypto([]byte(sec.Encryption.Key))
}
