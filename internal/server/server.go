// Package server assembles the transport servers: the admin HTTP surface
// and the maintenance cron.
package server

import (
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer, NewCronServer)
