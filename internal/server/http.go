package server

import (
	"GuardLane/internal/conf"
	"GuardLane/internal/server/middleware"
	"GuardLane/internal/service"
	pkglog "GuardLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, guardService *service.GuardService, tenantService *service.TenantService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper), // request id, client IP, latency, slow-request flag
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	// Register HTTP routes
	r := srv.Route("/api/v1")
	guardService.RegisterRoutes(r)
	tenantService.RegisterRoutes(r)

	// Prometheus scrape endpoint (default registry)
	srv.Handle("/metrics", promhttp.Handler())

	return srv
}
