package server

import (
	"MetaDJ/internal/conf"
	"MetaDJ/internal/server/middleware"
	"MetaDJ/internal/service"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(
	c *conf.Server,
	a *conf.Auth,
	chat *service.ChatService,
	transcribe *service.TranscribeService,
	health *service.HealthService,
	logger log.Logger,
) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var adminToken string
	if a != nil {
		adminToken = a.AdminToken
	}
	if adminToken == "" {
		logHelper.Warnw("msg", "admin token not configured, circuit reset is unauthenticated", "type", "auth")
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Identity(logHelper), // client identity and request id
			middleware.Logging(logHelper),
			selector.Server(middleware.AdminToken(adminToken, logHelper)).
				Path(service.PathCircuitReset).
				Build(),
		),
	}
	if c != nil && c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout > 0 {
			opts = append(opts, http.Timeout(c.Http.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	chat.RegisterRoutes(srv)
	transcribe.RegisterRoutes(srv)
	health.RegisterRoutes(srv)

	return srv
}
