package service

import (
	"context"

	"MetaDJ/internal/biz"
	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// HealthService reports provider health and resets breaker state.
type HealthService struct {
	uc     *biz.ChatUsecase
	logger *pkglog.LogHelper
}

// NewHealthService creates a HealthService.
func NewHealthService(uc *biz.ChatUsecase, logger log.Logger) *HealthService {
	return &HealthService{uc: uc, logger: pkglog.NewLogHelper(logger)}
}

// RegisterRoutes mounts the health and admin routes on srv.
func (s *HealthService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/")
	r.GET(PathHealth, s.Providers)
	r.POST(PathCircuitReset, s.ResetCircuits)
}

// ProvidersReply is the body of GET /api/health/providers.
type ProvidersReply struct {
	Providers map[string]biz.ProviderHealth `json:"providers"`
}

// Providers handles GET /api/health/providers.
func (s *HealthService) Providers(ctx http.Context) error {
	h := ctx.Middleware(func(context.Context, interface{}) (interface{}, error) {
		return &ProvidersReply{Providers: s.uc.ProviderHealth()}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ResetReply is the body of a successful breaker reset.
type ResetReply struct {
	Reset bool `json:"reset"`
}

// ResetCircuits handles POST /api/admin/circuit-breaker/reset.
func (s *HealthService) ResetCircuits(ctx http.Context) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		if err := s.uc.ResetCircuits(c); err != nil {
			s.logger.Errorw("msg", "circuit reset failed",
				"request_id", pkglog.GetRequestID(c),
				"error", err)
			return nil, errors.ServiceUnavailable("RESET_FAILED", "circuit state could not be cleared from the shared store")
		}
		s.logger.Circuit("circuit breakers reset", "request_id", pkglog.GetRequestID(c))
		return &ResetReply{Reset: true}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
