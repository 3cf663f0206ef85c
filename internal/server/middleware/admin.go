package middleware

import (
	"context"
	"crypto/subtle"

	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
)

// AdminTokenHeader carries the administrative token.
const AdminTokenHeader = "X-Admin-Token"

// AdminToken rejects requests without the configured admin token. An empty
// token disables the check.
func AdminToken(token string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			if token == "" {
				return handler(ctx, req)
			}

			var got string
			if tr, ok := transport.FromServerContext(ctx); ok {
				got = tr.RequestHeader().Get(AdminTokenHeader)
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				logger.Warnw("msg", "admin request rejected",
					"request_id", pkglog.GetRequestID(ctx),
					"type", "auth")
				return nil, errors.Unauthorized("UNAUTHORIZED", "admin token required")
			}
			return handler(ctx, req)
		}
	}
}
