package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	slowRequestMs = 1000
	slowStreamMs  = 30000
)

// Logging returns a middleware that logs every HTTP request with its
// duration and flags slow ones. It expects Identity to run first.
//
// Log output example:
//
//	🟢 POST /api/chat - 200 (542ms) | RequestID: 5f1c2a9be3d4
//	🐌 [5f1c2a9be3d4] Slow request detected | POST /api/chat | 1438ms
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				ip        string
				userAgent string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				method = tr.Operation()
				path = tr.Operation()

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")
				}
			}

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()
			threshold := int64(slowRequestMs)
			if strings.HasSuffix(path, "/stream") {
				threshold = slowStreamMs
			}

			logger.RequestWithContext(ctx, method, path, extractHTTPStatus(err), duration, threshold,
				"ip", ip,
				"user_agent", userAgent,
			)

			return reply, err
		}
	}
}

// extractHTTPStatus maps an error to the status the error encoder will write.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.FromError(err).Code)
}
