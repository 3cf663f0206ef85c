package data

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"MetaDJ/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the shared-store client. It returns a nil client
// when the store URL or token is missing, which selects local-memory mode.
// A failed ping is logged but does not prevent startup; store calls then
// fail individually and are handled by the breaker and limiter policies.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data/redis"))

	if c == nil || !c.Redis.Enabled() {
		helper.Info("shared store not configured, using process-local state")
		return nil, func() {}, nil
	}

	opts, err := redisOptions(c.Redis.Url, c.Redis.Token)
	if err != nil {
		return nil, nil, err
	}
	opts.PoolSize = 100
	opts.MinIdleConns = 10
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = c.Redis.ReadTimeout
	opts.WriteTimeout = c.Redis.WriteTimeout
	opts.ConnMaxIdleTime = 5 * time.Minute

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnf("failed to reach shared store at %s: %v (store errors will follow the configured fail policy)", opts.Addr, err)
	} else {
		helper.Infof("connected to shared store at %s", opts.Addr)
	}

	cleanup := func() {
		helper.Info("closing shared store client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("failed to close shared store client: %v", err)
		}
	}

	return rdb, cleanup, nil
}

// redisOptions accepts redis:// and rediss:// URLs, https:// endpoints of
// hosted stores (TLS on port 6379, token as password) and bare host:port.
func redisOptions(rawURL, token string) (*redis.Options, error) {
	switch {
	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if opts.Password == "" {
			opts.Password = token
		}
		return opts, nil

	case strings.HasPrefix(rawURL, "https://"), strings.HasPrefix(rawURL, "http://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		host := u.Hostname()
		return &redis.Options{
			Addr:      net.JoinHostPort(host, "6379"),
			Username:  "default",
			Password:  token,
			TLSConfig: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		}, nil

	default:
		return &redis.Options{Addr: rawURL, Password: token}, nil
	}
}
