// Package main is the entry point of the MetaDJ AI gateway.
// It initializes the Kratos application with the HTTP server and the
// rate limit sweeper.
package main

import (
	"flag"
	"os"

	"MetaDJ/internal/conf"
	zapLogger "MetaDJ/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "metadj-ai-gateway"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, sweeper *RateLimitSweeper) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
			sweeper,
		),
	)
}

func main() {
	flag.Parse()

	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := zapLogger.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	zapLogger.NewLogHelper(logger).Startup("MetaDJ AI gateway starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"primary", bc.Providers.Primary,
		"secondary", bc.Providers.Secondary,
		"shared_store", bc.Data.Redis.Enabled(),
		"fail_closed", bc.Resilience.RateLimit.FailClosed,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Resilience, bc.Providers, bc.Auth, bc.Parser, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
