package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/handlers"
	"github.com/imrishuroy/go-payment-reconciler/internal/logging"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
)

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func setupRouter(cfg handlers.HandlerConfig, m *metrics.Metrics, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	handlers.RegisterOrdersRoutes(r, cfg)

	return r
}

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	l, err := config.LoadLedger(os.Getenv("ENV_FILE"))
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log, closer, err := logging.New(l.LogLevel, l.LogFile, app.ServiceName+"-api")
	if err != nil {
		boot.Fatal().Err(err).Msg("init logger")
	}
	defer closer.Close()

	store, err := app.OpenStore(context.Background(), l, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open ledger")
	}

	r := setupRouter(handlers.HandlerConfig{Store: store}, metrics.NewDefault(), log)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Info().Str("addr", addr).Msg("running local server")
		if err := r.Run(addr); err != nil {
			log.Fatal().Err(err).Msg("local server stopped")
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
