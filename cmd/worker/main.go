package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/logging"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
	"github.com/imrishuroy/go-payment-reconciler/internal/tracing"
)

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log, closer, err := logging.New(cfg.LogLevel, cfg.LogFile, app.ServiceName+"-worker")
	if err != nil {
		boot.Fatal().Err(err).Msg("init logger")
	}
	defer closer.Close()

	shutdown, err := tracing.Init(context.Background(), cfg.OTLPEndpoint, app.ServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}
	defer shutdown(context.Background())

	p := NewProcessor(cfg, app.Options{Metrics: metrics.NewDefault()}, log)

	// If RUN_LOCAL=true, handle one synthetic scheduled event and exit.
	if os.Getenv("RUN_LOCAL") == "true" {
		detail := os.Getenv("LOCAL_EVENT_DETAIL")
		if detail == "" {
			detail = "{}"
		}
		ev := events.CloudWatchEvent{
			ID:         "local",
			Source:     "local",
			DetailType: "Scheduled Event",
			Time:       time.Now().UTC(),
			Detail:     json.RawMessage(detail),
		}
		res, err := p.Handle(context.Background(), ev)
		if err != nil {
			log.Fatal().Err(err).Msg("local handler error")
		}
		log.Info().Interface("result", res).Msg("local run finished")
		return
	}

	lambda.Start(p.Handle)
}
