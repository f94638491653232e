package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"covertext/handler"
	"covertext/internal/config"
	"covertext/internal/ingress"
	"covertext/internal/integrations/paramstore"
	"covertext/internal/integrations/twilio"
	"covertext/internal/queue"
	"covertext/internal/repository"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// ---- Configuration (read only here) ----
	cfg := config.FromEnv(nil)
	if err := cfg.RequireIngress(); err != nil {
		fatal("invalid configuration", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		fatal("failed to create state client", err)
	}
	producer, err := queue.NewSQSProducer(awssqs.NewFromConfig(awsCfg), cfg.InboundQueueURL)
	if err != nil {
		fatal("failed to create queue producer", err)
	}
	carrier, err := twilio.NewClient(ssmClient, cfg.ParamPrefix)
	if err != nil {
		fatal("failed to create Twilio client", err)
	}

	// ---- Handler ----
	svc, err := ingress.NewService(store, store, store, producer, ingress.WithLogger(logger))
	if err != nil {
		fatal("failed to create ingress service", err)
	}
	verifier := &ingress.Verifier{Tokens: carrier, Skip: cfg.SkipSignature}
	if cfg.SkipSignature {
		logger.Warn("webhook signature validation disabled")
	}

	h, err := handler.NewHandler(svc, verifier, handler.WithPublicURL(cfg.PublicWebhookURL), handler.WithLogger(logger))
	if err != nil {
		fatal("failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
