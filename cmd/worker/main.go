package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"covertext/handler"
	"covertext/internal/config"
	"covertext/internal/conversation"
	"covertext/internal/integrations/paramstore"
	"covertext/internal/integrations/twilio"
	"covertext/internal/messaging"
	"covertext/internal/repository"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.FromEnv(nil)
	if err := cfg.Require(config.EnvStateTable, config.EnvParamPrefix); err != nil {
		fatal("invalid configuration", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal("failed to load AWS config", err)
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		fatal("failed to create state client", err)
	}

	var twilioOpts []twilio.Option
	if cfg.TwilioBaseURL != "" {
		twilioOpts = append(twilioOpts, twilio.WithBaseURL(cfg.TwilioBaseURL))
	}
	carrier, err := twilio.NewClient(ssmClient, cfg.ParamPrefix, twilioOpts...)
	if err != nil {
		fatal("failed to create Twilio client", err)
	}

	messenger, err := messaging.New(carrier, store, messaging.WithLogger(logger))
	if err != nil {
		fatal("failed to create messenger", err)
	}
	manager, err := conversation.NewManager(store, store, messenger, store)
	if err != nil {
		fatal("failed to create conversation manager", err)
	}

	w, err := handler.NewWorker(manager, logger)
	if err != nil {
		fatal("failed to create worker", err)
	}

	lambda.Start(w.Handle)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
