package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"covertext/internal/config"
	"covertext/internal/conversation"
	"covertext/internal/domain"
	"covertext/internal/httpapi"
	"covertext/internal/ingress"
	"covertext/internal/integrations/paramstore"
	"covertext/internal/integrations/twilio"
	"covertext/internal/memstore"
	"covertext/internal/messaging"
	"covertext/internal/queue"
	"covertext/internal/repository"
)

var rootCmd = &cobra.Command{
	Use:           "covertext",
	Short:         "CoverText inbound SMS conversation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server locally with in-memory stores and a log-only carrier",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var processCmd = &cobra.Command{
	Use:   "process <message-id>",
	Short: "Process one stored inbound message against DynamoDB and Twilio",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

var registerAgencyCmd = &cobra.Command{
	Use:   "register-agency",
	Short: "Map an agency's SMS number to the agency in DynamoDB",
	Args:  cobra.NoArgs,
	RunE:  runRegisterAgency,
}

var (
	serveAgencyIDFlag    string
	serveAgencyPhoneFlag string
	authTokenFlag        string
	agencyIDFlag         string
	agencyPhoneFlag      string
)

func init() {
	serveCmd.Flags().StringVar(&serveAgencyIDFlag, "agency-id", "agency-local", "Agency that owns --agency-phone")
	serveCmd.Flags().StringVar(&serveAgencyPhoneFlag, "agency-phone", "+15005550006", "Agency SMS number (E.164) accepted by the local server")
	serveCmd.Flags().StringVar(&authTokenFlag, "auth-token", "", "Verify webhook signatures with this token (disabled when empty)")

	registerAgencyCmd.Flags().StringVar(&agencyIDFlag, "agency-id", "", "Agency id")
	registerAgencyCmd.Flags().StringVar(&agencyPhoneFlag, "agency-phone", "", "Agency SMS number (E.164)")
	_ = registerAgencyCmd.MarkFlagRequired("agency-id")
	_ = registerAgencyCmd.MarkFlagRequired("agency-phone")

	rootCmd.AddCommand(serveCmd, processCmd, registerAgencyCmd)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type staticToken string

func (t staticToken) AuthToken(context.Context) (string, error) {
	return string(t), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv(nil)
	logger := slog.Default()

	store := memstore.New()
	if err := store.PutAgencyPhone(ctx, domain.Agency{ID: serveAgencyIDFlag, SMSPhoneNumber: serveAgencyPhoneFlag}); err != nil {
		return fmt.Errorf("register local agency: %w", err)
	}

	messenger, err := messaging.New(messaging.NewLogSender(logger), store, messaging.WithLogger(logger))
	if err != nil {
		return err
	}
	manager, err := conversation.NewManager(store, store, messenger, store)
	if err != nil {
		return err
	}

	pool, err := queue.NewPool(manager.ProcessInbound, cfg.WorkerConcurrency, queue.WithPoolLogger(logger))
	if err != nil {
		return err
	}
	pool.Start(ctx)
	defer pool.Close()

	svc, err := ingress.NewService(store, store, store, pool, ingress.WithLogger(logger))
	if err != nil {
		return err
	}
	verifier := &ingress.Verifier{Skip: authTokenFlag == "" || cfg.SkipSignature}
	if authTokenFlag != "" {
		verifier.Tokens = staticToken(authTokenFlag)
	}

	srv, err := httpapi.NewServer(svc, verifier, httpapi.WithPublicURL(cfg.PublicWebhookURL), httpapi.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("local agency registered", "agency_id", serveAgencyIDFlag, "agency_phone", serveAgencyPhoneFlag)
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromEnv(nil)
	if err := cfg.Require(config.EnvStateTable, config.EnvParamPrefix); err != nil {
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return err
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		return err
	}
	var twilioOpts []twilio.Option
	if cfg.TwilioBaseURL != "" {
		twilioOpts = append(twilioOpts, twilio.WithBaseURL(cfg.TwilioBaseURL))
	}
	carrier, err := twilio.NewClient(ssmClient, cfg.ParamPrefix, twilioOpts...)
	if err != nil {
		return err
	}
	messenger, err := messaging.New(carrier, store)
	if err != nil {
		return err
	}
	manager, err := conversation.NewManager(store, store, messenger, store)
	if err != nil {
		return err
	}

	return reportProcess(cmd.OutOrStdout(), args[0], manager.ProcessInbound(ctx, args[0]))
}

// reportProcess prints the outcome of one processing cycle.
func reportProcess(w io.Writer, messageID string, err error) error {
	if err == nil {
		fmt.Fprintf(w, "processed %s\n", messageID)
		return nil
	}
	var ce *conversation.Error
	if errors.As(err, &ce) {
		fmt.Fprintf(w, "failed %s: %s (%s) retryable=%t\n", messageID, ce.Code, ce.Reason, ce.Retryable())
	}
	return err
}

func runRegisterAgency(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromEnv(nil)
	if err := cfg.Require(config.EnvStateTable); err != nil {
		return err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		return err
	}
	if err := store.PutAgencyPhone(ctx, domain.Agency{ID: agencyIDFlag, SMSPhoneNumber: agencyPhoneFlag}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered %s -> %s\n", agencyPhoneFlag, agencyIDFlag)
	return nil
}
