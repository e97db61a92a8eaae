package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tzhukov/pollprobe/api"
	"github.com/tzhukov/pollprobe/config"
	"github.com/tzhukov/pollprobe/inventory"
	"github.com/tzhukov/pollprobe/kafka"
	"github.com/tzhukov/pollprobe/logger"
	"github.com/tzhukov/pollprobe/report"
	"github.com/tzhukov/pollprobe/store"
	"github.com/tzhukov/pollprobe/token"
	"github.com/tzhukov/pollprobe/tracing"
)

const version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pollprobe",
		Short:        "Keep a request alive for a fixed window while polling the host inventory API",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newProbeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (POST /poll)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger.Info("starting application", logger.FieldKV("version", version))

	// Root context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "pollprobe",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	parser, err := newClaimsParser(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []api.Option{}
	var sinks report.Multi
	if cfg.KafkaBroker != "" {
		pub := kafka.NewPublisher(cfg.KafkaBroker, cfg.Topic)
		defer pub.Close()
		sinks = append(sinks, pub)
		opts = append(opts, api.WithDependency("kafka", pub))
		logger.Info("kafka run reporting enabled", logger.FieldKV("topic", cfg.Topic))
	}
	if cfg.MongoURI != "" {
		m, err := store.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		defer m.Close(context.Background())
		sinks = append(sinks, m)
		opts = append(opts, api.WithRunLister(m), api.WithDependency("mongo", m))
	}
	if len(sinks) > 0 {
		opts = append(opts, api.WithRecorder(sinks))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ApiPort,
		Handler:           api.NewServer(parser, querierFactory(cfg), opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logger.FieldKV("port", cfg.ApiPort))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("http server error", err)
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// In-flight runs are not waited for; they are bounded by the poll budget.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", err)
	}
	return nil
}

func newClaimsParser(ctx context.Context, cfg config.Config) (token.ClaimsParser, error) {
	if cfg.TokenVerify == "oidc" {
		return token.NewOIDCParser(ctx, cfg.DexIssuer, cfg.ClientID, cfg.DexCACertFile)
	}
	return token.NewUnverifiedParser(), nil
}

func querierFactory(cfg config.Config) api.QuerierFactory {
	return func(ctx context.Context, accessToken string) inventory.Querier {
		return inventory.NewClient(ctx, cfg.FalconBaseURL, inventory.Credentials{
			AccessToken:  accessToken,
			ClientID:     cfg.FalconClientID,
			ClientSecret: cfg.FalconClientSecret,
		})
	}
}
