package cmd

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solatis/policydesk/internal/core/api"
	"github.com/solatis/policydesk/internal/core/auth"
	"github.com/solatis/policydesk/internal/core/config"
	"github.com/solatis/policydesk/internal/core/db"
	"github.com/solatis/policydesk/internal/core/server"
	"github.com/solatis/policydesk/internal/core/store"
	"github.com/solatis/policydesk/internal/layers"
	"github.com/solatis/policydesk/internal/rules"
	"github.com/solatis/policydesk/internal/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP policy API and gRPC health service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "listen host")
	serveCmd.Flags().Int("port", 8080, "HTTP port")
	serveCmd.Flags().Int("grpc-port", 50051, "gRPC health port (0 disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("grpc-port") {
		cfg.Server.GRPCPort, _ = cmd.Flags().GetInt("grpc-port")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RequireMigrated(ctx, database); err != nil {
		return fmt.Errorf("%w - run 'policydesk migrate up' first", err)
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set %s_HMAC_SECRET environment variable)", config.EnvPrefix)
	}
	authenticator := auth.NewAuthenticator(secrets, queries)

	service, err := api.NewService(
		store.New(queries),
		rules.NewEngine(),
		validate.New(cfg.Validation.KnownFields),
		layers.NewStore(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	router := api.NewRouter(service, api.RouterOptions{
		RequestTimeout: cfg.Server.RequestTimeout,
		Auth:           authenticator.Middleware(api.HealthPath),
	})

	srv, err := server.New(cfg.Server, router, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting policydesk",
		zap.String("version", Version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Int("hmac_secrets", len(secrets)))
	return srv.Run(ctx)
}
