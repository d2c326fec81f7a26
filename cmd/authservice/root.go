package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/utafrali/authservice/internal/app"
	"github.com/utafrali/authservice/internal/config"
	"github.com/utafrali/authservice/internal/repository"
	"github.com/utafrali/authservice/pkg/logger"
)

// NewRootCmd creates the root command. Without a subcommand it serves HTTP.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authservice",
		Short:         "User registration and token authentication service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUserCmd())

	return cmd
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	log.Info("starting auth service",
		slog.String("environment", cfg.Environment),
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("store", cfg.StoreDriver),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("run application: %w", err)
	}

	log.Info("auth service stopped")
	return nil
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			if cfg.StoreDriver != config.StoreDriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=%s", config.StoreDriverPostgres)
			}

			store, err := app.OpenStore(cmd.Context(), cfg, nil, log)
			if err != nil {
				return err
			}
			store.Close()

			cmd.Println("migrations applied")
			return nil
		},
	}
}

// NewUserCmd creates the user administration subcommands.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administer user accounts",
	}
	cmd.AddCommand(newSetDisabledCmd("disable", "Disable an account so it can no longer use the API", true))
	cmd.AddCommand(newSetDisabledCmd("enable", "Re-enable a disabled account", false))
	return cmd
}

func newSetDisabledCmd(use, short string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			return setDisabled(cmd.Context(), cfg, log, args[0], disabled, cmd.Println)
		},
	}
}

func setDisabled(ctx context.Context, cfg *config.Config, log *slog.Logger, username string, disabled bool, println func(...any)) error {
	// A memory store lives inside one server process; a fresh one here would be empty.
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("user administration requires STORE_DRIVER=%s", config.StoreDriverPostgres)
	}

	store, err := app.OpenStore(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer store.Close()

	return changeUserState(ctx, cfg, store.Users, log, username, disabled, println)
}

// changeUserState flips the disabled flag through the same cache layer the
// server reads from, so a cached copy cannot outlive the change.
func changeUserState(ctx context.Context, cfg *config.Config, users repository.UserRepository, log *slog.Logger, username string, disabled bool, println func(...any)) error {
	users, client, err := app.OpenUserCache(ctx, cfg, users, log)
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}

	publisher, producer := app.NewPublisher(cfg, nil, log)
	if producer != nil {
		defer producer.Close()
	}

	services, err := app.NewServices(cfg, users, publisher, log)
	if err != nil {
		return err
	}
	if err := services.Auth.SetDisabled(ctx, username, disabled); err != nil {
		return err
	}

	state := "enabled"
	if disabled {
		state = "disabled"
	}
	println(fmt.Sprintf("user %s %s", username, state))
	return nil
}

func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger.New(app.ServiceName, cfg.LogLevel), nil
}
