package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"inbox-hub/internal/auth"
	"inbox-hub/internal/config"
	"inbox-hub/internal/logger"
	"inbox-hub/internal/storage"
)

// @title Inbox Hub API
// @version 1.0
// @description Multi-tenant inbox for WhatsApp, Instagram and Messenger conversations
// @host localhost:8080
// @BasePath /
// @schemes http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

var configPath string

var rootCmd = &cobra.Command{
	Use:           "inboxhub",
	Short:         "Multi-tenant messaging inbox with bot auto-replies",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to config.yaml")
	rootCmd.AddCommand(serveCmd, migrateCmd, tenantCmd, tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// bootstrap loads the config and sets up logging and the JWT secret.
func bootstrap() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)
	auth.SetSecret(cfg.Auth.JWTSecret)
	return cfg, log, nil
}

func openStorage(cfg *config.Config) (*storage.Storage, error) {
	db, err := storage.NewStorage(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	return db, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		if err := storage.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		log.Info("migrations applied")
		return nil
	},
}
