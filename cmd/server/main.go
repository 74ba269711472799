package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openmined/syftsync/internal/server"
	"github.com/openmined/syftsync/internal/version"
)

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(handler))

	// secrets like SYFTSYNC_AUTH_REFRESH_TOKEN_SECRET and SENDGRID_API_KEY
	// come from the environment; a .env next to the binary works in dev
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:     "syftsync-server",
		Short:   "SyftSync coordination server",
		Version: version.Detailed(),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var config server.Config
			if err := viper.Unmarshal(&config); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			cmd.SilenceUsage = true
			s, err := server.New(&config)
			if err != nil {
				return err
			}
			defer slog.Info("Bye!")
			return s.Start(cmd.Context())
		},
	}

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("bind", "b", server.DefaultAddr, "Address to bind")
	rootCmd.Flags().StringP("cert", "c", "", "TLS certificate file")
	rootCmd.Flags().StringP("key", "k", "", "TLS key file")
	rootCmd.Flags().StringP("snapshot", "s", "data/snapshot", "Snapshot directory")
	rootCmd.Flags().StringP("db", "d", "data/syftsync.db", "Metadata database path")
	rootCmd.Flags().String("config", "", "Config file (yaml)")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("config read '%s': %w", configFilePath, err)
		}
	}

	viper.BindPFlag("http.addr", cmd.Flags().Lookup("bind"))
	viper.BindPFlag("http.cert_file", cmd.Flags().Lookup("cert"))
	viper.BindPFlag("http.key_file", cmd.Flags().Lookup("key"))
	viper.BindPFlag("data.snapshot_dir", cmd.Flags().Lookup("snapshot"))
	viper.BindPFlag("data.db_path", cmd.Flags().Lookup("db"))

	viper.SetDefault("rate_limit", server.DefaultRateLimit)
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.token_issuer", "syftsync")
	viper.SetDefault("auth.access_token_expiry", 24*time.Hour)
	viper.SetDefault("auth.refresh_token_expiry", 30*24*time.Hour)
	viper.SetDefault("auth.email_otp_length", 8)
	viper.SetDefault("auth.email_otp_expiry", 15*time.Minute)

	viper.SetEnvPrefix("SYFTSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return nil
}
