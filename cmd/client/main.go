package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openmined/syftsync/internal/client"
	"github.com/openmined/syftsync/internal/client/config"
	"github.com/openmined/syftsync/internal/syftsdk"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/openmined/syftsync/internal/version"
)

var (
	home, _        = os.UserHomeDir()
	defaultDataDir = filepath.Join(home, "SyftSync")
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "syftsync",
	Short:   "SyftSync sync agent",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Path:         configPath(),
			Email:        viper.GetString("email"),
			DataDir:      viper.GetString("data_dir"),
			ServerURL:    viper.GetString("server_url"),
			RefreshToken: viper.GetString("refresh_token"),
			AccessToken:  viper.GetString("access_token"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		c, err := client.New(cfg)
		if err != nil {
			return err
		}
		defer slog.Info("Bye!")
		return c.Start(cmd.Context())
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain sync tokens via an emailed one-time code",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		email := viper.GetString("email")
		serverURL := viper.GetString("server_url")
		code, _ := cmd.Flags().GetString("code")

		if code == "" {
			if err := syftsdk.RequestEmailToken(cmd.Context(), serverURL, email); err != nil {
				return err
			}
			fmt.Printf("Code sent to %s. Finish with:\n  syftsync login -e %s --code <code>\n", email, email)
			return nil
		}

		pair, err := syftsdk.ValidateEmailToken(cmd.Context(), serverURL, &syftsdk.ValidateEmailTokenRequest{
			Email: email,
			Code:  code,
		})
		if err != nil {
			return err
		}

		cfg := &config.Config{
			Path:      configPath(),
			Email:     email,
			DataDir:   viper.GetString("data_dir"),
			ServerURL: serverURL,
		}
		cfg.SetTokens(pair.AccessToken, pair.RefreshToken)
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s. Config saved to %s\n", email, cfg.Path)
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("email", "e", "", "Email of the datasite owner")
	rootCmd.Flags().StringP("datadir", "d", defaultDataDir, "Data directory")
	rootCmd.Flags().StringP("server", "s", config.DefaultServerURL, "Server URL")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "Config file")

	loginCmd.Flags().StringP("email", "e", "", "Email of the datasite owner")
	loginCmd.Flags().StringP("datadir", "d", defaultDataDir, "Data directory")
	loginCmd.Flags().StringP("server", "s", config.DefaultServerURL, "Server URL")
	loginCmd.Flags().String("code", "", "One-time code from the login email")
	rootCmd.AddCommand(loginCmd)
}

func main() {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	handlers := []slog.Handler{stdoutHandler}
	if file, err := openLogFile(config.DefaultLogFilePath); err != nil {
		fmt.Fprintf(os.Stderr, "log file unavailable, logging to stdout only: %v\n", err)
	} else {
		defer file.Close()
		handlers = append(handlers, slog.NewTextHandler(file, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return config.DefaultConfigPath
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".syftsync"))
		viper.AddConfigPath(filepath.Join(home, ".config/syftsync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("email", cmd.Flags().Lookup("email"))
	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))

	viper.SetEnvPrefix("SYFTSYNC")
	viper.AutomaticEnv()
	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("%s\n", version.DetailedWithApp())
}
