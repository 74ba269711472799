// Package client runs the sync agent: workspace, SDK, and the sync engine.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/syftsync/internal/client/config"
	"github.com/openmined/syftsync/internal/client/sync"
	"github.com/openmined/syftsync/internal/client/workspace"
	"github.com/openmined/syftsync/internal/syftsdk"
)

// the SDK's sync API is the engine's transport
var _ sync.Transport = (*syftsdk.SyncAPI)(nil)

type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
	sdk       *syftsdk.SDK
	engine    *sync.Engine
}

func New(cfg *config.Config) (*Client, error) {
	ws, err := workspace.NewWorkspace(cfg.DataDir, cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	c := &Client{config: cfg, workspace: ws}

	sdk, err := syftsdk.New(&syftsdk.Config{
		BaseURL:      cfg.ServerURL,
		Email:        cfg.Email,
		RefreshToken: cfg.RefreshToken,
		AccessToken:  cfg.AccessToken,
		OnTokenRefresh: func(accessToken, refreshToken string) {
			cfg.SetTokens(accessToken, refreshToken)
			if err := cfg.Save(); err != nil {
				slog.Error("failed to persist refreshed tokens", "error", err)
			}
			// fresh credentials lift any authentication pause
			if c.engine != nil {
				c.engine.Resume()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sdk: %w", err)
	}

	c.sdk = sdk
	c.engine = sync.NewEngine(cfg.Email, ws.DatasitesDir, sdk.Sync)
	return c, nil
}

// Start runs the agent until the context is canceled.
func (c *Client) Start(ctx context.Context) error {
	slog.Info("client start", "datadir", c.config.DataDir, "email", c.config.Email, "server", c.config.ServerURL)

	if err := c.workspace.Setup(); err != nil {
		return fmt.Errorf("workspace setup: %w", err)
	}
	defer func() {
		if err := c.workspace.Unlock(); err != nil {
			slog.Warn("workspace unlock failed", "error", err)
		}
	}()

	// idempotent: an existing registration is not an error
	if err := c.sdk.Register(ctx); err != nil && !errors.Is(err, syftsdk.ErrAlreadyExists) {
		return fmt.Errorf("register: %w", err)
	}

	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("sync engine: %w", err)
	}

	<-ctx.Done()
	slog.Info("shutting down client")

	c.engine.Stop()
	c.sdk.Close()
	slog.Info("client stopped")
	return nil
}
