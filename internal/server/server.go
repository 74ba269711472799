// Package server wires the coordination server: sqlite-backed metadata
// store, permission evaluator, sync endpoints, and the auth flow.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openmined/syftsync/internal/db"
	"github.com/openmined/syftsync/internal/server/auth"
	"github.com/openmined/syftsync/internal/server/store"
	syncsvc "github.com/openmined/syftsync/internal/server/sync"
)

const shutdownGrace = 5 * time.Second

type Server struct {
	config  *Config
	server  *http.Server
	store   *store.Store
	authSvc *auth.Service
	syncSvc *syncsvc.Service
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	sqldb, err := db.NewSqliteDb(db.WithPath(config.Data.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	st, err := store.New(sqldb)
	if err != nil {
		sqldb.Close()
		return nil, err
	}

	syncSvc, err := syncsvc.NewService(config.Data.SnapshotDir, st)
	if err != nil {
		sqldb.Close()
		return nil, err
	}

	authSvc := auth.NewService(config.Auth)

	return &Server{
		config:  config,
		store:   st,
		authSvc: authSvc,
		syncSvc: syncSvc,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: SetupRoutes(config, authSvc, syncSvc),
		},
	}, nil
}

// Start rescans the snapshot folder, then serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("syftsync server start", "addr", s.config.HTTP.Addr)
	defer slog.Info("syftsync server stop")

	if err := s.syncSvc.Rescan(ctx); err != nil {
		return fmt.Errorf("startup rescan: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.serveHTTP(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Stop()
	})

	return g.Wait()
}

func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.store.Close()
}

func (s *Server) serveHTTP() error {
	if s.config.HTTP.CertFile != "" && s.config.HTTP.KeyFile != "" {
		slog.Info("server start tls", "addr", s.config.HTTP.Addr)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
