// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/relaybridge/pkg/config"
	"github.com/aiku/relaybridge/pkg/correlation"
	"github.com/aiku/relaybridge/pkg/platform"
	"github.com/aiku/relaybridge/pkg/platform/discord"
	"github.com/aiku/relaybridge/pkg/platform/matrix"
	"github.com/aiku/relaybridge/pkg/platform/mattermost"
	"github.com/aiku/relaybridge/pkg/platform/onebot"
	"github.com/aiku/relaybridge/pkg/relay"
	"github.com/aiku/relaybridge/pkg/transform"
)

const (
	loginTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newRunCommand() *cobra.Command {
	var envFile string
	var noSave bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the bots and relay messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(configPath, !noSave)
			if err != nil {
				return err
			}
			log, err := cfg.Logging.Compile()
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}
			exzerolog.SetupDefaults(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, *log)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file with RELAYBRIDGE_* overrides")
	cmd.Flags().BoolVar(&noSave, "no-update", false, "don't write the upgraded config back to disk")
	return cmd
}

// buildClients creates one client per configured bot connection.
func buildClients(cfg *config.Config, fetcher transform.Fetcher, log zerolog.Logger) ([]platform.Client, error) {
	clients := make([]platform.Client, 0, cfg.Bots.Count())
	for _, bc := range cfg.Bots.OneBot {
		clients = append(clients, onebot.New(bc, fetcher, log))
	}
	for i, bc := range cfg.Bots.Discord {
		c, err := discord.New(bc, fetcher, log)
		if err != nil {
			return nil, fmt.Errorf("discord bot %d: %w", i, err)
		}
		clients = append(clients, c)
	}
	for _, bc := range cfg.Bots.Mattermost {
		clients = append(clients, mattermost.New(bc, fetcher, log))
	}
	for i, bc := range cfg.Bots.Matrix {
		c, err := matrix.New(bc, fetcher, log)
		if err != nil {
			return nil, fmt.Errorf("matrix bot %d: %w", i, err)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	store, err := correlation.OpenSQLite(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer store.Close()

	fetcher := transform.NewHTTPFetcher(cfg.Transform.FetchTimeoutDuration())
	engine := transform.NewDefaultEngine(log, cfg.Transform.Options())

	clients, err := buildClients(cfg, fetcher, log)
	if err != nil {
		return err
	}
	stopClients := sync.OnceFunc(func() {
		for _, c := range clients {
			c.Stop()
		}
	})
	defer stopClients()

	bots := make([]relay.Bot, 0, len(clients))
	for _, c := range clients {
		loginCtx, cancel := context.WithTimeout(ctx, loginTimeout)
		err := c.Login(loginCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("%s login failed: %w", c.Platform(), err)
		}
		bots = append(bots, c)
	}

	bridge, err := relay.NewBridge(&cfg.Config, bots, store, engine, log)
	if err != nil {
		return err
	}
	bridge.Start(ctx)
	for _, c := range clients {
		if err := c.Start(ctx, bridge); err != nil {
			return fmt.Errorf("failed to start %s bot %s: %w", c.Platform(), c.SelfID(), err)
		}
	}

	var admin *http.Server
	if cfg.AdminAPI.Addr != "" {
		admin = relay.NewAdminServer(cfg.AdminAPI.Addr, store, log)
		go func() {
			log.Info().Str("addr", admin.Addr).Msg("Starting admin API")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Err(err).Msg("Admin API stopped")
			}
		}()
	}

	log.Info().Int("bots", len(clients)).Int("rules", len(cfg.Rules)).Msg("Relay running")
	<-ctx.Done()
	log.Info().Msg("Shutting down")

	stopClients()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to stop admin API")
		}
	}
	return bridge.Stop(shutdownCtx)
}
