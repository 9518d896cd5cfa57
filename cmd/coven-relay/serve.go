// ABOUTME: The serve subcommand wires the store, provider client, relay, Matrix bridge and HTTP API
// ABOUTME: Runs the bridge and HTTP server together until a signal arrives

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/auth"
	"github.com/2389/coven-relay/internal/completion"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/httpapi"
	"github.com/2389/coven-relay/internal/matrix"
	"github.com/2389/coven-relay/internal/relay"
	"github.com/2389/coven-relay/internal/store"
)

const deviceDisplayName = "coven-relay"

func runServe(ctx context.Context) error {
	configPath := getConfigPath()
	dataPath := getDataPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)
	printStartup(configPath, cfg)

	sessions, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer sessions.Close()

	providers, err := cfg.ProviderRegistry()
	if err != nil {
		return fmt.Errorf("building provider registry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	completer := completion.NewClient(cfg.Provider.BaseURL, cfg.Provider.RequestTimeout)
	rl, err := relay.New(relay.Config{
		Store:            sessions,
		Completer:        completer,
		Providers:        providers,
		RequestTimeout:   completer.Timeout(),
		MaxSegmentLength: cfg.Relay.MaxSegmentLength,
		Metrics:          relay.NewMetrics(registry),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	client, err := loginMatrix(ctx, cfg.Matrix, logger)
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" || cfg.Matrix.CryptoDB != "" {
		cryptoMgr, err := SetupCrypto(ctx, client, cfg.Matrix.RecoveryKey, cfg.Matrix.CryptoDB, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled (no recovery key or crypto_db)")
	}

	bridge := matrix.NewBridge(client, rl, matrix.Options{
		UserID:          client.UserID,
		CommandPrefix:   cfg.Matrix.CommandPrefix,
		AllowedRooms:    cfg.Matrix.AllowedRooms,
		AllowedUsers:    cfg.Matrix.AllowedUsers,
		TypingIndicator: cfg.Matrix.TypingIndicator,
	}, logger)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		v, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
		verifier = v
	} else {
		logger.Warn("auth.jwt_secret not set, /announcement is unauthenticated")
	}

	srv := httpapi.New(httpapi.Options{
		Server:    cfg.Server,
		Tailscale: cfg.Tailscale,
		Metrics:   cfg.Metrics,
		Store:     sessions,
		Announcer: bridge,
		Verifier:  verifier,
		Gatherer:  registry,
		Logger:    logger,
	})

	logger.Info("starting coven-relay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
		"default_provider", providers.Default().Key,
		"provider_timeout", completer.Timeout(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bridge.Run(gctx, client) })
	g.Go(func() error { return srv.Run(gctx) })
	return g.Wait()
}

func printStartup(configPath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Provider:   %s\n", cfg.Provider.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:  ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()
}

// loginMatrix returns a client authenticated with the configured access
// token, or logs in with the password when no token is set.
func loginMatrix(ctx context.Context, cfg config.MatrixConfig, logger *slog.Logger) (*mautrix.Client, error) {
	logger = logger.With("component", "matrix")
	userID := id.UserID(cfg.UserID)

	client, err := mautrix.NewClient(cfg.Homeserver, userID, cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	if cfg.AccessToken == "" {
		resp, err := client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: userID.Localpart(),
			},
			Password:                 cfg.Password,
			DeviceID:                 id.DeviceID(cfg.DeviceID),
			InitialDeviceDisplayName: deviceDisplayName,
			StoreCredentials:         true,
		})
		if err != nil {
			return nil, fmt.Errorf("password login: %w", err)
		}
		logger.Info("logged in with password", "user_id", resp.UserID, "device_id", resp.DeviceID)
		return client, nil
	}

	client.DeviceID = id.DeviceID(cfg.DeviceID)
	whoami, err := client.Whoami(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating access token: %w", err)
	}
	if whoami.UserID != userID {
		return nil, fmt.Errorf("access token belongs to %s, not %s", whoami.UserID, userID)
	}
	if client.DeviceID == "" {
		client.DeviceID = whoami.DeviceID
	}
	logger.Info("using access token", "user_id", whoami.UserID, "device_id", client.DeviceID)
	return client, nil
}
