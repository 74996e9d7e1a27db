package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joss/lumina/internal/chat"
	"github.com/joss/lumina/internal/config"
	"github.com/joss/lumina/internal/health"
	"github.com/joss/lumina/internal/ingest"
	"github.com/joss/lumina/internal/logging"
	"github.com/joss/lumina/internal/metrics"
	"github.com/joss/lumina/internal/provider"
	"github.com/joss/lumina/internal/runtime"
	"github.com/joss/lumina/internal/server"
	"github.com/joss/lumina/internal/session"
	"github.com/joss/lumina/internal/tokens"
	"github.com/joss/lumina/pkg/llm"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Lumina HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :8080)")
	return cmd
}

// openStore builds the configured session backend.
func openStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	opts := []session.Option{session.WithHistoryLimit(cfg.Session.HistoryLimit)}
	if cfg.Session.Backend == config.BackendSQLite {
		return session.NewSQLiteStore(ctx, cfg.Session.DSN, opts...)
	}
	return session.NewMemoryStore(opts...), nil
}

// chatOptions maps the chat config onto orchestrator options. An unset
// model leaves the Groq default in place and otherwise defers to the
// provider's own default.
func chatOptions(cfg config.ChatConfig, kind provider.ProviderType, m *metrics.Metrics) []chat.Option {
	opts := []chat.Option{
		chat.WithTemperature(cfg.Temperature),
		chat.WithStreamTimeout(cfg.StreamTimeout),
		chat.WithMetrics(m),
	}
	switch {
	case cfg.Model != "":
		opts = append(opts, chat.WithModel(cfg.Model))
	case kind != provider.ProviderGroq:
		opts = append(opts, chat.WithModel(""))
	}
	if cfg.TokenEstimates {
		opts = append(opts, chat.WithTokenCounter(tokens.NewCounter()))
	}
	return opts
}

// pinger is implemented by session backends with a live connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthChecks reports the session backend and whether the server can
// answer requests that carry no keys of their own.
func healthChecks(store session.Store, validator server.KeyValidator, creds llm.Credentials) *health.Checker {
	c := health.New()
	if p, ok := store.(pinger); ok {
		c.Register("sessions", p.Ping)
	}
	c.Register("server_keys", func(context.Context) error {
		return health.Degraded(validator.Validate(creds))
	})
	return c
}

func runServer(cfg *config.Config) error {
	log := logging.New("serve")
	logging.SetLevel(logging.ParseLevel(cfg.Log.Level))

	kind, err := provider.ParseProviderType(cfg.Chat.Provider)
	if err != nil {
		return err
	}

	shutdown := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	ctx := shutdown.Context()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		shutdown.RegisterCloser("sessions", c)
	}

	m := metrics.Global()
	factory := provider.NewFactory(kind)
	orch := chat.New(store, factory, chatOptions(cfg.Chat, kind, m)...)
	ingestor := ingest.NewService(nil, ingest.WithRegistry(ingest.NewRegistry()))

	srv := server.New(orch, store, ingestor, factory,
		server.WithAddr(cfg.Server.Addr),
		server.WithFallbackCredentials(config.Env().Credentials()),
		server.WithMetrics(m),
		server.WithMaxUploadBytes(int64(cfg.Server.MaxUploadMB)<<20),
		server.WithHealth(healthChecks(store, factory, config.Env().Credentials())),
	)

	if cfg.Server.MetricsPort > 0 {
		ms := metrics.NewServer(cfg.Server.MetricsPort, m)
		if err := ms.Start(); err != nil {
			return err
		}
		shutdown.Register("metrics", ms.Stop)
	}
	shutdown.Register("http", srv.Shutdown)
	shutdown.ListenForSignals()

	log.Info("starting", map[string]any{
		"addr":     cfg.Server.Addr,
		"provider": string(kind),
		"sessions": cfg.Session.Backend,
	})

	return shutdown.Run(srv.ListenAndServe)
}
