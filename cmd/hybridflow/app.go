package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/opentalon/hybridflow/internal/config"
	"github.com/opentalon/hybridflow/internal/connector"
	"github.com/opentalon/hybridflow/internal/lua"
	"github.com/opentalon/hybridflow/internal/metrics"
	"github.com/opentalon/hybridflow/internal/runner"
	"github.com/opentalon/hybridflow/internal/state"
	"github.com/opentalon/hybridflow/internal/state/store"
	"github.com/opentalon/hybridflow/internal/synthesis"
)

// app holds the wired dependencies shared by the CLI and server modes.
type app struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	runner   *runner.Runner
	closers  []io.Closer
	browsers []*connector.BrowserConnector
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	a := &app{
		logger:   slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	router, browsers, err := buildRouter(ctx, cfg, m)
	a.browsers = browsers
	if err != nil {
		a.Close()
		return nil, err
	}

	var ai connector.Connector
	if name := cfg.Synthesis.AIConnector; name != "" {
		ai, _ = router.Get(name)
	}
	synth := synthesis.NewRegistry(ai, synthesis.WithMetrics(m))

	var migrate state.Migrator
	if script := cfg.State.MigrationScript; script != "" {
		if migrate, err = lua.LoadMigrator(script); err != nil {
			a.Close()
			return nil, fmt.Errorf("migration script: %w", err)
		}
	}

	st, err := a.openStore(ctx, cfg.State, migrate)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = runner.New(router, synth, st, m, a.logger)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}
	a.closers = nil
	for _, b := range a.browsers {
		b.Logout()
	}
	a.browsers = nil
}

// buildRouter registers every configured connector. Browser connectors try
// to log in; one that cannot stays registered but unavailable. The browser
// connectors are returned so the caller can close their browsers.
func buildRouter(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*connector.Router, []*connector.BrowserConnector, error) {
	router := connector.NewRouter(connector.WithMetrics(m))
	var browsers []*connector.BrowserConnector
	for _, name := range cfg.ConnectorNames() {
		cc := cfg.Connectors[name]
		conn, err := connector.FromConfig(connectorConfig(name, cc))
		if err != nil {
			return nil, browsers, err
		}
		if b, ok := conn.(*connector.BrowserConnector); ok {
			browsers = append(browsers, b)
			if err := b.Login(ctx); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
		router.Register(conn, cc.Priority)
	}
	return router, browsers, nil
}

func connectorConfig(name string, cc config.ConnectorConfig) connector.Config {
	return connector.Config{
		Name:      name,
		Type:      connector.Type(cc.Type),
		API:       cc.API,
		BaseURL:   cc.BaseURL,
		APIKey:    cc.APIKey,
		Model:     cc.Model,
		MaxTokens: cc.MaxTokens,
		TargetURL: cc.TargetURL,
		RemoteURL: cc.RemoteURL,
		Selectors: connector.Selectors{
			Input:    cc.Selectors.Input,
			Submit:   cc.Selectors.Submit,
			Response: cc.Selectors.Response,
		},
		Timeout: cc.TimeoutDuration(),
	}
}

func (a *app) openStore(ctx context.Context, sc config.StateConfig, migrate state.Migrator) (state.Store, error) {
	switch sc.Backend {
	case config.BackendSQLite, config.BackendPostgres:
		var db *store.DB
		var err error
		if sc.Backend == config.BackendSQLite {
			db, err = store.Open(sc.Dir)
		} else {
			db, err = store.OpenPostgres(sc.DSN)
		}
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)
		sessions := store.NewSessionStore(db, migrate, sc.MaxIdleDays)
		if n, err := sessions.PruneIdleSessions(ctx); err != nil {
			a.logger.Warn("pruning idle sessions failed", "error", err)
		} else if n > 0 {
			a.logger.Info("pruned idle sessions", "count", n)
		}
		return sessions, nil
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("state store: redis ping: %w", err)
		}
		a.closers = append(a.closers, client)
		return store.NewRedisSessionStore(client, sc.Redis.Prefix, migrate), nil
	default:
		return state.NewFileStore(filepath.Join(sc.Dir, "sessions"), migrate), nil
	}
}
