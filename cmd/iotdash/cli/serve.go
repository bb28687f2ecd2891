package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/ratelimit"
	"github.com/iotdash/iotdash/internal/server"
)

const banner = `
 _       _      _           _
(_) ___ | |_ __| | __ _ ___| |__
| |/ _ \| __/ _` + "`" + ` |/ _` + "`" + ` / __| '_ \
| | (_) | || (_| | (_| \__ \ | | |
|_|\___/ \__\__,_|\__,_|___/_| |_|
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API server",
		Long:  "Start the HTTP server that authorizes, rate limits and serves the dashboard API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().String("static-dir", "", "Directory of dashboard UI files served at / and /ui/")
	cmd.Flags().String("redis", "", "Redis address for shared rate limit counters")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("server.static_dir", cmd.Flags().Lookup("static-dir"))
	viper.BindPFlag("redis.addr", cmd.Flags().Lookup("redis"))

	return cmd
}

func runServe(dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, dev)
	ctx := context.Background()

	shutdown, err := config.Duration(cfg.Server.ShutdownTimeout, server.DefaultConfig().ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}

	// 1. Route and role tables. Bad tables refuse startup.
	tables, err := loadTables(cfg)
	if err != nil {
		return fmt.Errorf("authorization tables: %w", err)
	}
	logger.Info("authorization tables loaded", "routes", tables.Routes.Len(), "roles", len(tables.Roles.Roles()))

	// 2. Directory database
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init directory store: %w", err)
	}
	logger.Info("directory store initialized", "driver", cfg.Database.Driver)

	// 3. Token signing
	authSvc, err := newAuthService(cfg, store, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("init token service: %w", err)
	}

	// 4. Rate limit counters and override cache
	counters, err := openCounters(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("init counter store: %w", err)
	}
	overrides := ratelimit.NewOverrideLookup(counters, store, logger)
	limiter := ratelimit.NewLimiter(counters, overrides, cfg.RateLimit.DefaultLimit)

	// 5. HTTP server
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdown,
		CORSOrigins:     cfg.Server.CORS.Origins,
		MaxBodySize:     cfg.Server.MaxBodySize,
		StaticDir:       cfg.Server.StaticDir,
		NoAccountRole:   cfg.Authz.NoAccountRole,
		LoginPerMinute:  cfg.RateLimit.LoginPerMinute,
		TrustProxy:      cfg.Server.TrustProxy,
	}
	srv := server.New(srvCfg, server.Deps{
		Store:     store,
		Auth:      authSvc,
		Tables:    tables,
		Limiter:   limiter,
		Overrides: overrides,
		Counters:  counters,
	}, logger)

	fmt.Printf("→ iotdash %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Server.StaticDir != "" {
		fmt.Printf("→ Dashboard:  http://%s:%d/\n", cfg.Server.Host, cfg.Server.Port)
	}
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
