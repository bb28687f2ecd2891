package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/iotdash/iotdash/internal/config"
	"github.com/iotdash/iotdash/internal/keys"
	"github.com/iotdash/iotdash/internal/kv"
	"github.com/iotdash/iotdash/internal/model"
	"github.com/iotdash/iotdash/internal/policy"
	"github.com/iotdash/iotdash/internal/ratelimit"
	"github.com/iotdash/iotdash/internal/service"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir,
// database.data_dir (file or IOTDASH_DATABASE_DATA_DIR), or ~/.iotdash.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if cfg != nil && cfg.Database.DataDir != "" {
		return cfg.Database.DataDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".iotdash")
}

// loadConfig reads the YAML file viper located, if any, on top of the
// defaults, then applies IOTDASH_* environment variables and bound flags.
func loadConfig() (*config.YAMLConfig, error) {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := config.LoadYAMLConfig(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else if cfgFile != "" {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	overlayString("server.host", &cfg.Server.Host)
	overlayInt("server.port", &cfg.Server.Port)
	overlayInt64("server.max_body_size", &cfg.Server.MaxBodySize)
	overlayString("server.shutdown_timeout", &cfg.Server.ShutdownTimeout)
	overlayString("server.static_dir", &cfg.Server.StaticDir)
	overlayBool("server.trust_proxy", &cfg.Server.TrustProxy)
	if viper.IsSet("server.cors.origins") {
		cfg.Server.CORS.Origins = viper.GetStringSlice("server.cors.origins")
	}

	overlayString("auth.private_key_path", &cfg.Auth.PrivateKeyPath)
	overlayString("auth.public_key_path", &cfg.Auth.PublicKeyPath)
	overlayString("auth.algorithm", &cfg.Auth.Algorithm)
	overlayString("auth.expire", &cfg.Auth.Expire)
	overlayString("auth.system_expire", &cfg.Auth.SystemExpire)
	overlayString("auth.directory_timeout", &cfg.Auth.DirectoryTimeout)

	overlayString("database.driver", &cfg.Database.Driver)
	overlayString("database.dsn", &cfg.Database.DSN)
	overlayString("database.data_dir", &cfg.Database.DataDir)

	overlayString("redis.addr", &cfg.Redis.Addr)
	overlayString("redis.password", &cfg.Redis.Password)
	overlayInt("redis.db", &cfg.Redis.DB)

	overlayString("ratelimit.window", &cfg.RateLimit.Window)
	overlayInt64("ratelimit.default_limit", &cfg.RateLimit.DefaultLimit)
	overlayString("ratelimit.override_ttl", &cfg.RateLimit.OverrideTTL)
	overlayInt("ratelimit.login_per_minute", &cfg.RateLimit.LoginPerMinute)

	overlayString("authz.no_account_role", &cfg.Authz.NoAccountRole)

	overlayString("logging.level", &cfg.Logging.Level)
	overlayString("logging.format", &cfg.Logging.Format)
	return cfg, nil
}

func overlayString(key string, dst *string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func overlayBool(key string, dst *bool) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}

func overlayInt(key string, dst *int) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func overlayInt64(key string, dst *int64) {
	if viper.IsSet(key) {
		*dst = viper.GetInt64(key)
	}
}

// newLogger builds the process logger from the logging section. dev forces
// debug level.
func newLogger(cfg *config.YAMLConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the directory database: database.dsn with
// database.driver when a DSN is given, else SQLite under the data dir.
func openStore(cfg *config.YAMLConfig) (*config.Store, error) {
	if cfg.Database.DSN != "" {
		return config.Open(cfg.Database.Driver, cfg.Database.DSN)
	}
	return config.NewStore(resolveDataDir(cfg))
}

// counterStore is what the rate limiter needs from kv.
type counterStore interface {
	ratelimit.Counter
	ratelimit.OverrideCache
	Ping(ctx context.Context) error
	Close() error
}

// openCounters connects to Redis when redis.addr is set and otherwise
// returns an in-process store, which is only correct for one replica.
func openCounters(ctx context.Context, cfg *config.YAMLConfig, logger *slog.Logger) (counterStore, error) {
	window, err := config.Duration(cfg.RateLimit.Window, 0)
	if err != nil {
		return nil, fmt.Errorf("ratelimit.window: %w", err)
	}
	ttl, err := config.Duration(cfg.RateLimit.OverrideTTL, 0)
	if err != nil {
		return nil, fmt.Errorf("ratelimit.override_ttl: %w", err)
	}
	opts := kv.Options{Window: window, OverrideTTL: ttl}

	if cfg.Redis.Addr == "" {
		logger.Warn("redis.addr not set, using in-process rate limit counters")
		return kv.NewMemoryStore(opts), nil
	}
	store, err := kv.NewRedisStore(ctx, kv.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("redis counter store connected", "addr", cfg.Redis.Addr)
	return store, nil
}

// loadTables compiles the route and role tables from authz, falling back
// to the built-in tables.
func loadTables(cfg *config.YAMLConfig) (*policy.Tables, error) {
	specs := make([]policy.RuleSpec, 0, len(cfg.Authz.Routes))
	for _, r := range cfg.Authz.Routes {
		specs = append(specs, policy.RuleSpec{
			Path:         r.Path,
			Method:       r.Method,
			Scope:        r.Scope,
			Limit:        r.Limit,
			AccountParam: r.AccountParam,
		})
	}
	required := []string{model.RoleAnon, model.RoleNewUser}
	if cfg.Authz.NoAccountRole != "" {
		required = append(required, cfg.Authz.NoAccountRole)
	}
	return policy.Load(specs, cfg.Authz.Roles, required...)
}

// tokenConfig parses the auth section's durations.
func tokenConfig(cfg *config.YAMLConfig) (service.TokenConfig, error) {
	var (
		tc  = service.TokenConfig{Algorithm: cfg.Auth.Algorithm}
		err error
	)
	if tc.Expire, err = config.Duration(cfg.Auth.Expire, 0); err != nil {
		return tc, fmt.Errorf("auth.expire: %w", err)
	}
	if tc.SystemExpire, err = config.Duration(cfg.Auth.SystemExpire, 0); err != nil {
		return tc, fmt.Errorf("auth.system_expire: %w", err)
	}
	if tc.DirectoryTimeout, err = config.Duration(cfg.Auth.DirectoryTimeout, 0); err != nil {
		return tc, fmt.Errorf("auth.directory_timeout: %w", err)
	}
	return tc, nil
}

// loadKeyPair loads the signing pair. When the private key is absent but
// the public key exists, the pair is verify-only and logins will fail.
func loadKeyPair(cfg *config.YAMLConfig, logger *slog.Logger) (*keys.Pair, error) {
	pair, err := keys.Load(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath)
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	pub, pubErr := keys.LoadPublic(cfg.Auth.PublicKeyPath)
	if pubErr != nil {
		return nil, fmt.Errorf("%w (run 'iotdash keys generate' to create a key pair)", err)
	}
	logger.Warn("private key not found, tokens can be verified but not issued",
		"private_key_path", cfg.Auth.PrivateKeyPath)
	return &keys.Pair{Public: pub}, nil
}

// newAuthService wires the token and auth services against store.
func newAuthService(cfg *config.YAMLConfig, store *config.Store, logger *slog.Logger) (*service.AuthService, error) {
	pair, err := loadKeyPair(cfg, logger)
	if err != nil {
		return nil, err
	}
	tc, err := tokenConfig(cfg)
	if err != nil {
		return nil, err
	}
	tokens, err := service.NewTokenService(pair, store, tc)
	if err != nil {
		return nil, err
	}
	return service.NewAuthService(store, tokens), nil
}

// cliLogger is used by one-shot commands; only warnings reach the terminal.
func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
