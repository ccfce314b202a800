package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/MrEthical07/tripauth"
	"github.com/MrEthical07/tripauth/internal/httpapi"
	"github.com/MrEthical07/tripauth/internal/logging"
	"github.com/MrEthical07/tripauth/internal/xdg"
	"github.com/MrEthical07/tripauth/notify"
)

var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

// setDefaults seeds v with the engine and server defaults so that every key
// is visible to AutomaticEnv.
func setDefaults(v *viper.Viper) {
	def := tripauth.DefaultConfig()
	srv := httpapi.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("server.addr", srv.Addr)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.cors_origins", srv.CORSOrigins)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.requests_per_minute", srv.RequestsPerMinute)
	v.SetDefault("server.max_body_size", srv.MaxBodySize)

	v.SetDefault("jwt.access_ttl", def.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", def.JWT.RefreshTTL)
	v.SetDefault("jwt.signing_method", def.JWT.SigningMethod)
	v.SetDefault("jwt.issuer", def.JWT.Issuer)
	v.SetDefault("jwt.leeway", def.JWT.Leeway)
	v.SetDefault("jwt.key_id", "")

	v.SetDefault("password.algorithm", def.Password.Algorithm)
	v.SetDefault("password.bcrypt_cost", def.Password.BcryptCost)
	v.SetDefault("password.min_length", def.Password.MinLength)
	v.SetDefault("password.max_length", def.Password.MaxLength)

	v.SetDefault("tokens.verify_email_ttl", def.Tokens.VerifyEmailTTL)
	v.SetDefault("tokens.reset_password_ttl", def.Tokens.ResetPasswordTTL)

	v.SetDefault("rate_limit.backend", def.RateLimit.Backend)
	v.SetDefault("rate_limit.user.window", def.RateLimit.User.Window)
	v.SetDefault("rate_limit.user.max_attempts", def.RateLimit.User.MaxAttempts)
	v.SetDefault("rate_limit.admin.window", def.RateLimit.Admin.Window)
	v.SetDefault("rate_limit.admin.max_attempts", def.RateLimit.Admin.MaxAttempts)
	v.SetDefault("rate_limit.password_reset.window", def.RateLimit.PasswordReset.Window)
	v.SetDefault("rate_limit.password_reset.max_attempts", def.RateLimit.PasswordReset.MaxAttempts)
	v.SetDefault("rate_limit.verification.window", def.RateLimit.Verification.Window)
	v.SetDefault("rate_limit.verification.max_attempts", def.RateLimit.Verification.MaxAttempts)

	v.SetDefault("storage.driver", def.Storage.Driver)
	v.SetDefault("storage.data_dir", xdg.DataDir())
	v.SetDefault("storage.key_dir", xdg.KeyDir())
	v.SetDefault("storage.token_backend", def.Storage.TokenBackend)

	v.SetDefault("revocation.backend", def.Revocation.Backend)

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.queue", notify.DefaultQueue)

	v.SetDefault("settings.file", filepath.Join(xdg.ConfigDir(), "settings.yaml"))

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("audit.enabled", def.Audit.Enabled)
}

// engineConfig maps v onto tripauth.Config. Validation is left to Build.
func engineConfig(v *viper.Viper) tripauth.Config {
	cfg := tripauth.DefaultConfig()

	cfg.JWT.AccessTTL = v.GetDuration("jwt.access_ttl")
	cfg.JWT.RefreshTTL = v.GetDuration("jwt.refresh_ttl")
	cfg.JWT.SigningMethod = strings.ToLower(v.GetString("jwt.signing_method"))
	cfg.JWT.Issuer = v.GetString("jwt.issuer")
	cfg.JWT.Leeway = v.GetDuration("jwt.leeway")
	cfg.JWT.KeyID = v.GetString("jwt.key_id")

	cfg.Password.Algorithm = strings.ToLower(v.GetString("password.algorithm"))
	cfg.Password.BcryptCost = v.GetInt("password.bcrypt_cost")
	cfg.Password.MinLength = v.GetInt("password.min_length")
	cfg.Password.MaxLength = v.GetInt("password.max_length")

	cfg.Tokens.VerifyEmailTTL = v.GetDuration("tokens.verify_email_ttl")
	cfg.Tokens.ResetPasswordTTL = v.GetDuration("tokens.reset_password_ttl")

	cfg.RateLimit.Backend = v.GetString("rate_limit.backend")
	cfg.RateLimit.User.Window = v.GetDuration("rate_limit.user.window")
	cfg.RateLimit.User.MaxAttempts = v.GetInt("rate_limit.user.max_attempts")
	cfg.RateLimit.Admin.Window = v.GetDuration("rate_limit.admin.window")
	cfg.RateLimit.Admin.MaxAttempts = v.GetInt("rate_limit.admin.max_attempts")
	cfg.RateLimit.PasswordReset.Window = v.GetDuration("rate_limit.password_reset.window")
	cfg.RateLimit.PasswordReset.MaxAttempts = v.GetInt("rate_limit.password_reset.max_attempts")
	cfg.RateLimit.Verification.Window = v.GetDuration("rate_limit.verification.window")
	cfg.RateLimit.Verification.MaxAttempts = v.GetInt("rate_limit.verification.max_attempts")

	cfg.Storage.Driver = v.GetString("storage.driver")
	cfg.Storage.DataDir = v.GetString("storage.data_dir")
	cfg.Storage.KeyDir = v.GetString("storage.key_dir")
	cfg.Storage.TokenBackend = v.GetString("storage.token_backend")

	cfg.Revocation.Backend = v.GetString("revocation.backend")

	cfg.Metrics.Enabled = v.GetBool("metrics.enabled")
	cfg.Audit.Enabled = v.GetBool("audit.enabled")

	return cfg
}

func serverConfig(v *viper.Viper) (httpapi.Config, error) {
	proxies, err := httpapi.ParseTrustedProxies(v.GetStringSlice("server.trusted_proxies"))
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:              v.GetString("server.addr"),
		ShutdownTimeout:   v.GetDuration("server.shutdown_timeout"),
		CORSOrigins:       v.GetStringSlice("server.cors_origins"),
		TrustedProxies:    proxies,
		RequestsPerMinute: v.GetInt("server.requests_per_minute"),
		MaxBodySize:       v.GetInt64("server.max_body_size"),
	}, nil
}

func usesRedis(cfg tripauth.Config) bool {
	return cfg.RateLimit.Backend == "redis" ||
		cfg.Storage.TokenBackend == "redis" ||
		cfg.Revocation.Backend == "redis"
}

func newLogger(v *viper.Viper) *slog.Logger {
	return logging.Setup("tripauthd", appVersion, logging.Options{
		Format: v.GetString("log.format"),
		Level:  v.GetString("log.level"),
	})
}

// service bundles the engine with the resources it was built from.
type service struct {
	Engine  *tripauth.Engine
	closers []func() error
}

func (r *service) Close() {
	if r.Engine != nil {
		r.Engine.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i]()
	}
}

// openEngine builds an Engine from v. Redis and AMQP connections are opened
// only when the configuration asks for them.
func openEngine(ctx context.Context, v *viper.Viper, logger *slog.Logger, configure func(*tripauth.Builder)) (*service, error) {
	cfg := engineConfig(v)
	rt := &service{}

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.KeyDir} {
		if err := xdg.EnsureDir(dir); err != nil {
			return nil, err
		}
	}

	b := tripauth.New().WithConfig(cfg).WithLogger(logger)

	if usesRedis(cfg) {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    v.GetStringSlice("redis.addrs"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		})
		rt.closers = append(rt.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.WithRedis(client)
	}

	if url := v.GetString("amqp.url"); url != "" {
		n, err := notify.DialAMQP(url, v.GetString("amqp.queue"), logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		rt.closers = append(rt.closers, n.Close)
		b.WithNotifier(n)
	}

	if configure != nil {
		configure(b)
	}

	engine, err := b.Build()
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	rt.Engine = engine
	return rt, nil
}
