package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrEthical07/tripauth"
	"github.com/MrEthical07/tripauth/internal/httpapi"
	"github.com/MrEthical07/tripauth/internal/xdg"
	"github.com/MrEthical07/tripauth/keystore"
	"github.com/MrEthical07/tripauth/secret"
	"github.com/MrEthical07/tripauth/settings"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Start the HTTP server exposing the end-user and administrator authentication endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, viper.GetViper())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8080)")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	logger := newLogger(v)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, err := openEngine(ctx, v, logger, func(b *tripauth.Builder) {
		b.WithMetricsRegistry(registry)
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	store, err := openSettings(ctx, v, svc.Engine.Config().Storage.KeyDir, logger)
	if err != nil {
		return err
	}

	logger.Info("engine ready",
		"storage_driver", svc.Engine.Config().Storage.Driver,
		"token_backend", svc.Engine.Config().Storage.TokenBackend,
		"rate_limit_backend", svc.Engine.Config().RateLimit.Backend,
	)

	srvCfg, err := serverConfig(v)
	if err != nil {
		return err
	}
	srv := httpapi.New(srvCfg, svc.Engine, store, registry, logger)
	return srv.ListenAndServe(ctx)
}

// openSettings opens the encrypted settings file, creating the master key
// on first use.
func openSettings(ctx context.Context, v *viper.Viper, keyDir string, logger *slog.Logger) (*settings.Store, error) {
	key, err := keystore.New(filepath.Join(keyDir, tripauth.MasterKeyFile), keystore.MasterKeySize).GetOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	cipher, err := secret.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	path := v.GetString("settings.file")
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return settings.NewStore(path, cipher, logger), nil
}
