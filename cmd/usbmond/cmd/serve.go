package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/kvthweatt/USB-Monitor/internal/config"
	"github.com/kvthweatt/USB-Monitor/internal/device"
	"github.com/kvthweatt/USB-Monitor/internal/logger"
	"github.com/kvthweatt/USB-Monitor/internal/metrics"
	"github.com/kvthweatt/USB-Monitor/internal/notify"
	"github.com/kvthweatt/USB-Monitor/internal/policy"
	"github.com/kvthweatt/USB-Monitor/internal/prompt"
	"github.com/kvthweatt/USB-Monitor/internal/server"
)

const natsBuffer = 256

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization daemon",
		Long: `Run the authorization daemon and its local control API.

Configuration comes from --config (or USBMON_CONFIG) with USBMON_*
environment overrides. The daemon stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := newDaemon(cfg, log, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return d.run(ctx)
		},
	}
}

// daemon wires the components of a running usbmond.
type daemon struct {
	cfg        config.Config
	log        zerolog.Logger
	bus        *notify.Bus
	authorizer *device.Authorizer
	engine     *policy.Engine
	server     *server.Server
}

func newDaemon(cfg config.Config, log zerolog.Logger, in io.Reader, out io.Writer) (*daemon, error) {
	bus := notify.NewBus(logger.WithComponent(log, "notify"))
	rec := metrics.New(otel.GetMeterProvider())

	authz := device.NewAuthorizer(device.Config{
		Logger:   log,
		Notifier: bus,
		Metrics:  rec,
	})
	if cfg.Prompt.Terminal {
		authz.SetConfirmer(prompt.NewTerminal(in, out))
	}
	for _, path := range cfg.Security.TrustedCertificates {
		tc, err := authz.AddTrustedCertificate(path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("subject", tc.Subject).Str("id", tc.ID).Msg("trusted certificate loaded")
	}

	engine := policy.NewEngine(policy.Config{
		Logger:     log,
		Authorizer: authz,
		Notifier:   bus,
		Metrics:    rec,
	})

	level, err := cfg.SecurityLevel()
	if err != nil {
		return nil, err
	}
	if err := engine.SetSecurityLevel(level); err != nil {
		return nil, err
	}

	// The security config, when present, overrides the configured level.
	if path := cfg.Security.ConfigPath; path != "" {
		err := engine.LoadSecurityConfig(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && !cfg.Security.Watch:
			log.Warn().Str("path", path).Msg("security config not found, starting with no rules")
		case errors.Is(err, fs.ErrNotExist):
			log.Warn().Str("path", path).Msg("security config not found, waiting for it to appear")
		case err != nil:
			return nil, err
		}
	}

	tlsConfig, err := cfg.Server.TLS.Build()
	if err != nil {
		return nil, err
	}
	srv := server.New(server.Config{
		Addr:               cfg.Server.Addr(),
		ReadTimeout:        cfg.Server.ReadTimeout(),
		WriteTimeout:       cfg.Server.WriteTimeout(),
		IdleTimeout:        cfg.Server.IdleTimeout(),
		TLS:                tlsConfig,
		SecurityConfigPath: cfg.Security.ConfigPath,
	}, engine, authz, log)

	return &daemon{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		authorizer: authz,
		engine:     engine,
		server:     srv,
	}, nil
}

// run serves until ctx is done. Background workers stop with the server.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if d.cfg.NATS.URL != "" {
		natsLog := logger.WithComponent(d.log, "nats")
		conn, err := notify.ConnectNATS(d.cfg.NATS.URL, natsLog)
		if err != nil {
			return err
		}
		events, unsubscribe := d.bus.Subscribe(natsBuffer)
		fwd := notify.NewNATSForwarder(conn, d.cfg.NATS.SubjectPrefix, natsLog)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			defer unsubscribe()
			fwd.Run(ctx, events)
		}()
	}

	if d.cfg.Security.Watch {
		w, err := config.NewWatcher(d.cfg.Security.ConfigPath, d.engine.LoadSecurityConfig, d.log)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				d.log.Error().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	d.log.Info().
		Str("version", Version).
		Str("level", d.engine.SecurityLevel().String()).
		Int("rules", len(d.engine.SecurityRules())).
		Msg("usbmond started")

	if err := d.server.Start(ctx); err != nil {
		return fmt.Errorf("control API: %w", err)
	}
	return nil
}
