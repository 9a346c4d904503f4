package main

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pizzacorruption/trumpswap-sub001/adapters/clock"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/generate"
	httpadapter "github.com/pizzacorruption/trumpswap-sub001/adapters/http"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/idgen"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/memory"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/metrics"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/random"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/remote"
	"github.com/pizzacorruption/trumpswap-sub001/adapters/sqlite"
	"github.com/pizzacorruption/trumpswap-sub001/app"
	"github.com/pizzacorruption/trumpswap-sub001/config"
	"github.com/pizzacorruption/trumpswap-sub001/domain/abuse"
	"github.com/pizzacorruption/trumpswap-sub001/domain/capacity"
	"github.com/pizzacorruption/trumpswap-sub001/domain/tier"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the generation API server",
	Long: `Start the trumpswap server.

The server will:
  - Load configuration from trumpswap.yaml (or --config)
  - Or load configuration from TRUMPSWAP_* environment variables
  - Open the database and run pending migrations
  - Serve the generation API with admission control and usage metering

Environment variables (for Docker deployments):
  TRUMPSWAP_UPSTREAM_URL    - Generation API URL (required)
  TRUMPSWAP_AUTH_URL        - Auth backend URL (required)
  TRUMPSWAP_COOKIE_SECRET   - Anonymous-cookie signing key (required)
  TRUMPSWAP_DATABASE_DSN    - Database path (default: trumpswap.db)
  TRUMPSWAP_SERVER_PORT     - Server port (default: 8080)
  TRUMPSWAP_LOG_LEVEL       - Log level: debug, info, warn, error`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	bootLogger := setupLogger("info", "console")

	holder, err := config.NewHolder(cfgFile, bootLogger)
	if err != nil {
		return err
	}
	defer holder.Close()
	cfg := holder.Get()

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	collector := metrics.New()
	clk := clock.Real{}
	rnd := random.Real{}

	profiles := sqlite.NewProfileStore(db)
	anonCache := memory.NewAnonCache(sqlite.NewAnonStore(db))
	sessions := sqlite.NewAdminSessionStore(db)
	capacityStore := memory.NewCapacityStore()
	abuseStore := memory.NewAbuseStore()

	admission := app.NewAdmissionService(app.AdmissionDeps{
		Profiles: profiles,
		Anon:     anonCache,
		Sessions: sessions,
		Capacity: capacityStore,
		Abuse:    abuseStore,
		Clock:    clk,
		Metrics:  collector,
		Logger:   logger.With().Str("component", "admission").Logger(),
	}, dynamicConfig(cfg))

	holder.OnChange(func(c *config.Config) {
		admission.UpdateConfig(dynamicConfig(c))
		collector.ConfigReloads.Inc()
	})
	if hotReload {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config file watch unavailable")
		}
	}
	holder.WatchSignals()

	adminSvc := app.NewAdminService(app.AdminDeps{
		Sessions:     sessions,
		Clock:        clk,
		Random:       rnd,
		PasswordHash: []byte(cfg.Admin.PasswordHash),
		SessionTTL:   cfg.Admin.SessionTTL,
		Logger:       logger.With().Str("component", "admin").Logger(),
	})

	handler := httpadapter.NewHandler(httpadapter.Deps{
		Admission: admission,
		Admin:     adminSvc,
		Generator: generate.New(generate.Config{
			BaseURL: cfg.Upstream.URL,
			APIKey:  cfg.Upstream.APIKey,
			Timeout: cfg.Upstream.Timeout,
		}),
		Verifier: remote.NewAuthVerifier(cfg.Auth.URL, cfg.Auth.Timeout),
		Anon:     anonCache,
		IDs:      idgen.UUID{},
		Clock:    clk,
		Metrics:  collector,
		Logger:   logger.With().Str("component", "http").Logger(),
		Cookie: httpadapter.CookieConfig{
			Name:   cfg.Cookie.Name,
			Secret: []byte(cfg.Cookie.Secret),
			MaxAge: cfg.Cookie.MaxAge,
		},
		TrustedHops: cfg.Proxy.TrustedHops,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Housekeeping: evict lapsed abuse windows and expired admin sessions.
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				admCfg := admission.Config()
				abuseStore.Sweep(admCfg.Abuse, clk.Now())
				if _, err := adminSvc.PurgeExpired(ctx); err != nil {
					logger.Warn().Err(err).Msg("session purge failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	server := &stdhttp.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(cfg.Metrics.Enabled, cfg.Metrics.Path),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func dynamicConfig(cfg *config.Config) app.DynamicConfig {
	return app.DynamicConfig{
		Capacity: capacity.Config{
			Limit:  cfg.Capacity.Limit,
			Window: cfg.Capacity.Window,
		},
		Abuse: abuse.Config{
			Threshold: cfg.Abuse.Threshold,
			Detect:    cfg.Abuse.Window,
			GCHorizon: cfg.Abuse.GCHorizon,
		},
		Limits: tier.Limits{
			Anonymous: cfg.Limits.AnonymousMonthly,
			Free:      cfg.Limits.FreeMonthly,
		},
		TestSecret: cfg.Admin.TestSecret,
	}
}

func setupLogger(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
