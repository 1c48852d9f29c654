package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gamegate.org/internal/auth"
	"gamegate.org/internal/authz"
	"gamegate.org/internal/config"
	"gamegate.org/internal/httpapi"
	"gamegate.org/internal/idp"
	"gamegate.org/internal/obs"
	"gamegate.org/internal/proxy"
)

var version = "1.0.0"

// seedRoles are created on startup when missing. Descriptions show up in the
// role listing endpoint.
var seedRoles = []auth.Role{
	{Name: authz.RoleDeveloper, Description: "Creates games and studios; may only modify resources it owns"},
	{Name: authz.RoleEditor, Description: "Edits any game; read-only access to studios"},
	{Name: authz.RoleSuperadmin, Description: "Full access, including account and role administration"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.Logger().Fatal().Err(err).Msg("load config")
	}

	obs.InitLogger(obs.LogConfig{Level: cfg.Log.Level, Console: cfg.Log.Console})
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GAMEGATE_COMMIT"))
	log := obs.Logger()

	if cfg.Database.DSN == "" {
		log.Fatal().Msg("database.dsn is required")
	}
	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	store := auth.NewPGStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.Roles(ctx).Ensure(ctx, seedRoles); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("seed roles")
	}
	cancel()

	tokens, err := auth.NewTokenService(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithStepUpTTL(cfg.Auth.StepUpTTL),
		auth.WithStepUpSecret(cfg.Auth.StepUpSecret),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("token service")
	}
	refresh := auth.NewRefreshService(store, auth.WithRefreshTTL(cfg.Auth.RefreshTTL))

	svcOpts := []auth.ServiceOption{
		auth.WithRegisterableRoles(authz.RegisterableRoles()),
		auth.WithRotateOnRefresh(cfg.Auth.RotateOnRefresh),
		auth.WithInsecureSkipOTP(cfg.Auth.InsecureSkipOTP),
	}
	if cfg.IdP.BaseURL != "" {
		provider, err := idp.NewClient(cfg.IdP.BaseURL, cfg.IdP.Realm, cfg.IdP.ClientID, cfg.IdP.ClientSecret,
			idp.WithHTTPClient(&http.Client{Timeout: cfg.IdP.Timeout}),
			idp.WithLogger(*log),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("identity provider")
		}
		svcOpts = append(svcOpts, auth.WithIdentityProvider(provider))
	}
	if cfg.Auth.InsecureSkipOTP {
		log.Warn().Msg("insecure_skip_otp is enabled; step-up codes are not verified")
	}

	svc, err := auth.NewService(store, tokens, refresh, svcOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("auth service")
	}

	var upstream *proxy.Client
	if cfg.ContentAPI.BaseURL != "" {
		upstream, err = proxy.NewClient(cfg.ContentAPI.BaseURL,
			proxy.WithTimeout(cfg.ContentAPI.Timeout),
			proxy.WithLogger(*log),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("content api client")
		}
	}

	engineOpts := []authz.EngineOption{authz.WithEngineLogger(*log)}
	if upstream != nil {
		enforce := cfg.ContentAPI.OwnershipChecks == config.OwnershipEnforce
		engineOpts = append(engineOpts, authz.WithOwnershipChecker(upstream, enforce))
	}
	engine := authz.NewEngine(authz.DefaultPermissions(), engineOpts...)

	apiOpts := []httpapi.Option{
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if upstream != nil {
		apiOpts = append(apiOpts, httpapi.WithUpstream(upstream))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		apiOpts = append(apiOpts, httpapi.WithCORSOrigins(cfg.Server.CORSOrigins))
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, engine, apiOpts...)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweepSessions(sweepCtx, refresh)

	log.Info().Str("addr", srv.Addr).Str("version", version).Msg("starting gamegate")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	stopSweep()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	_ = db.Close()
	log.Info().Msg("stopped")
}

// sweepSessions purges expired refresh tokens once an hour so the table does
// not grow without bound.
func sweepSessions(ctx context.Context, refresh *auth.RefreshService) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refresh.SweepExpired(ctx)
			if err != nil {
				obs.Logger().Warn().Err(err).Msg("sweep expired refresh tokens")
				continue
			}
			if n > 0 {
				obs.Logger().Info().Int64("removed", n).Msg("swept expired refresh tokens")
			}
		}
	}
}

