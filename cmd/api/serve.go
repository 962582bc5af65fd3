package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"crm-telephony/internal/analysis"
	"crm-telephony/internal/audit"
	"crm-telephony/internal/auth"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/config"
	"crm-telephony/internal/recording"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/metrics"
	"crm-telephony/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and provider webhooks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

// deps is everything the routes need. Built once per process.
type deps struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	db  *sql.DB
	rdb *redis.Client

	store    calls.Store
	audit    *audit.Service
	authMgr  *auth.Manager
	provider telephony.Provider
	pub      telephony.Publisher

	recording *recording.Proxy
	analysis  *analysis.Service
}

func (d *deps) close() {
	if d.rdb != nil {
		_ = d.rdb.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

// buildDeps opens the optional backends. base bounds background pollers.
func buildDeps(ctx, base context.Context, cfg config.Config, log *slog.Logger) (*deps, error) {
	d := &deps{cfg: cfg, log: log, metrics: metrics.New("crm_telephony")}

	authMgr, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init: %w", err)
	}
	d.authMgr = authMgr

	if cfg.UseMemoryStore() {
		log.Warn("DB_HOST not set; call records are kept in memory")
		d.store = calls.NewMemoryStore()
		d.audit = audit.NewService(audit.NewMemoryRepo())
	} else {
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		d.db = db
		d.store = calls.NewPostgresStore(db)
		d.audit = audit.NewService(audit.NewPostgresRepo(db))
	}

	var lease analysis.Lease
	if cfg.Redis.Host != "" {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			d.close()
			return nil, fmt.Errorf("redis init: %w", err)
		}
		d.rdb = rdb
		lease = utils.NewRedisLease(rdb, "crm:")
		d.pub = utils.NewRedisPublisher(rdb, cfg.Redis.EventsChannel)
	}

	d.provider = telephony.NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)

	d.recording = recording.NewProxy(recording.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		Host:       cfg.Twilio.RecordingHost,
	}, &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConnsPerHost:   16,
	}})

	var backend analysis.Backend
	if cfg.Analysis.BaseURL != "" {
		backend = analysis.NewHTTPBackend(cfg.Analysis.BaseURL, cfg.Analysis.APIKey, &http.Client{Timeout: 30 * time.Second})
	} else {
		log.Warn("ANALYSIS_BASE_URL not set; analysis requests will be rejected")
	}
	poller := analysis.Poller{
		Config: analysis.PollerConfig{
			Interval:       cfg.Analysis.PollInterval,
			Ceiling:        cfg.Analysis.PollCeiling,
			RequestTimeout: cfg.Analysis.RequestTimeout,
		},
		Metrics: d.metrics,
	}
	d.analysis = analysis.NewService(logger.With(base, log), d.store, backend, poller, lease)

	return d, nil
}

func serve(parent context.Context) error {
	rootCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Pollers outlive requests but not the process.
	pollCtx, cancelPolls := context.WithCancel(context.Background())
	defer cancelPolls()

	d, err := buildDeps(rootCtx, pollCtx, cfg, log)
	if err != nil {
		return err
	}
	defer d.close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Recording streams can be long; WriteTimeout stays generous.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "memory_store", cfg.UseMemoryStore())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	cancelPolls()
	d.analysis.Wait()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
