package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"recruitportal.org/internal/auth"
	"recruitportal.org/internal/config"
	"recruitportal.org/internal/httpapi"
	"recruitportal.org/internal/migrate"
	"recruitportal.org/internal/obs"
	"recruitportal.org/internal/store/pg"
	"recruitportal.org/internal/throttle"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (defaults to $RECRUIT_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		obs.Log("error", "api exited", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store auth.Store
		probe httpapi.ReadyProbe
	)
	if cfg.DatabaseDSN != "" {
		pool := pg.DefaultPoolConfig()
		pool.MaxOpenConns = cfg.DBMaxOpenConns
		pool.MaxIdleConns = cfg.DBMaxIdleConns
		pool.ConnMaxIdleTime = cfg.DBConnMaxIdle
		pgStore, err := pg.Open(cfg.DatabaseDSN, pool)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		if cfg.MigrateOnStart {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := migrate.NewManager(pgStore.DB()).Up(ctx)
			cancel()
			if err != nil {
				return err
			}
			obs.Log("info", "migrations applied", nil)
		}
		store = pgStore
		probe.DB = pgStore.DB()
	} else {
		obs.Log("warn", "no database_dsn configured, using in-memory store", nil)
		store = auth.NewMemoryStore()
	}

	var limiter throttle.Throttle
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		limiter = throttle.NewRedis(rdb, cfg.ThrottlePolicy())
		probe.Redis = rdb
	} else {
		limiter = throttle.NewMemory(cfg.ThrottlePolicy())
	}

	hasher, err := auth.NewHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(cfg.TokenConfig())
	if err != nil {
		return err
	}
	svc, err := auth.NewService(store, tokens, hasher, limiter)
	if err != nil {
		return err
	}

	api := httpapi.New(svc,
		httpapi.WithReadyProbe(probe),
		httpapi.WithVersion(version),
		httpapi.WithFrontendOrigin(cfg.FrontendOrigin),
		httpapi.WithTrustProxyHeaders(cfg.TrustProxyHeaders),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitPerSec),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		obs.Log("info", "http listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, httpapi.NewHealthServer(probe))
		go func() {
			obs.Log("info", "grpc listening", map[string]any{"addr": cfg.GRPCAddr})
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		obs.Log("info", "shutting down", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	obs.Log("info", "stopped", nil)
	return nil
}
