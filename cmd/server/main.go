package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"healthcare-portal/internal/compliance"
	"healthcare-portal/internal/config"
	gweb "healthcare-portal/internal/grpcweb"
	"healthcare-portal/internal/identity"
	"healthcare-portal/internal/logging"
	"healthcare-portal/internal/middleware"
	"healthcare-portal/internal/notify"
	"healthcare-portal/internal/rpc"
	"healthcare-portal/internal/store"
)

// audit stream is trimmed to roughly this many entries
const auditStreamLen = 100000

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, "portal-server")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// database
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal("db ping", zap.Error(err))
	}
	log.Info("connected to postgres")

	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	// audit trail: always structured logs, plus a redis stream when configured
	sinks := compliance.MultiSink{compliance.NewZapSink(log)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, audit stream disabled", zap.Error(err))
		} else {
			sinks = append(sinks, compliance.NewRedisStreamSink(rdb, cfg.AuditStream, auditStreamLen))
			log.Info("audit stream enabled", zap.String("stream", cfg.AuditStream))
		}
	}
	audit := compliance.NewLogger(sinks, log)
	defer audit.Close()

	ids := identity.NewService(st, st, cfg.JWTSecret)
	pusher := notify.NewPusher(cfg.ExpoPushURL, st, log)

	// grpc server
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	defer rl.Close()
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.RateLimit(rl, rpc.PublicMethods...),
			middleware.Auth(cfg.JWTSecret, rpc.PublicMethods...),
		),
		grpc.ChainStreamInterceptor(middleware.StreamAuth(cfg.JWTSecret)),
	)
	rpc.Register(srv, rpc.NewServer(ids, st, audit, log, pusher))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}
	go func() {
		log.Info("grpc listening", zap.String("port", cfg.GRPCPort))
		if err := srv.Serve(lis); err != nil {
			log.Error("grpc", zap.Error(err))
		}
	}()

	// grpc-web bridge -> forwards browser requests to grpc on localhost
	bridge, err := gweb.New("localhost:"+cfg.GRPCPort, gweb.Options{
		Service: rpc.ServiceName,
		Streams: []string{"Watch"},
		Origins: cfg.WebOrigins,
	}, log)
	if err != nil {
		log.Fatal("bridge", zap.Error(err))
	}
	defer bridge.Close()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.WebPort,
		Handler:           bridge.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("grpc-web listening", zap.String("port", cfg.WebPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http", zap.Error(err))
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// live watch streams only end when clients leave
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-sctx.Done():
		srv.Stop()
	}
}
