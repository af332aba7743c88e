package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeclash/internal/common/mq"
	"codeclash/internal/common/storage"
	"codeclash/internal/environment"
	"codeclash/internal/game"
	"codeclash/internal/leaderboard"
	"codeclash/internal/scheduler"
	"codeclash/internal/stats"
	"codeclash/internal/trajectory"
	"codeclash/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/tournament.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	registry := game.DefaultRegistry()
	for _, gameCfg := range appCfg.Games {
		if err := registry.AddGame(gameCfg); err != nil {
			logger.Error(context.Background(), "register game failed",
				zap.String("game_id", gameCfg.ID), zap.Error(err))
			return
		}
	}

	runtime, err := buildRuntime(appCfg.Environment)
	if err != nil {
		logger.Error(context.Background(), "init environment runtime failed", zap.Error(err))
		return
	}
	envs := environment.NewManager(runtime, appCfg.Environment.Manager)

	sink, err := buildSink(appCfg)
	if err != nil {
		logger.Error(context.Background(), "init trajectory sinks failed", zap.Error(err))
		return
	}
	defer func() {
		_ = sink.Close()
	}()

	var store *leaderboard.Store
	if appCfg.Redis.Addr != "" {
		store, err = leaderboard.NewStore(appCfg.Redis)
		if err != nil {
			logger.Error(context.Background(), "init leaderboard store failed", zap.Error(err))
			return
		}
		defer func() {
			_ = store.Close()
		}()
	}

	tournamentID := fmt.Sprintf("%s.%s.%s",
		appCfg.Tournament.Name, appCfg.Tournament.GameID, time.Now().Format("060102150405"))

	sched, err := scheduler.New(appCfg.Scheduler, scheduler.Deps{
		Registry:     registry,
		Envs:         envs,
		Provider:     game.NewStaticProvider(appCfg.Tournament.SubmissionsDir),
		Sink:         sink,
		TournamentID: tournamentID,
		OnMatchDone:  publishRecord(store),
	})
	if err != nil {
		logger.Error(context.Background(), "init scheduler failed", zap.Error(err))
		return
	}

	specs := appCfg.Tournament.Matches
	if len(specs) == 0 {
		specs = scheduler.RoundRobin(appCfg.Tournament.GameID, appCfg.Tournament.Players, appCfg.Arena)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx = logger.WithTournament(runCtx, tournamentID)

	tournamentDone := make(chan struct{})
	go func() {
		defer close(tournamentDone)
		records, err := sched.Run(runCtx, specs)
		if err != nil {
			logger.Error(runCtx, "tournament failed", zap.Error(err))
			return
		}
		completed := 0
		for _, rec := range records {
			if rec.FinalState == stats.StateComplete {
				completed++
			}
		}
		logger.Info(runCtx, "tournament finished",
			zap.Int("matches", len(records)),
			zap.Int("completed", completed))
	}()

	httpServer := buildHTTPServer(appCfg.Server, sched, store)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "clashd http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-runCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}
	stop()
	<-tournamentDone

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildRuntime(cfg EnvironmentConfig) (environment.Runtime, error) {
	switch cfg.Runtime {
	case runtimeDocker:
		return environment.NewDockerRuntime(cfg.Docker)
	default:
		return environment.NewLocalRuntime(cfg.Local)
	}
}

func buildSink(cfg *AppConfig) (trajectory.Sink, error) {
	local, err := trajectory.NewLocalSink(cfg.Trajectory.Dir)
	if err != nil {
		return nil, err
	}
	sinks := []trajectory.Sink{local}

	if cfg.Trajectory.EnableKafka {
		producer, err := mq.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, trajectory.NewQueueSink(producer, cfg.Trajectory.Topic))
	}
	if cfg.Trajectory.EnableMinIO {
		objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		objSink, err := trajectory.NewObjectSink(objStorage, cfg.Trajectory.Bucket)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, objSink)
	}
	return trajectory.NewMultiSink(sinks...), nil
}

func publishRecord(store *leaderboard.Store) func(context.Context, *stats.MatchRecord) {
	if store == nil {
		return nil
	}
	return func(ctx context.Context, rec *stats.MatchRecord) {
		// Records must land even when the tournament was cancelled.
		if err := store.Publish(context.WithoutCancel(ctx), rec); err != nil {
			logger.Error(ctx, "leaderboard publish failed",
				zap.String("match_id", rec.MatchID), zap.Error(err))
		}
	}
}

func buildHTTPServer(cfg ServerConfig, sched *scheduler.Scheduler, store *leaderboard.Store) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.GET("/matches", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"matches": sched.Statuses()})
	})
	api.GET("/standings", func(c *gin.Context) {
		if store != nil {
			standings, err := store.Standings(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "standings unavailable"})
				return
			}
			c.JSON(http.StatusOK, standings)
			return
		}
		// Without a store, fall back to this process's finished matches.
		records := make([]stats.MatchRecord, 0)
		for _, rec := range sched.Records() {
			records = append(records, *rec)
		}
		c.JSON(http.StatusOK, gin.H{"win_rates": stats.WinRates(records), "matches": len(records)})
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
