// dineflowd 是推荐服务的 HTTP 入口。
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dineflow/recommend/config"
	"github.com/dineflow/recommend/core"
	"github.com/dineflow/recommend/engine"
	"github.com/dineflow/recommend/experiment"
	"github.com/dineflow/recommend/interaction"
	"github.com/dineflow/recommend/neural"
	"github.com/dineflow/recommend/service"
	"github.com/dineflow/recommend/store"
	"github.com/dineflow/recommend/trending"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (optional)")
		addr       = flag.String("addr", "", "listen address, overrides config")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := newLogger(cfg.Log)
	defer logger.Sync()

	kv, err := newStore(cfg.Store)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer kv.Close()

	log := interaction.NewLog(kv, logger)
	catalog := engine.NewMemoryCatalog()

	trainer := neural.NewTrainer(log, neural.Config{
		Dim:            cfg.Neural.Dim,
		Epochs:         cfg.Neural.Epochs,
		LearningRate:   cfg.Neural.LearningRate,
		Regularization: cfg.Neural.Regularization,
	}, logger)

	analyzer := trending.NewAnalyzer(kv, log, catalog, logger)
	analyzer.SeasonBoost = cfg.Engine.SeasonBoost

	experiments := experiment.NewManager(log, logger)

	eng := engine.New(engine.Config{
		DefaultAlgorithm: cfg.Engine.DefaultAlgorithm,
		HybridWeights:    cfg.Engine.HybridWeights,
		ExcludeWindow:    cfg.Engine.ExcludeWindow,
		StrategyTimeout:  cfg.Engine.StrategyTimeout,
	}, catalog, log, trainer, analyzer, experiments, logger)

	svc := service.New(eng, catalog, log, trainer, analyzer, experiments, logger)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: svc.Router(),
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

func newLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func newStore(cfg config.StoreConfig) (core.KeyValueStore, error) {
	if cfg.Backend == "redis" {
		return store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	}
	return store.NewMemoryStore(), nil
}
