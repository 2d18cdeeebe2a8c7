package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead-talk/server/internal/analyzer"
	"lead-talk/server/internal/api"
	"lead-talk/server/internal/config"
	"lead-talk/server/internal/llm"
	"lead-talk/server/internal/logger"
	"lead-talk/server/internal/orchestrator"
	"lead-talk/server/internal/sanitize"
	"lead-talk/server/internal/session"
	"lead-talk/server/internal/timeline"

	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
)

// Options 是进程启动参数，由 go-flags 解析。敏感信息（API Key）走环境变量或 .env。
type Options struct {
	Config string `short:"f" long:"config" description:"config YAML path" default:"server/configs/config.yaml"`
	Addr   string `long:"addr" description:"http listen address, overrides server.host/port"`
	Store  string `long:"store" description:"session backend: memory|redis|postgres|sqlite"`
}

func main() {
	opts := &Options{}
	parser := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	configPath := opts.Config
	if _, err := os.Stat(configPath); err != nil {
		// 没有配置文件时只用默认值与环境变量。
		configPath = ""
	}
	if opts.Store != "" {
		_ = os.Setenv("SESSION_BACKEND", opts.Store)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Redact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, events, closeStores, err := openStores(ctx, cfg.Session, log)
	if err != nil {
		log.Fatal("open session store", "backend", cfg.Session.Backend, "error", err)
	}
	defer closeStores()

	primary, err := llm.NewClient(cfg.LLM.Primary)
	if err != nil {
		log.Fatal("init primary completion client", "error", err)
	}
	fallback, err := llm.NewClient(cfg.LLM.Fallback)
	if err != nil {
		log.Fatal("init fallback completion client", "error", err)
	}
	an := analyzer.New(primary, fallback, cfg.LLM.Timeout, log)

	san, err := sanitize.New(cfg.Qualification.SchedulingURL, cfg.Qualification.ClarifyBelow)
	if err != nil {
		log.Fatal("init sanitizer", "error", err)
	}

	orch := orchestrator.New(store, events, an, san, cfg.Qualification, log)
	server := api.NewServer(cfg.Server, orch, log)

	addr := cfg.Server.Addr()
	if opts.Addr != "" {
		addr = opts.Addr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("leadtalk server listening",
			"addr", addr,
			"backend", cfg.Session.Backend,
			"primary_model", cfg.LLM.Primary.Model,
			"fallback_model", cfg.LLM.Fallback.Model,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("serve", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}
}

// openStores 按配置的后端创建会话存储与时间线存储，返回统一的关闭函数。
// redis 后端下时间线也写 redis，其余后端时间线留在内存。
func openStores(ctx context.Context, cfg config.SessionConfig, log *logger.Logger) (session.Store, timeline.Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "", "memory":
		return session.NewInMemoryStore(), timeline.NewInMemoryStore(), noop, nil

	case "redis":
		rdb, err := session.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { closeRedis(rdb, log) }
		return session.NewRedisStore(rdb, cfg.KeyPrefix, cfg.TTL), timeline.NewRedisStore(rdb, "", cfg.TTL), closeFn, nil

	case "postgres", "sqlite":
		db, err := session.OpenGorm(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := session.NewGormStore(db)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return store, timeline.NewInMemoryStore(), closeFn, nil
	}
	return nil, nil, nil, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
}

func closeRedis(rdb *redis.Client, log *logger.Logger) {
	if err := rdb.Close(); err != nil {
		log.Warn("close redis", "error", err)
	}
}
