package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/app"
	"github.com/betbot/botdash/internal/controlplane/server"
	"github.com/betbot/botdash/pkg/config"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = config.LoadDotEnv()

	var (
		configPath = flag.String("config", os.Getenv("BOTDASH_CONFIG"), "YAML config file")
		backendURL = flag.String("backend", "", "backend base URL (runtime override)")
		listenAddr = flag.String("listen", "", "HTTP listen address (overrides server.listen)")
	)
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		logrus.Fatalf("load config failed: %v", err)
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}
	if err := app.InitLogger(cfg, true); err != nil {
		logrus.Fatalf("init logger failed: %v", err)
	}

	env, err := app.NewEnvironment(app.Options{Config: cfg, BackendOverride: *backendURL})
	if err != nil {
		logrus.Fatalf("init environment failed: %v", err)
	}

	srv := server.New(server.Config{
		Bots:       env.Sync,
		Probe:      env.Prober,
		BackendURL: env.Backend.Get,
	})
	env.OnChange(srv.PublishSnapshot)
	env.OnNotice(srv.PublishNotice)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	env.ShutdownManager().OnShutdown("http", func(ctx context.Context) {
		_ = httpSrv.Shutdown(ctx)
		_ = srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logrus.Infof("botdash listening on http://%s (backend %s)", cfg.Server.Listen, env.Backend.Get())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("http server error: %v", err)
			cancel()
		}
	}()

	// 先探测后端，再开始轮询
	if res := env.Prober.Test(ctx); !res.Success {
		logrus.Warnf("backend %s unreachable, serving cached data", env.Backend.Get())
	}
	env.Start(ctx)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case <-stopCh:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := env.Close(shutdownCtx); err != nil {
		logrus.Errorf("close storage: %v", err)
	}
	logrus.Info("botdash stopped")
}
