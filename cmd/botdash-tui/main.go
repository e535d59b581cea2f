package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/betbot/botdash/internal/app"
	"github.com/betbot/botdash/internal/botsync"
	"github.com/betbot/botdash/pkg/config"
)

func main() {
	_ = config.LoadDotEnv()

	var (
		configPath = flag.String("config", os.Getenv("BOTDASH_CONFIG"), "YAML config file")
		backendURL = flag.String("backend", "", "backend base URL (runtime override)")
	)
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	// 终端被 TUI 占用，日志只写文件
	if err := app.InitLogger(cfg, false); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}

	env, err := app.NewEnvironment(app.Options{Config: cfg, BackendOverride: *backendURL})
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(newModel(ctx, env.Sync, env.Prober, env.Backend.Get), tea.WithAltScreen())
	env.OnChange(func(s botsync.Snapshot) { p.Send(snapshotMsg(s)) })
	env.OnNotice(func(n botsync.Notice) { p.Send(noticeMsg(n)) })
	env.Start(ctx)

	_, runErr := p.Run()

	cancel()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := env.Close(closeCtx); err != nil {
		log.Printf("关闭存储失败: %v", err)
	}
	if runErr != nil {
		log.Fatalf("运行程序失败: %v", runErr)
	}
}
