package app

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/botapi"
	"github.com/betbot/botdash/internal/botsync"
	"github.com/betbot/botdash/internal/probe"
	"github.com/betbot/botdash/pkg/config"
	"github.com/betbot/botdash/pkg/logger"
	"github.com/betbot/botdash/pkg/persistence"
	"github.com/betbot/botdash/pkg/retry"
	httpclient "github.com/betbot/botdash/pkg/sdk/http"
	"github.com/betbot/botdash/pkg/shutdown"
)

var envLog = logrus.WithField("component", "app")

// Options 构建 Environment 的参数
type Options struct {
	Config *config.Config
	// BackendOverride 运行期覆盖（--backend），优先于配置和本地存储
	BackendOverride string
	// Backend 为 nil 时按 Config.Storage 打开
	Backend persistence.Backend
}

// Environment 持有 botdash 的全部组件，前端（HTTP / TUI / CLI）共用同一实例
type Environment struct {
	Config  *config.Config
	Store   *persistence.Store
	Backend *config.Backend
	HTTP    *httpclient.Client
	API     *botapi.Client
	Prober  *probe.Prober
	Sync    *botsync.Synchronizer

	watcher *persistence.Watcher
	events  *dispatcher

	shutdownManager *shutdown.Manager
	closeOnce       sync.Once
}

// InitLogger 按配置初始化日志。console=false 用于 TUI。
func InitLogger(cfg *config.Config, console bool) error {
	return logger.Init(logger.Config{
		Level:          cfg.Log.Level,
		OutputFile:     cfg.Log.File,
		MaxSize:        cfg.Log.MaxSize,
		MaxBackups:     cfg.Log.MaxBackups,
		MaxAge:         cfg.Log.MaxAge,
		Compress:       cfg.Log.Compress,
		DisableConsole: !console,
	})
}

// OpenBackend 按 storage 配置打开持久化后端
func OpenBackend(cfg config.StorageConfig) (persistence.Backend, error) {
	var key []byte
	if cfg.EncryptionKey != "" {
		k, err := persistence.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, errors.Wrap(err, "storage.encryption_key")
		}
		key = k
	}
	return persistence.OpenBackend(persistence.OpenOptions{
		Kind:          persistence.BackendKind(cfg.Backend),
		Path:          cfg.Path,
		EncryptionKey: key,
	})
}

// NewEnvironment 依次构建 store → backend url → http client → botapi → prober → synchronizer。
// 同步器会立即用本地缓存填充集合，但不会访问网络，直到 Start。
func NewEnvironment(opts Options) (*Environment, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	kv := opts.Backend
	if kv == nil {
		b, err := OpenBackend(cfg.Storage)
		if err != nil {
			return nil, errors.Wrap(err, "open storage")
		}
		kv = b
	}

	env := &Environment{
		Config:          cfg,
		Store:           persistence.NewStore(kv, persistence.Options{QuotaBytes: cfg.Storage.QuotaBytes}),
		events:          newDispatcher(),
		shutdownManager: shutdown.NewManager(),
	}

	env.Backend = config.NewBackend(cfg.Backend, cfg.Env, env.Store)
	env.Backend.Init(opts.BackendOverride)

	env.HTTP = httpclient.NewClient(httpclient.Options{
		BaseURL:  env.Backend.Get,
		Timeout:  cfg.HTTP.Timeout,
		Cache:    env.Store,
		CacheTTL: cfg.Sync.ResponseCacheTTL,
	})
	env.API = botapi.New(env.HTTP)

	env.Prober = probe.New(probe.Options{
		Store:      env.Backend,
		Fallbacks:  cfg.Backend.Fallbacks,
		HealthPath: cfg.Backend.HealthPath,
		Cooldown:   cfg.Probe.Cooldown,
		Timeout:    cfg.Probe.Timeout,
	})

	var watch <-chan string
	if fb, ok := kv.(*persistence.FileBackend); ok {
		w, err := fb.Watch()
		if err != nil {
			envLog.WithError(err).Warn("storage watcher unavailable")
		} else {
			env.watcher = w
			watch = w.Events()
		}
	}

	minInterval := cfg.Sync.MinRefreshInterval
	if minInterval == 0 {
		minInterval = -1
	}
	env.Sync = botsync.New(botsync.Options{
		Client:             env.API,
		Store:              env.Store,
		BaseURL:            env.Backend.Get,
		Notifier:           env.events,
		OnChange:           env.events.change,
		MinRefreshInterval: minInterval,
		PollInterval:       cfg.Sync.PollInterval,
		EnrichConcurrency:  cfg.Sync.EnrichConcurrency,
		Retry:              retryPolicy(cfg.Sync.Retry),
		ImageRetry:         retryPolicy(cfg.Sync.ImageRetry),
		Watch:              watch,
	})

	env.shutdownManager.OnShutdown("synchronizer", func(ctx context.Context) {
		env.Sync.Close()
		if err := env.Sync.Drain(ctx); err != nil {
			envLog.WithError(err).Warn("background deletes still running at shutdown")
		}
	})
	return env, nil
}

func retryPolicy(rc config.RetryConfig) retry.Policy {
	return retry.Policy{MaxRetries: rc.MaxRetries, BaseDelay: rc.BaseDelay}
}

// Start 启动后台刷新/轮询
func (e *Environment) Start(ctx context.Context) {
	e.Sync.Start(ctx)
}

// OnChange 订阅集合变化
func (e *Environment) OnChange(fn func(botsync.Snapshot)) {
	e.events.onChange(fn)
}

// OnNotice 订阅用户可见的通知
func (e *Environment) OnNotice(fn func(botsync.Notice)) {
	e.events.onNotice(fn)
}

// ShutdownManager 前端注册自己的关闭回调（HTTP server 等）
func (e *Environment) ShutdownManager() *shutdown.Manager {
	return e.shutdownManager
}

// Close 执行关闭回调，然后释放 watcher 和存储
func (e *Environment) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.shutdownManager.Shutdown(ctx)
		if e.watcher != nil {
			if werr := e.watcher.Stop(); werr != nil {
				envLog.WithError(werr).Warn("stop storage watcher")
			}
		}
		err = e.Store.Close()
	})
	return err
}

// dispatcher 把同步器的回调扇出给多个前端
type dispatcher struct {
	mu      sync.RWMutex
	changes []func(botsync.Snapshot)
	notices []func(botsync.Notice)
}

func newDispatcher() *dispatcher {
	return &dispatcher{}
}

func (d *dispatcher) onChange(fn func(botsync.Snapshot)) {
	d.mu.Lock()
	d.changes = append(d.changes, fn)
	d.mu.Unlock()
}

func (d *dispatcher) onNotice(fn func(botsync.Notice)) {
	d.mu.Lock()
	d.notices = append(d.notices, fn)
	d.mu.Unlock()
}

func (d *dispatcher) change(s botsync.Snapshot) {
	d.mu.RLock()
	fns := d.changes
	d.mu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Notify 实现 botsync.Notifier
func (d *dispatcher) Notify(n botsync.Notice) {
	switch n.Level {
	case botsync.LevelError:
		envLog.Error(n.Message)
	case botsync.LevelWarn:
		envLog.Warn(n.Message)
	default:
		envLog.Info(n.Message)
	}
	d.mu.RLock()
	fns := d.notices
	d.mu.RUnlock()
	for _, fn := range fns {
		fn(n)
	}
}
