package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var shutdownLog = logrus.WithField("component", "shutdown")

// Handler 关闭处理函数，应在 ctx 结束前返回
type Handler func(ctx context.Context)

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 并发执行所有关闭回调，阻塞到全部完成或 ctx 超时。
// 重复调用只执行一次。
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() { m.shutdown(ctx) })
}

func (m *Manager) shutdown(ctx context.Context) {
	m.mu.Lock()
	callbacks := append([]namedHandler(nil), m.callbacks...)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		shutdownLog.Info("没有注册的关闭回调")
		return
	}

	shutdownLog.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var wg sync.WaitGroup
	wg.Add(len(callbacks))
	for _, cb := range callbacks {
		go func(h namedHandler) {
			defer wg.Done()
			h.fn(ctx)
			shutdownLog.Debugf("%s 已关闭", h.name)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		shutdownLog.Info("所有关闭回调已完成")
	case <-ctx.Done():
		shutdownLog.Warnf("关闭超时: %v", ctx.Err())
	}
}
