package config

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// BackendURLKey 本地存储中用户覆盖的后端地址
const BackendURLKey = "backend_url"

var backendLog = logrus.WithField("component", "backend")

// KV Backend 需要的持久化能力（persistence.Store 实现了该接口）
type KV interface {
	Load(key string, out interface{}) bool
	Save(key string, v interface{}) error
	Remove(key string)
}

// Source 当前地址来自哪一层
type Source string

const (
	SourceRuntime Source = "runtime"
	SourceStored  Source = "stored"
	SourceDefault Source = "default"
)

// Backend 解析后端 base URL，优先级：运行期覆盖 > 本地存储覆盖 > 环境默认值。
// 只允许探测器和用户显式操作调用 Set。
type Backend struct {
	mu       sync.RWMutex
	runtime  string
	stored   string
	fallback string
	kv       KV
}

// NewBackend 按环境选择默认地址
func NewBackend(cfg BackendConfig, env string, kv KV) *Backend {
	def := cfg.LocalURL
	if env == EnvProduction {
		def = cfg.ProductionURL
	}
	return &Backend{
		runtime:  normalizeURL(cfg.URL),
		fallback: normalizeURL(def),
		kv:       kv,
	}
}

// Init 读取本地存储的覆盖值；override 非空时替换运行期覆盖
func (b *Backend) Init(override string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if override = normalizeURL(override); override != "" {
		b.runtime = override
	}
	if b.kv != nil {
		var stored string
		if b.kv.Load(BackendURLKey, &stored) {
			b.stored = normalizeURL(stored)
		}
	}
	backendLog.Infof("backend url: %s (%s)", b.getLocked(), b.sourceLocked())
}

// Get 当前生效的 base URL
func (b *Backend) Get() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.getLocked()
}

// Source 当前生效地址的来源
func (b *Backend) Source() Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sourceLocked()
}

// Set 写入本地存储覆盖并持久化。
// 运行期覆盖会被清除，否则新地址不会生效。
func (b *Backend) Set(url string) {
	url = normalizeURL(url)
	if url == "" {
		return
	}

	b.mu.Lock()
	b.runtime = ""
	b.stored = url
	b.mu.Unlock()

	if b.kv != nil {
		if err := b.kv.Save(BackendURLKey, url); err != nil {
			backendLog.WithError(err).Warn("persist backend url failed")
		}
	}
	backendLog.Infof("backend url set to %s", url)
}

// Reset 删除本地存储覆盖
func (b *Backend) Reset() {
	b.mu.Lock()
	b.stored = ""
	b.mu.Unlock()
	if b.kv != nil {
		b.kv.Remove(BackendURLKey)
	}
}

func (b *Backend) getLocked() string {
	switch {
	case b.runtime != "":
		return b.runtime
	case b.stored != "":
		return b.stored
	default:
		return b.fallback
	}
}

func (b *Backend) sourceLocked() Source {
	switch {
	case b.runtime != "":
		return SourceRuntime
	case b.stored != "":
		return SourceStored
	default:
		return SourceDefault
	}
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
