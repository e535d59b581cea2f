package probe

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCooldown   = 30 * time.Second
	DefaultTimeout    = 5 * time.Second
	DefaultHealthPath = "/health"
)

var probeLog = logrus.WithField("component", "probe")

// URLStore 当前后端地址（config.Backend 实现了该接口）
type URLStore interface {
	Get() string
	Set(url string)
}

// Result 一次探测的结果
type Result struct {
	Success   bool      `json:"success"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

type Options struct {
	Store URLStore
	// Fallbacks 当前地址不可达时依次尝试
	Fallbacks  []string
	HealthPath string
	Cooldown   time.Duration
	// Timeout 单个候选的超时
	Timeout time.Duration
	Now     func() time.Time
}

// Prober 按顺序探测候选后端，第一个 2xx 的地址写回 Store。
// 冷却期内重复调用直接返回上次结果。
type Prober struct {
	store      URLStore
	fallbacks  []string
	healthPath string
	cooldown   time.Duration
	now        func() time.Time
	client     *resty.Client

	mu   sync.Mutex
	last *Result
}

func New(opts Options) *Prober {
	if opts.HealthPath == "" {
		opts.HealthPath = DefaultHealthPath
	}
	if !strings.HasPrefix(opts.HealthPath, "/") {
		opts.HealthPath = "/" + opts.HealthPath
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Prober{
		store:      opts.Store,
		fallbacks:  opts.Fallbacks,
		healthPath: opts.HealthPath,
		cooldown:   opts.Cooldown,
		now:        opts.Now,
		client:     resty.New().SetTimeout(opts.Timeout),
	}
}

// Test 返回连通性结果，从不返回错误
func (p *Prober) Test(ctx context.Context) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.last != nil && p.now().Sub(p.last.Timestamp) < p.cooldown {
		return *p.last
	}

	res := Result{Timestamp: p.now()}
	for _, candidate := range p.candidates() {
		if ctx.Err() != nil {
			break
		}
		if p.healthy(ctx, candidate) {
			res.Success = true
			res.URL = candidate
			if p.store != nil && p.store.Get() != candidate {
				p.store.Set(candidate)
				probeLog.Infof("backend switched to %s", candidate)
			}
			break
		}
	}
	if !res.Success && ctx.Err() != nil {
		// 探测被中途取消，不缓存
		probeLog.WithError(ctx.Err()).Debug("probe cancelled")
		return res
	}
	if !res.Success {
		probeLog.Warn("no reachable backend")
	}
	p.last = &res
	return res
}

// Last 上次探测结果，没有时 ok=false
func (p *Prober) Last() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// Invalidate 清除缓存结果，下次 Test 重新探测
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.last = nil
	p.mu.Unlock()
}

// candidates 当前地址在前，去重
func (p *Prober) candidates() []string {
	seen := map[string]bool{}
	var out []string
	add := func(u string) {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	if p.store != nil {
		add(p.store.Get())
	}
	for _, u := range p.fallbacks {
		add(u)
	}
	return out
}

func (p *Prober) healthy(ctx context.Context, base string) bool {
	resp, err := p.client.R().SetContext(ctx).Get(base + p.healthPath)
	if err != nil {
		probeLog.WithError(err).Debugf("probe %s failed", base)
		return false
	}
	if !resp.IsSuccess() {
		probeLog.Debugf("probe %s: %s", base, resp.Status())
		return false
	}
	return true
}
