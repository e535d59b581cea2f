package botsync

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/botdash/internal/botapi"
	"github.com/betbot/botdash/pkg/ratelimit"
	"github.com/betbot/botdash/pkg/retry"
	httpclient "github.com/betbot/botdash/pkg/sdk/http"
	"github.com/betbot/botdash/pkg/syncgroup"
)

// 本地持久化的 key
const (
	KeyBotsCache       = "bots_cache"
	KeyDeletedBotCodes = "deleted_bot_codes"
)

const (
	DefaultMinRefreshInterval = 5 * time.Second
	DefaultEnrichConcurrency  = 2
)

var syncLog = logrus.WithField("component", "botsync")

// ResourceClient 远程服务（botapi.Client 实现了该接口）
type ResourceClient interface {
	ListBotFiles(ctx context.Context) ([]string, error)
	CreateBot(ctx context.Context, fileID, apiKey string) error
	DeleteBotFile(ctx context.Context, fileID string) error
	DeleteMedia(ctx context.Context, fileID string, media botapi.Media) error
	SaveImage(ctx context.Context, kind botapi.ImageKind, code, fileID, data string) error
	SaveText(ctx context.Context, kind botapi.TextKind, code, text string) error
	FetchResource(ctx context.Context, res botapi.Resource, code string) (string, error)
	InvalidateResource(res botapi.Resource, code string)
}

// Store 本地持久化（persistence.Store 实现了该接口）
type Store interface {
	Load(key string, out interface{}) bool
	Save(key string, v interface{}) error
}

// Options 同步器参数
type Options struct {
	Client  ResourceClient
	Store   Store
	BaseURL func() string

	Notifier Notifier
	// OnChange 每次状态变化后以最新快照调用，按变化顺序串行执行，回调内不能再调用写操作
	OnChange func(Snapshot)

	// MinRefreshInterval 两次刷新的最小间隔，0 使用默认值，负数表示不限制
	MinRefreshInterval time.Duration
	// PollInterval 后台轮询间隔，0 表示不轮询
	PollInterval      time.Duration
	EnrichConcurrency int

	// Retry 文本更新（线性退避）
	Retry retry.Policy
	// ImageRetry 图片上传（指数退避）
	ImageRetry retry.Policy

	// Watch 其他进程修改的持久化 key
	Watch <-chan string

	Now func() time.Time
}

// Snapshot 只读视图
type Snapshot struct {
	Bots        []Bot     `json:"bots"`
	Loading     bool      `json:"loading"`
	Refreshing  bool      `json:"refreshing"`
	LastRefresh time.Time `json:"lastRefresh"`
}

// Synchronizer 维护 bot 集合：服务端列表、本地缓存、墓碑、失败记忆。
// 所有写入都是整体替换切片，互相之间 last-write-wins。
type Synchronizer struct {
	client   ResourceClient
	store    Store
	baseURL  func() string
	notifier Notifier
	onChange func(Snapshot)

	concurrency int
	pollEvery   time.Duration
	retry       retry.Policy
	imageRetry  retry.Policy
	watch       <-chan string
	now         func() time.Time

	gate       *ratelimit.SlidingWindow
	refreshing atomic.Bool
	closed     atomic.Bool
	memo       *FailureMemo

	// persistMu 从替换到落盘、回调全程持有，保证写盘与 OnChange 顺序和内存替换一致。
	// 加锁顺序：persistMu 先于 mu
	persistMu   sync.Mutex
	mu          sync.Mutex
	bots        []Bot
	tombstones  map[string]struct{}
	loading     bool
	lastRefresh time.Time

	cancel     context.CancelFunc
	loopWG     sync.WaitGroup
	background sync.WaitGroup
}

// New 创建同步器，并立即用本地缓存填充集合
func New(opts Options) *Synchronizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BaseURL == nil {
		opts.BaseURL = func() string { return "" }
	}
	if opts.MinRefreshInterval == 0 {
		opts.MinRefreshInterval = DefaultMinRefreshInterval
	}
	if opts.MinRefreshInterval < 0 {
		opts.MinRefreshInterval = 0
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = DefaultEnrichConcurrency
	}

	s := &Synchronizer{
		client:      opts.Client,
		store:       opts.Store,
		baseURL:     opts.BaseURL,
		notifier:    opts.Notifier,
		onChange:    opts.OnChange,
		concurrency: opts.EnrichConcurrency,
		pollEvery:   opts.PollInterval,
		retry:       writePolicy(opts.Retry, retry.Linear, "text"),
		imageRetry:  writePolicy(opts.ImageRetry, retry.Exponential, "image"),
		watch:       opts.Watch,
		now:         opts.Now,
		gate:        ratelimit.NewSlidingWindowWithClock(1, opts.MinRefreshInterval, ratelimit.Clock(opts.Now)),
		memo:        NewFailureMemo(),
		tombstones:  map[string]struct{}{},
		loading:     true,
	}
	s.seed()
	return s
}

// writePolicy 固定退避方式，只重试可恢复错误
func writePolicy(p retry.Policy, backoff retry.Backoff, what string) retry.Policy {
	p.Backoff = backoff
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Retryable == nil {
		p.Retryable = httpclient.IsTransient
	}
	onRetry := p.OnRetry
	p.OnRetry = func(attempt int, err error) {
		syncLog.WithError(err).Warnf("%s update attempt %d failed, retrying", what, attempt)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return p
}

func (s *Synchronizer) seed() {
	var cached []Bot
	if s.store != nil && s.store.Load(KeyBotsCache, &cached) && len(cached) > 0 {
		s.bots = cached
		s.loading = false
		syncLog.Infof("seeded %d bots from local cache", len(cached))
	}
	var codes []string
	if s.store != nil && s.store.Load(KeyDeletedBotCodes, &codes) {
		for _, c := range codes {
			s.tombstones[c] = struct{}{}
		}
	}
	if len(s.tombstones) > 0 {
		s.bots = withoutTombstoned(s.bots, s.tombstones)
	}
}

// Start 立即刷新一次，然后按 PollInterval 轮询，并处理 Watch 事件。
// ctx 结束或 Close 后停止。
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		s.run(ctx)
	}()
}

func (s *Synchronizer) run(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		syncLog.WithError(err).Warn("initial refresh failed")
	}

	var tick <-chan time.Time
	if s.pollEvery > 0 {
		ticker := time.NewTicker(s.pollEvery)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			if err := s.Refresh(ctx); err != nil {
				syncLog.WithError(err).Debug("poll refresh failed")
			}
		case key, ok := <-s.watch:
			if !ok {
				s.watch = nil
				continue
			}
			s.handleExternalChange(key)
		}
	}
}

// Close 停止后台循环。之后完成的在途操作不再修改内存状态，也不触发回调。
func (s *Synchronizer) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.loopWG.Wait()
	s.memo.Close()
}

// Drain 等待后台的媒体删除完成，ctx 结束时放弃等待
func (s *Synchronizer) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot 返回当前状态的深拷贝
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		Bots:        cloneBots(s.bots),
		Loading:     s.loading,
		Refreshing:  s.refreshing.Load(),
		LastRefresh: s.lastRefresh,
	}
}

// Bot 按 code 查找
func (s *Synchronizer) Bot(code string) (Bot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bots {
		if b.Code == code {
			return b.Clone(), true
		}
	}
	return Bot{}, false
}

// Tombstones 已删除的 code（排序）
func (s *Synchronizer) Tombstones() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedCodes(s.tombstones)
}

// mutate 在锁内以新切片替换集合。返回 false 表示已关闭。
func (s *Synchronizer) mutate(fn func(bots []Bot) []Bot) bool {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return false
	}
	s.bots = fn(s.bots)
	bots := s.bots
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persistBots(bots)
	s.emit(snap)
	return true
}

func (s *Synchronizer) persistBots(bots []Bot) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(KeyBotsCache, bots); err != nil {
		syncLog.WithError(err).Error("persist bots failed")
	}
}

func (s *Synchronizer) persistTombstones(codes []string) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(KeyDeletedBotCodes, codes); err != nil {
		syncLog.WithError(err).Error("persist tombstones failed")
	}
}

func (s *Synchronizer) emit(snap Snapshot) {
	if s.onChange != nil && !s.closed.Load() {
		s.onChange(snap)
	}
}

func (s *Synchronizer) emitCurrent() {
	if s.onChange == nil || s.closed.Load() {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.emit(s.Snapshot())
}

// swapTombstones 在锁内计算新的墓碑集合并替换，随后按替换顺序落盘。
// fn 返回 nil 表示不变。
func (s *Synchronizer) swapTombstones(fn func(cur map[string]struct{}) map[string]struct{}) bool {
	// 没有变化时不等待 persistMu
	s.mu.Lock()
	unchanged := fn(s.tombstones) == nil
	s.mu.Unlock()
	if unchanged {
		return false
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	next := fn(s.tombstones)
	if next == nil {
		s.mu.Unlock()
		return false
	}
	s.tombstones = next
	codes := sortedCodes(next)
	s.mu.Unlock()

	s.persistTombstones(codes)
	return true
}

func (s *Synchronizer) notify(level Level, msg string) {
	if s.notifier == nil || s.closed.Load() {
		return
	}
	s.notifier.Notify(Notice{Level: level, Message: msg, Time: s.now()})
}

// Refresh 拉取服务端列表并重建集合。
// 已有刷新在进行时直接返回；距上次刷新不足最小间隔时直接返回。
// 列表接口失败时回退到本地缓存（非空则返回 nil）。
func (s *Synchronizer) Refresh(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		syncLog.Debug("refresh already in flight, skipped")
		return nil
	}
	if !s.gate.Allow() {
		s.refreshing.Store(false)
		syncLog.Debug("refresh throttled")
		return nil
	}
	defer func() {
		s.refreshing.Store(false)
		s.emitCurrent()
	}()
	s.emitCurrent()

	files, err := s.client.ListBotFiles(ctx)
	if err != nil {
		return s.fallbackToCache(err)
	}

	s.mu.Lock()
	tombstones := s.tombstones
	s.mu.Unlock()

	base := s.baseURL()
	var entries []Bot
	for _, f := range files {
		name, code, ok := ParseFileName(f)
		if !ok {
			syncLog.Debugf("skip unrecognised file %q", f)
			continue
		}
		if _, deleted := tombstones[code]; deleted {
			continue
		}
		entries = append(entries, Bot{Code: code, Name: name, URL: BuildURL(base, name, code)})
	}

	syncgroup.Batches(len(entries), s.concurrency, func(i int) {
		s.enrich(ctx, &entries[i])
	})

	s.persistMu.Lock()
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		s.persistMu.Unlock()
		return nil
	}
	// 刷新期间可能有新的删除
	bots := withoutTombstoned(entries, s.tombstones)
	bots = carryAPIKeys(bots, s.bots)
	s.bots = bots
	s.loading = false
	s.lastRefresh = s.now()
	s.mu.Unlock()
	s.persistBots(bots)
	s.persistMu.Unlock()

	syncLog.Infof("refreshed %d bots", len(bots))
	return nil
}

// enrich 并发拉取一个 bot 的可选资源，单个资源失败只留空字段
func (s *Synchronizer) enrich(ctx context.Context, b *Bot) {
	var mu sync.Mutex
	sg := syncgroup.NewSyncGroup()
	for _, res := range botapi.Resources {
		res := res
		key := failureKey(b.Code, res)
		if s.memo.Has(key) {
			continue
		}
		sg.Add(func() {
			v, err := s.client.FetchResource(ctx, res, b.Code)
			if err != nil {
				if httpclient.IsNotFound(err) {
					s.memo.Record(key)
					return
				}
				syncLog.WithError(err).Debugf("fetch %s for %s failed", res, b.Code)
				return
			}
			if v == "" {
				return
			}
			mu.Lock()
			b.setResource(res, v)
			mu.Unlock()
		})
	}
	sg.RunAndWait()
}

func (s *Synchronizer) fallbackToCache(listErr error) error {
	syncLog.WithError(listErr).Warn("list bots failed")

	var cached []Bot
	if s.store != nil && s.store.Load(KeyBotsCache, &cached) && len(cached) > 0 {
		adopted := s.mutate(func(_ []Bot) []Bot {
			s.loading = false
			return withoutTombstoned(cached, s.tombstones)
		})
		if adopted {
			s.notify(LevelInfo, "Unable to reach the server, using cached data")
		}
		return nil
	}

	s.mu.Lock()
	if !s.closed.Load() {
		s.loading = false
	}
	s.mu.Unlock()
	s.notify(LevelError, "Failed to load bots: "+listErr.Error())
	return errors.Wrap(listErr, "refresh bots")
}

// handleExternalChange 其他进程写入了同一存储
func (s *Synchronizer) handleExternalChange(key string) {
	switch key {
	case KeyDeletedBotCodes, KeyBotsCache:
	default:
		return
	}
	var codes []string
	if s.store == nil || !s.store.Load(KeyDeletedBotCodes, &codes) {
		return
	}

	var merged map[string]struct{}
	grew := s.swapTombstones(func(cur map[string]struct{}) map[string]struct{} {
		next := make(map[string]struct{}, len(cur)+len(codes))
		for c := range cur {
			next[c] = struct{}{}
		}
		for _, c := range codes {
			next[c] = struct{}{}
		}
		if len(next) == len(cur) {
			return nil
		}
		merged = next
		return next
	})
	if !grew {
		return
	}
	syncLog.Infof("merged tombstones from another process (%d total)", len(merged))
	s.mutate(func(bots []Bot) []Bot {
		return withoutTombstoned(bots, merged)
	})
}

func withoutTombstoned(bots []Bot, tombstones map[string]struct{}) []Bot {
	out := make([]Bot, 0, len(bots))
	for _, b := range bots {
		if _, deleted := tombstones[b.Code]; !deleted {
			out = append(out, b)
		}
	}
	return out
}

// carryAPIKeys 服务端不返回 apiKey，沿用内存中已知的值
func carryAPIKeys(fresh, prev []Bot) []Bot {
	keys := make(map[string]string, len(prev))
	for _, b := range prev {
		if b.APIKey != "" {
			keys[b.Code] = b.APIKey
		}
	}
	for i := range fresh {
		if k, ok := keys[fresh[i].Code]; ok {
			fresh[i].APIKey = k
		}
	}
	return fresh
}

func sortedCodes(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
