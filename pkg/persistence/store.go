package persistence

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CachePrefix 响应缓存命名空间，配额不足时只淘汰该命名空间
const CachePrefix = "cache:"

var storeLog = logrus.WithField("component", "persistence")

// Options Store 参数
type Options struct {
	// QuotaBytes 总容量上限（key+value 字节），0 表示不限制
	QuotaBytes int64
	Now        func() time.Time
}

// Store 面向 JSON 值的持久化存储。
// Load 遇到缺失或损坏的数据时返回 false，不会报错；
// Save 只在序列化失败时返回错误，写入失败会淘汰缓存后重试一次，仍失败则记录日志。
type Store struct {
	backend Backend
	quota   int64
	now     func() time.Time
	mu      sync.Mutex

	// sizes 每个 key 的占用（key+value 字节），首次配额检查时扫描一次，之后随写入/删除增量维护。
	// 只统计本进程的写入。
	sizes map[string]int64
	used  int64
}

// cacheEnvelope 响应缓存条目
type cacheEnvelope struct {
	Timestamp int64           `json:"timestamp"` // unix 毫秒
	Data      json.RawMessage `json:"data"`
}

// NewStore 创建 Store
func NewStore(backend Backend, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		backend: backend,
		quota:   opts.QuotaBytes,
		now:     opts.Now,
	}
}

// Backend 返回底层后端
func (s *Store) Backend() Backend { return s.backend }

// Close 关闭底层后端
func (s *Store) Close() error { return s.backend.Close() }

// Save 序列化并写入 key
func (s *Store) Save(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}
	s.write(key, data)
	return nil
}

// Load 读取 key 并反序列化到 out，缺失或损坏时返回 false
func (s *Store) Load(key string, out interface{}) bool {
	data, err := s.backend.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotExists) {
			storeLog.WithError(err).Warnf("load %s failed", key)
		}
		return false
	}
	if len(data) == 0 || !json.Valid(data) {
		storeLog.Warnf("load %s: corrupt data ignored", key)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		storeLog.WithError(err).Warnf("load %s: decode failed", key)
		return false
	}
	return true
}

// Remove 删除 key
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(key); err != nil {
		storeLog.WithError(err).Warnf("remove %s failed", key)
		return
	}
	s.track(key, -1)
}

// CachePut 写入响应缓存条目，记录当前时间
func (s *Store) CachePut(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal cache %s", key)
	}
	env, err := json.Marshal(cacheEnvelope{Timestamp: s.now().UnixMilli(), Data: data})
	if err != nil {
		return errors.Wrapf(err, "marshal cache envelope %s", key)
	}
	s.write(CachePrefix+key, env)
	return nil
}

// CacheGet 读取响应缓存。maxAge <= 0 表示不检查新鲜度。
func (s *Store) CacheGet(key string, maxAge time.Duration, out interface{}) bool {
	var env cacheEnvelope
	if !s.Load(CachePrefix+key, &env) {
		return false
	}
	if maxAge > 0 && s.now().Sub(time.UnixMilli(env.Timestamp)) > maxAge {
		return false
	}
	if len(env.Data) == 0 {
		return false
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		storeLog.WithError(err).Warnf("cache %s: decode failed", key)
		return false
	}
	return true
}

// CacheDelete 删除响应缓存条目
func (s *Store) CacheDelete(key string) {
	s.Remove(CachePrefix + key)
}

func (s *Store) write(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.put(key, data)
	if err == nil {
		return
	}
	storeLog.WithError(err).Warnf("write %s failed, evicting cached responses", key)

	evicted := s.evictOldestCache()
	if err := s.put(key, data); err != nil {
		storeLog.WithError(err).Errorf("write %s failed after evicting %d cached responses", key, evicted)
	}
}

// put 检查配额后写入（调用方持锁）
func (s *Store) put(key string, data []byte) error {
	size := int64(len(key) + len(data))
	if s.quota > 0 {
		if err := s.loadUsage(); err != nil {
			return err
		}
		if s.used-s.sizes[key]+size > s.quota {
			return ErrQuotaExceeded
		}
	}
	if err := s.backend.Set(key, data); err != nil {
		return err
	}
	s.track(key, size)
	return nil
}

// loadUsage 第一次需要时扫描后端统计占用（调用方持锁）
func (s *Store) loadUsage() error {
	if s.sizes != nil {
		return nil
	}
	all, err := s.backend.Entries("")
	if err != nil {
		return err
	}
	s.sizes = make(map[string]int64, len(all))
	for k, v := range all {
		s.sizes[k] = int64(len(k) + len(v))
	}
	s.used = usage(all)
	return nil
}

// track 更新 key 的占用，size < 0 表示已删除（调用方持锁）
func (s *Store) track(key string, size int64) {
	if s.sizes == nil {
		return
	}
	s.used -= s.sizes[key]
	if size < 0 {
		delete(s.sizes, key)
		return
	}
	s.sizes[key] = size
	s.used += size
}

// evictOldestCache 删除按时间戳最旧的一半缓存条目（调用方持锁），返回删除数量。
// 无法解析的条目视为最旧。
func (s *Store) evictOldestCache() int {
	entries, err := s.backend.Entries(CachePrefix)
	if err != nil {
		storeLog.WithError(err).Warn("list cached responses failed")
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	type aged struct {
		key string
		ts  int64
	}
	list := make([]aged, 0, len(entries))
	for k, v := range entries {
		var env cacheEnvelope
		if err := json.Unmarshal(v, &env); err != nil {
			env.Timestamp = 0
		}
		list = append(list, aged{key: k, ts: env.Timestamp})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].ts != list[j].ts {
			return list[i].ts < list[j].ts
		}
		return strings.Compare(list[i].key, list[j].key) < 0
	})

	n := (len(list) + 1) / 2
	evicted := 0
	for _, e := range list[:n] {
		if err := s.backend.Delete(e.key); err != nil {
			storeLog.WithError(err).Warnf("evict %s failed", e.key)
			continue
		}
		s.track(e.key, -1)
		evicted++
	}
	storeLog.Infof("evicted %d/%d cached responses", evicted, len(list))
	return evicted
}
