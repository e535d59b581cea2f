package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// Clock 时间来源（测试中可替换）
type Clock func() time.Time

// SlidingWindow 滑动窗口速率限制器
// limit=1 时退化为"距离上次放行不足 windowSize 则拒绝"的节流门
type SlidingWindow struct {
	limit      int           // 限制数量
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 请求时间戳
	now        Clock
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return NewSlidingWindowWithClock(limit, windowSize, time.Now)
}

// NewSlidingWindowWithClock 使用指定时钟创建滑动窗口
func NewSlidingWindowWithClock(limit int, windowSize time.Duration, now Clock) *SlidingWindow {
	if limit <= 0 {
		limit = 1
	}
	if now == nil {
		now = time.Now
	}
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0, limit),
		now:        now,
	}
}

// prune 移除窗口外的请求（调用方持锁）
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	valid := sw.requests[:0]
	for _, req := range sw.requests {
		if req.After(cutoff) {
			valid = append(valid, req)
		}
	}
	sw.requests = valid
}

// Allow 检查是否允许请求，允许时记录本次请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.windowSize <= 0 {
		return true
	}

	now := sw.now()
	sw.prune(now)

	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		waitTime := time.Until(sw.GetResetTime())
		if waitTime <= 0 {
			waitTime = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// GetRemaining 获取剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	return max(0, sw.limit-len(sw.requests))
}

// GetResetTime 获取最早一条记录滑出窗口的时间
func (sw *SlidingWindow) GetResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.requests) == 0 {
		return sw.now()
	}
	return sw.requests[0].Add(sw.windowSize)
}

// Reset 清空窗口
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.requests = sw.requests[:0]
}
