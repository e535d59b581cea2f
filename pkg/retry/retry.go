// Package retry runs an operation repeatedly with linear or exponential backoff.
package retry

import (
	"context"
	"time"
)

// Backoff 退避策略
type Backoff int

const (
	// Linear 第 n 次失败后等待 BaseDelay*n
	Linear Backoff = iota
	// Exponential 第 n 次失败后等待 BaseDelay*2^(n-1)
	Exponential
)

func (b Backoff) String() string {
	switch b {
	case Linear:
		return "linear"
	case Exponential:
		return "exponential"
	default:
		return "unknown"
	}
}

// Policy 重试策略
type Policy struct {
	// MaxRetries 最多尝试次数（包含第一次调用），<=0 时按 1 处理
	MaxRetries int
	BaseDelay  time.Duration
	Backoff    Backoff

	// OnRetry 每次等待前调用，attempt 为刚失败的尝试序号（从 1 开始）
	OnRetry func(attempt int, err error)
	// Retryable 返回 false 时立即停止并返回该错误；nil 表示所有错误都重试
	Retryable func(err error) bool

	// sleep 可替换，测试用
	sleep func(ctx context.Context, d time.Duration) error
}

// Delay 返回第 attempt 次失败后的等待时长
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Backoff {
	case Exponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		return p.BaseDelay * time.Duration(1<<shift)
	default:
		return p.BaseDelay * time.Duration(attempt)
	}
}

// Func 被重试的操作
type Func func(ctx context.Context, attempt int) error

// Do 执行 fn 直到成功、不可重试、用尽次数或 ctx 取消。
// 用尽次数时返回最后一次错误。
func Do(ctx context.Context, p Policy, fn Func) error {
	attempts := p.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
