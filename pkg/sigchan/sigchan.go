package sigchan

import "context"

// Chan 是一个非阻塞的信号 channel
// 用于通知事件发生，但不传递数据；缓冲满时多次 Emit 合并为一次
type Chan struct {
	c chan struct{}
}

// New 创建新的信号 channel，bufferSize <= 0 时使用 1
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号（非阻塞）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Wait 阻塞直到收到信号（true）或 ctx 结束（false）
func (c *Chan) Wait(ctx context.Context) bool {
	select {
	case <-c.c:
		return true
	case <-ctx.Done():
		return false
	}
}
