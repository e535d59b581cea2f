package botsync

import "time"

// Level 通知级别
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notice 面向用户的提示
type Notice struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier 展示用户提示（toast、状态栏、WebSocket 推送）
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc 函数适配器
type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
