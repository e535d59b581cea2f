package botsync

import (
	"github.com/betbot/botdash/internal/botapi"
	"github.com/betbot/botdash/pkg/cache"
)

// FailureKey 失败记忆的 key
type FailureKey struct {
	BotCode  string
	Endpoint string
	Resource botapi.Resource
}

func failureKey(code string, res botapi.Resource) FailureKey {
	return FailureKey{BotCode: code, Endpoint: res.Endpoint(), Resource: res}
}

// FailureMemo 记录确认不存在（404）的资源，在显式清除前不再请求
type FailureMemo struct {
	entries *cache.InMemoryCache[FailureKey, struct{}]
}

func NewFailureMemo() *FailureMemo {
	return &FailureMemo{entries: cache.NewInMemoryCache[FailureKey, struct{}](0)}
}

func (m *FailureMemo) Has(key FailureKey) bool {
	return m.entries.Has(key)
}

func (m *FailureMemo) Record(key FailureKey) {
	m.entries.Set(key, struct{}{}, 0)
}

func (m *FailureMemo) Forget(key FailureKey) {
	m.entries.Delete(key)
}

// ForgetBot 清除某个 bot 的全部记录，返回清除数量
func (m *FailureMemo) ForgetBot(code string) int {
	return m.entries.DeleteFunc(func(k FailureKey) bool { return k.BotCode == code })
}

func (m *FailureMemo) Len() int {
	return m.entries.Size()
}

func (m *FailureMemo) Close() {
	m.entries.Close()
}
