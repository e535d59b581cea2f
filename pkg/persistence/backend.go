package persistence

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotExists 表示 key 不存在
var ErrNotExists = errors.New("persistence data not exists")

// ErrQuotaExceeded 写入后总量超过 QuotaBytes
var ErrQuotaExceeded = errors.New("persistence quota exceeded")

// Backend 底层 KV 存储
type Backend interface {
	// Get 不存在时返回 ErrNotExists
	Get(key string) ([]byte, error)
	Set(key string, val []byte) error
	// Delete 不存在的 key 不报错
	Delete(key string) error
	// Entries 返回所有以 prefix 开头的条目，prefix 为空时返回全部
	Entries(prefix string) (map[string][]byte, error)
	Close() error
}

// BackendKind 存储后端类型
type BackendKind string

const (
	BackendBadger BackendKind = "badger"
	BackendSQLite BackendKind = "sqlite"
	BackendFile   BackendKind = "file"
)

// OpenOptions 打开后端的参数
type OpenOptions struct {
	Kind BackendKind
	// Path badger 为目录，sqlite 为数据库文件，file 为目录
	Path string
	// EncryptionKey 仅 badger 使用，32 字节
	EncryptionKey []byte
}

// OpenBackend 按类型打开存储后端
func OpenBackend(opts OpenOptions) (Backend, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("persistence: path is required")
	}
	switch opts.Kind {
	case BackendBadger, "":
		return OpenBadger(BadgerOptions{Path: opts.Path, EncryptionKey: opts.EncryptionKey})
	case BackendSQLite:
		return OpenSQLite(opts.Path)
	case BackendFile:
		return NewFileBackend(opts.Path)
	default:
		return nil, fmt.Errorf("persistence: unknown backend %q", opts.Kind)
	}
}

// usage 估算后端占用字节数（key + value）
func usage(entries map[string][]byte) int64 {
	var n int64
	for k, v := range entries {
		n += int64(len(k) + len(v))
	}
	return n
}
