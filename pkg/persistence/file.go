package persistence

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

const fileExt = ".json"

// FileBackend 每个 key 一个 JSON 文件，写入走 tmp+rename
type FileBackend struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileBackend 创建文件后端，目录不存在时自动创建
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir store dir")
	}
	return &FileBackend{baseDir: baseDir}, nil
}

// Dir 存储目录
func (b *FileBackend) Dir() string { return b.baseDir }

// key 可能含 ':' '/' 等字符，文件名使用 URL 安全 base64
func fileNameForKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + fileExt
}

func keyForFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.baseDir, fileNameForKey(key))
}

func (b *FileBackend) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExists
		}
		return nil, err
	}
	return data, nil
}

func (b *FileBackend) Set(key string, val []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, val, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b *FileBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := os.Remove(b.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *FileBackend) Entries(prefix string) (map[string][]byte, error) {
	dirEntries, err := os.ReadDir(b.baseDir)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	for _, e := range dirEntries {
		if e.IsDir() {
			continue
		}
		key, ok := keyForFileName(e.Name())
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.baseDir, e.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		out[key] = data
	}
	return out, nil
}

func (b *FileBackend) Close() error { return nil }

// Watch 监听目录中其他进程对 key 的修改。
// 返回的 Watcher 需要调用 Stop 释放。
func (b *FileBackend) Watch() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	if err := fsw.Add(b.baseDir); err != nil {
		_ = fsw.Close()
		return nil, errors.Wrapf(err, "watch %s", b.baseDir)
	}

	w := &Watcher{
		watcher: fsw,
		events:  make(chan string, 64),
		errors:  make(chan error, 8),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Watcher 把文件系统事件转换成被修改的 key
type Watcher struct {
	watcher  *fsnotify.Watcher
	events   chan string
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Events 被修改（创建/写入/删除）的 key；Stop 后关闭
func (w *Watcher) Events() <-chan string { return w.events }

// Errors 监听错误；Stop 后关闭
func (w *Watcher) Errors() <-chan error { return w.errors }

// Stop 停止监听并等待事件循环退出
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
		close(w.events)
		close(w.errors)
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// .tmp 文件不是合法 key，rename 完成时会以目标文件名再出现一次
			key, ok := keyForFileName(filepath.Base(ev.Name))
			if !ok {
				continue
			}
			select {
			case w.events <- key:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}
