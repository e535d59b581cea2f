package syncgroup

import (
	"sync"
)

// SyncGroup 是 sync.WaitGroup 的包装器，自动管理 Add() 和 Done()
type SyncGroup struct {
	wg sync.WaitGroup

	mu    sync.Mutex
	funcs []func()
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个待启动的函数，Run 之前调用
func (w *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.funcs = append(w.funcs, fn)
	w.mu.Unlock()
}

// Run 启动所有已添加的函数并清空待启动列表
func (w *SyncGroup) Run() {
	w.mu.Lock()
	fns := w.funcs
	w.funcs = nil
	w.mu.Unlock()

	for _, fn := range fns {
		w.wg.Add(1)
		go func(doFunc func()) {
			defer w.wg.Done()
			doFunc()
		}(fn)
	}
}

// Wait 等待所有已启动的函数完成
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}

// RunAndWait Run + Wait
func (w *SyncGroup) RunAndWait() {
	w.Run()
	w.Wait()
}

// Batches 按 size 分批执行 n 个任务：同一批并发，批与批之间串行。
// 同时在途的任务数不超过 size。
func Batches(n, size int, task func(i int)) {
	if size <= 0 {
		size = 1
	}
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		sg := NewSyncGroup()
		for i := start; i < end; i++ {
			idx := i
			sg.Add(func() { task(idx) })
		}
		sg.RunAndWait()
	}
}
