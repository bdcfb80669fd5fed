package syncgroup

import (
	"sync"
)

// SyncGroup 是 sync.WaitGroup 的包装器，自动管理 Add() 和 Done()。
// 一轮的生命周期：Add... -> Run -> Wait/WaitAndClear，然后可以开始下一轮
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	fns     []func()
	running int // 当前运行的 goroutine 数量
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 添加一个 goroutine 函数；上一轮还有 goroutine 在运行时拒绝并返回 false
func (w *SyncGroup) Add(fn func()) bool {
	if fn == nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running > 0 {
		return false
	}
	w.fns = append(w.fns, fn)
	return true
}

// Run 启动所有已添加的 goroutine 并清空列表，返回本次启动的数量
func (w *SyncGroup) Run() int {
	w.mu.Lock()
	if w.running > 0 {
		w.mu.Unlock()
		return 0
	}
	fns := w.fns
	w.fns = nil
	w.running = len(fns)
	// 在锁内 Add，保证 Wait 不会先于 Add 返回
	w.wg.Add(len(fns))
	w.mu.Unlock()

	for _, fn := range fns {
		go func(doFunc func()) {
			defer func() {
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
				w.wg.Done()
			}()
			doFunc()
		}(fn)
	}
	return len(fns)
}

// Running 当前运行中的 goroutine 数量
func (w *SyncGroup) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// WaitAndClear 等待所有 goroutine 完成，并丢弃尚未启动的函数
func (w *SyncGroup) WaitAndClear() {
	w.wg.Wait()

	w.mu.Lock()
	w.fns = nil
	w.mu.Unlock()
}

// Wait 等待所有 goroutine 完成（不清空）
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}
