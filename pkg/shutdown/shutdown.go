package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/solbook/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器：按注册的逆序依次执行（后启动的先关闭）
type Manager struct {
	handlers []namedHandler
	mu       sync.Mutex
	once     sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该带超时；超时后剩余回调仍会以已取消的 ctx 调用，让它们尽快释放资源
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.mu.Lock()
		handlers := m.handlers
		m.mu.Unlock()

		if len(handlers) == 0 {
			logger.Info("没有注册的关闭回调")
			return
		}

		logger.Infof("开始优雅关闭，共 %d 个回调", len(handlers))
		for i := len(handlers) - 1; i >= 0; i-- {
			h := handlers[i]
			if err := h.fn(ctx); err != nil {
				logger.WithField("handler", h.name).Warnf("关闭回调失败: %v", err)
				continue
			}
			logger.WithField("handler", h.name).Debug("关闭回调完成")
		}

		if err := ctx.Err(); err != nil {
			logger.Warnf("关闭超时: %v", err)
			return
		}
		logger.Info("所有关闭回调已完成")
	})
}
