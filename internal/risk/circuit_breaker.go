package risk

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续提交交易。
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 连续提交失败上限。
	MaxConsecutiveErrors int64

	// DailySubmissionLimit 当日最多提交的交易笔数（只计真实提交，不计模拟）。
	DailySubmissionLimit int64
}

// Status 断路器状态快照
type Status struct {
	Halted               bool  `json:"halted"`
	ConsecutiveErrors    int64 `json:"consecutive_errors"`
	DailySubmissions     int64 `json:"daily_submissions"`
	MaxConsecutiveErrors int64 `json:"max_consecutive_errors"`
	DailySubmissionLimit int64 `json:"daily_submission_limit"`
}

// CircuitBreaker 快路径全部使用原子变量，nil 接收者表示不启用。
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveErrors atomic.Int64
	dailySubmissions  atomic.Int64
	dayKey            atomic.Int64 // YYYYMMDD

	maxConsecutiveErrors atomic.Int64
	dailySubmissionLimit atomic.Int64

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.dailySubmissionLimit.Store(cfg.DailySubmissionLimit)
}

// Halt 手动熔断。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复（同时清空连续错误计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

// Allow 提交前检查是否允许。
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}

	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}

	// 连续错误熔断
	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr > 0 && cb.consecutiveErrors.Load() >= maxErr {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}

	// 当日提交次数上限：只拒绝，不熔断，跨天自动恢复
	limit := cb.dailySubmissionLimit.Load()
	if limit > 0 {
		cb.rollDayIfNeeded()
		if cb.dailySubmissions.Load() >= limit {
			return ErrCircuitBreakerOpen
		}
	}

	return nil
}

// OnSubmitted 一次真实提交被节点接受后调用。
func (cb *CircuitBreaker) OnSubmitted() {
	if cb == nil {
		return
	}
	cb.rollDayIfNeeded()
	cb.dailySubmissions.Add(1)
	cb.consecutiveErrors.Store(0)
}

// OnError 一次提交失败后调用。
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// Status 返回当前状态。
func (cb *CircuitBreaker) Status() Status {
	if cb == nil {
		return Status{}
	}
	cb.rollDayIfNeeded()
	return Status{
		Halted:               cb.halted.Load(),
		ConsecutiveErrors:    cb.consecutiveErrors.Load(),
		DailySubmissions:     cb.dailySubmissions.Load(),
		MaxConsecutiveErrors: cb.maxConsecutiveErrors.Load(),
		DailySubmissionLimit: cb.dailySubmissionLimit.Load(),
	}
}

func (cb *CircuitBreaker) rollDayIfNeeded() {
	now := cb.now()
	key := int64(now.Year()*10000 + int(now.Month())*100 + now.Day())
	prev := cb.dayKey.Load()
	if prev == key {
		return
	}
	// 切换 dayKey 成功者负责清零当日计数
	if cb.dayKey.CompareAndSwap(prev, key) {
		cb.dailySubmissions.Store(0)
	}
}
