package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
	GetResetTime() time.Time
}

// RPC 方法分类，每类一个限制器
const (
	ClassSend    = "rpc:send"    // sendTransaction
	ClassRead    = "rpc:read"    // 普通查询
	ClassScan    = "rpc:scan"    // getProgramAccounts 这类重查询
	ClassGeneral = "rpc:general" // 未分类
)

// ClassFor 根据 JSON-RPC 方法名返回限制器分类
func ClassFor(method string) string {
	switch method {
	case "sendTransaction", "requestAirdrop":
		return ClassSend
	case "getProgramAccounts", "getTokenAccountsByOwner", "getSignaturesForAddress":
		return ClassScan
	case "":
		return ClassGeneral
	}
	return ClassRead
}

// TokenBucket 令牌桶速率限制器，令牌按经过的时间连续补充
type TokenBucket struct {
	capacity   float64   // 桶容量
	tokens     float64   // 当前令牌数
	refillRate float64   // 每秒补充的令牌数
	lastRefill time.Time // 上次补充时间
	mu         sync.Mutex
}

// NewTokenBucket 创建新的令牌桶，refillRate 为每秒补充数
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill 补充令牌，调用方持有锁
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now
	if elapsed <= 0 || tb.refillRate <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
}

// Allow 检查是否允许请求
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 等待直到允许请求
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		// 计算下一个令牌到达的时间
		tb.mu.Lock()
		waitTime := time.Second
		if tb.refillRate > 0 {
			waitTime = time.Duration((1 - tb.tokens) / tb.refillRate * float64(time.Second))
			if waitTime < time.Millisecond {
				waitTime = time.Millisecond
			}
		}
		tb.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRemaining 获取剩余令牌数
func (tb *TokenBucket) GetRemaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return int(tb.tokens)
}

// GetResetTime 获取桶被填满的时间
func (tb *TokenBucket) GetResetTime() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens < tb.capacity && tb.refillRate > 0 {
		seconds := (tb.capacity - tb.tokens) / tb.refillRate
		return time.Now().Add(time.Duration(seconds * float64(time.Second)))
	}
	return time.Now()
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 限制数量
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 请求时间戳（按时间递增）
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
	}
}

// prune 移除窗口外的请求，调用方持有锁
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		// 等到最早的请求滑出窗口
		sw.mu.Lock()
		waitTime := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if d := sw.windowSize - time.Since(sw.requests[0]); d > 0 {
				waitTime = d
			}
		}
		sw.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRemaining 获取剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(time.Now())
	return max(0, sw.limit-len(sw.requests))
}

// GetResetTime 获取重置时间
func (sw *SlidingWindow) GetResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(sw.requests) == 0 {
		return time.Now()
	}
	return sw.requests[0].Add(sw.windowSize)
}

// Rates 各分类的每秒请求数，<= 0 表示该分类不限速
type Rates struct {
	Send float64
	Read float64
	Scan float64
}

// RateLimitManager 速率限制管理器
type RateLimitManager struct {
	limiters map[string]RateLimiter
	mu       sync.RWMutex
}

// NewRateLimitManager 按分类创建限制器。发送和读取用令牌桶（允许一秒的突发），
// 程序账户扫描用 10 秒滑动窗口
func NewRateLimitManager(rates Rates) *RateLimitManager {
	manager := &RateLimitManager{
		limiters: make(map[string]RateLimiter),
	}
	if rates.Send > 0 {
		manager.limiters[ClassSend] = NewTokenBucket(max(1, int(rates.Send)), rates.Send)
	}
	if rates.Read > 0 {
		manager.limiters[ClassRead] = NewTokenBucket(max(1, int(rates.Read)), rates.Read)
	}
	if rates.Scan > 0 {
		manager.limiters[ClassScan] = NewSlidingWindow(max(1, int(rates.Scan*10)), 10*time.Second)
	}
	return manager
}

// SetLimiter 替换某个分类的限制器
func (rlm *RateLimitManager) SetLimiter(class string, limiter RateLimiter) {
	rlm.mu.Lock()
	defer rlm.mu.Unlock()
	if limiter == nil {
		delete(rlm.limiters, class)
		return
	}
	rlm.limiters[class] = limiter
}

// GetLimiter 获取分类的限制器，未配置时返回 nil（不限速）
func (rlm *RateLimitManager) GetLimiter(class string) RateLimiter {
	if rlm == nil {
		return nil
	}
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()

	if limiter, exists := rlm.limiters[class]; exists {
		return limiter
	}
	return rlm.limiters[ClassGeneral]
}

// Wait 等待直到允许请求
func (rlm *RateLimitManager) Wait(ctx context.Context, class string) error {
	limiter := rlm.GetLimiter(class)
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// WaitMethod 按 JSON-RPC 方法名等待
func (rlm *RateLimitManager) WaitMethod(ctx context.Context, method string) error {
	return rlm.Wait(ctx, ClassFor(method))
}

// Allow 检查是否允许请求
func (rlm *RateLimitManager) Allow(class string) bool {
	limiter := rlm.GetLimiter(class)
	if limiter == nil {
		return true
	}
	return limiter.Allow()
}

// GetRemaining 获取剩余请求数，不限速时返回 -1
func (rlm *RateLimitManager) GetRemaining(class string) int {
	limiter := rlm.GetLimiter(class)
	if limiter == nil {
		return -1
	}
	return limiter.GetRemaining()
}
