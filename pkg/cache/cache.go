package cache

import (
	"context"
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Clear()
	Size() int
}

// InMemoryCache 内存缓存实现，ttl < 0 表示永不过期
type InMemoryCache[K comparable, V any] struct {
	items      map[K]*cacheItem[V]
	mu         sync.RWMutex
	defaultTTL time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once

	// 同一个 key 的并发加载只执行一次
	loadMu  sync.Mutex
	loading map[K]*loadCall[V]
}

// cacheItem 缓存项
type cacheItem[V any] struct {
	value     V
	expiresAt time.Time // 零值表示永不过期
}

type loadCall[V any] struct {
	done  chan struct{}
	value V
	err   error
}

func (it *cacheItem[V]) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// NewInMemoryCache 创建新的内存缓存，并启动后台清理（Close 停止）
func NewInMemoryCache[K comparable, V any](defaultTTL time.Duration) *InMemoryCache[K, V] {
	cache := &InMemoryCache[K, V]{
		items:      make(map[K]*cacheItem[V]),
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
		loading:    make(map[K]*loadCall[V]),
	}

	go cache.startCleanup(time.Minute)

	return cache
}

// Get 获取缓存值
func (c *InMemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, exists := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}
	if item.expired(time.Now()) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur == item {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return item.value, true
}

// Set 设置缓存值，ttl 为 0 时使用默认 TTL
func (c *InMemoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	item := &cacheItem[V]{value: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	c.items[key] = item
}

// GetOrLoad 命中则返回缓存值，否则调用 load 并缓存结果（出错不缓存）
func (c *InMemoryCache[K, V]) GetOrLoad(ctx context.Context, key K, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.loadMu.Lock()
	if call, ok := c.loading[key]; ok {
		c.loadMu.Unlock()
		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	call := &loadCall[V]{done: make(chan struct{})}
	c.loading[key] = call
	c.loadMu.Unlock()

	call.value, call.err = load(ctx)
	if call.err == nil {
		c.Set(key, call.value, 0)
	}

	c.loadMu.Lock()
	delete(c.loading, key)
	c.loadMu.Unlock()
	close(call.done)

	return call.value, call.err
}

// Delete 删除缓存项
func (c *InMemoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear 清空缓存
func (c *InMemoryCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*cacheItem[V])
}

// Size 获取缓存大小（包含尚未清理的过期项）
func (c *InMemoryCache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close 停止后台清理，可重复调用
func (c *InMemoryCache[K, V]) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// startCleanup 定期清理过期项
func (c *InMemoryCache[K, V]) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup 清理过期项
func (c *InMemoryCache[K, V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
		}
	}
}
