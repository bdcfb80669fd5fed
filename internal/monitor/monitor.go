// Package monitor 在钱包连接期间定时轮询网络状态、连接健康与 SOL 余额。
// 轮询随地址流启动和停止，不会比会话活得更久。
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/wallet"
	"github.com/betbot/solbook/pkg/logger"
	"github.com/betbot/solbook/pkg/sdk/solrpc"
	"github.com/betbot/solbook/pkg/syncgroup"
)

// Network 网络侧数据源，*chain.Client 实现
type Network interface {
	GetNetworkStatus(ctx context.Context) (*chain.NetworkStatus, error)
	GetConnectionHealth(ctx context.Context) solrpc.Health
}

// Wallet 会话侧数据源，*wallet.Session 实现
type Wallet interface {
	SubscribeAddress(ch chan<- wallet.AddressEvent) event.Subscription
	RefreshBalance(ctx context.Context, address *solana.PublicKey) *decimal.Decimal
}

type Intervals struct {
	Network time.Duration
	Health  time.Duration
	Balance time.Duration
}

func (iv Intervals) withDefaults() Intervals {
	if iv.Network <= 0 {
		iv.Network = 30 * time.Second
	}
	if iv.Health <= 0 {
		iv.Health = 15 * time.Second
	}
	if iv.Balance <= 0 {
		iv.Balance = 30 * time.Second
	}
	return iv
}

// Snapshot 最近一次轮询的结果
type Snapshot struct {
	Polling      bool                 `json:"polling"`
	Network      *chain.NetworkStatus `json:"network,omitempty"`
	NetworkError string               `json:"network_error,omitempty"`
	Health       *solrpc.Health       `json:"health,omitempty"`
	Balance      *decimal.Decimal     `json:"balance,omitempty"`
	UpdatedAt    map[string]time.Time `json:"updated_at,omitempty"`
}

type Monitor struct {
	network   Network
	wallet    Wallet
	intervals Intervals

	mu       sync.RWMutex
	snapshot Snapshot

	lifecycle   sync.Mutex
	cancel      context.CancelFunc
	watcher     *syncgroup.SyncGroup
	pollCancel  context.CancelFunc
	pollers     *syncgroup.SyncGroup
	pollRunning bool

	now func() time.Time
	log *logrus.Entry
}

func New(network Network, w Wallet, intervals Intervals) *Monitor {
	return &Monitor{
		network:   network,
		wallet:    w,
		intervals: intervals.withDefaults(),
		snapshot:  Snapshot{UpdatedAt: make(map[string]time.Time)},
		watcher:   syncgroup.NewSyncGroup(),
		pollers:   syncgroup.NewSyncGroup(),
		now:       time.Now,
		log:       logger.Component("monitor"),
	}
}

// Start 订阅地址流；重复调用无副作用
func (m *Monitor) Start(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	ch := make(chan wallet.AddressEvent, 8)
	sub := m.wallet.SubscribeAddress(ch)
	m.watcher.Add(func() {
		defer sub.Unsubscribe()
		defer m.stopPolling()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					m.log.WithError(err).Warn("地址订阅结束")
				}
				return
			case ev := <-ch:
				if ev.Address != nil {
					m.startPolling(ctx)
				} else {
					m.stopPolling()
				}
			}
		}
	})
	m.watcher.Run()
}

// Stop 停止订阅与所有轮询，返回时没有协程在运行
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.watcher.WaitAndClear()
}

// Polling 轮询是否在运行
func (m *Monitor) Polling() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Polling
}

// Snapshot 返回副本
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UpdatedAt = make(map[string]time.Time, len(m.snapshot.UpdatedAt))
	for k, v := range m.snapshot.UpdatedAt {
		s.UpdatedAt[k] = v
	}
	return s
}

func (m *Monitor) startPolling(parent context.Context) {
	if m.pollRunning {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.pollCancel = cancel
	m.pollRunning = true
	m.setPolling(true)

	m.pollers.Add(func() { m.every(ctx, m.intervals.Network, m.pollNetwork) })
	m.pollers.Add(func() { m.every(ctx, m.intervals.Health, m.pollHealth) })
	m.pollers.Add(func() { m.every(ctx, m.intervals.Balance, m.pollBalance) })
	n := m.pollers.Run()
	m.log.WithField("pollers", n).Info("开始轮询")
}

func (m *Monitor) stopPolling() {
	if !m.pollRunning {
		return
	}
	m.pollCancel()
	m.pollers.WaitAndClear()
	m.pollCancel = nil
	m.pollRunning = false
	m.setPolling(false)
	m.log.Info("停止轮询")
}

func (m *Monitor) setPolling(v bool) {
	m.mu.Lock()
	m.snapshot.Polling = v
	m.mu.Unlock()
}

// every 立即执行一次，之后按间隔执行
func (m *Monitor) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (m *Monitor) pollNetwork(ctx context.Context) {
	st, err := m.network.GetNetworkStatus(ctx)
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.snapshot.NetworkError = err.Error()
		m.log.WithError(err).Warn("网络状态查询失败")
		return
	}
	m.snapshot.Network = st
	m.snapshot.NetworkError = ""
	m.snapshot.UpdatedAt["network"] = m.now()
}

func (m *Monitor) pollHealth(ctx context.Context) {
	h := m.network.GetConnectionHealth(ctx)
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	m.snapshot.Health = &h
	m.snapshot.UpdatedAt["health"] = m.now()
	m.mu.Unlock()
}

func (m *Monitor) pollBalance(ctx context.Context) {
	bal := m.wallet.RefreshBalance(ctx, nil)
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	m.snapshot.Balance = bal
	m.snapshot.UpdatedAt["balance"] = m.now()
	m.mu.Unlock()
}
