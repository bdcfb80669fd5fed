package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/metrics"
	"github.com/betbot/solbook/pkg/logger"
)

// ChainReader 会话用到的链上查询
type ChainReader interface {
	GetSOLBalance(ctx context.Context, owner solana.PublicKey) (chain.SOLBalance, error)
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) domain.TokenAccountInfo
}

// AddressEvent 地址变化；断开时 Address 为 nil
type AddressEvent struct {
	Address *solana.PublicKey
	At      time.Time
}

// BalanceEvent SOL 余额变化；未知时 SOL 为 nil
type BalanceEvent struct {
	Address *solana.PublicKey
	SOL     *decimal.Decimal
	At      time.Time
}

// Session 进程内唯一的钱包会话。
// Disconnected -> Connecting -> Connected -> Disconnected，Connecting 中任何失败回到 Disconnected。
type Session struct {
	provider Provider
	chain    ChainReader

	mu      sync.RWMutex
	state   domain.SessionState
	address *solana.PublicKey
	balance *decimal.Decimal
	// gen 在每次 Connect 开始和 Disconnect 时递增，异步结果只在 gen 未变时提交
	gen        uint64
	connecting chan struct{} // Connecting 期间非空，连接结束时关闭

	addressFeed event.Feed
	balanceFeed event.Feed

	now func() time.Time
	log *logrus.Entry
}

// NewSession provider 可以为 nil（未检测到钱包）
func NewSession(provider Provider, reader ChainReader) *Session {
	return &Session{
		provider: provider,
		chain:    reader,
		now:      time.Now,
		log:      logger.Component("wallet"),
	}
}

// HasProvider 是否检测到钱包能力
func (s *Session) HasProvider() bool {
	return s.provider != nil
}

func (s *Session) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

// Connect 请求授权并保存地址，随后刷新余额。
// 已连接时直接返回当前地址；正在连接时等待该次连接结束并返回其结果。
// 连接过程中发生 Disconnect 时，本次授权作废并返回 ErrNotInitialized。
func (s *Session) Connect(ctx context.Context) (solana.PublicKey, error) {
	if s.provider == nil {
		return solana.PublicKey{}, domain.ErrProviderUnavailable
	}

	s.mu.Lock()
	switch s.state {
	case domain.StateConnected:
		cur := *s.address
		s.mu.Unlock()
		return cur, nil
	case domain.StateConnecting:
		wait := s.connecting
		s.mu.Unlock()
		return s.awaitConnect(ctx, wait)
	}
	s.gen++
	gen := s.gen
	done := make(chan struct{})
	s.state = domain.StateConnecting
	s.connecting = done
	s.mu.Unlock()
	defer close(done)

	pk, err := s.provider.Connect(ctx)

	s.mu.Lock()
	if s.gen != gen || s.state != domain.StateConnecting {
		s.mu.Unlock()
		if err == nil {
			if derr := s.provider.Disconnect(ctx); derr != nil {
				s.log.WithError(derr).Warn("撤销过期授权失败")
			}
		}
		s.log.Info("连接期间会话已断开，放弃本次授权")
		return solana.PublicKey{}, fmt.Errorf("%w: disconnected while connecting", domain.ErrNotInitialized)
	}
	s.connecting = nil
	if err != nil {
		s.state = domain.StateDisconnected
		s.mu.Unlock()
		s.log.WithError(err).Warn("钱包连接失败")
		if domain.Kind(err) == "" {
			err = fmt.Errorf("%w: %v", domain.ErrAuthorizationDenied, err)
		}
		return solana.PublicKey{}, err
	}
	addr := pk
	s.state = domain.StateConnected
	s.address = &addr
	s.mu.Unlock()

	metrics.WalletConnects.Add(1)
	s.log.WithFields(logrus.Fields{"provider": s.provider.Name(), "address": pk.String()}).Info("钱包已连接")
	s.addressFeed.Send(AddressEvent{Address: &addr, At: s.now()})

	s.RefreshBalance(ctx, nil)
	return pk, nil
}

// awaitConnect 等待进行中的连接，成功时返回其地址
func (s *Session) awaitConnect(ctx context.Context, wait <-chan struct{}) (solana.PublicKey, error) {
	select {
	case <-wait:
	case <-ctx.Done():
		return solana.PublicKey{}, ctx.Err()
	}
	if addr := s.CurrentAddress(); addr != nil && s.IsConnected() {
		return *addr, nil
	}
	return solana.PublicKey{}, fmt.Errorf("%w: concurrent connect did not complete", domain.ErrNotInitialized)
}

// Disconnect 请求钱包释放会话。无论钱包是否报错，本地地址与余额都会被清空，
// 钱包的错误在清空之后返回。
func (s *Session) Disconnect(ctx context.Context) error {
	var providerErr error
	if s.provider != nil {
		providerErr = s.provider.Disconnect(ctx)
	}

	s.mu.Lock()
	was := s.address
	s.gen++
	s.connecting = nil
	s.state = domain.StateDisconnected
	s.address = nil
	s.balance = nil
	s.mu.Unlock()

	if was != nil {
		at := s.now()
		s.addressFeed.Send(AddressEvent{At: at})
		s.balanceFeed.Send(BalanceEvent{At: at})
		s.log.WithField("address", was.String()).Info("钱包已断开")
	}
	if providerErr != nil {
		s.log.WithError(providerErr).Warn("钱包断开时返回错误，本地状态已清空")
		return fmt.Errorf("disconnect %s: %w", s.provider.Name(), providerErr)
	}
	return nil
}

// CurrentAddress 同步读取，不做 I/O
func (s *Session) CurrentAddress() *solana.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.address == nil {
		return nil
	}
	pk := *s.address
	return &pk
}

// CurrentBalance 最近一次发布的 SOL 余额
func (s *Session) CurrentBalance() *decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.balance == nil {
		return nil
	}
	b := *s.balance
	return &b
}

func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsConnected() bool {
	return s.State() == domain.StateConnected
}

// Snapshot 会话快照
func (s *Session) Snapshot() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.Session{
		Connected: s.state == domain.StateConnected,
		State:     s.state.String(),
		Provider:  s.ProviderName(),
	}
	if s.address != nil {
		pk := *s.address
		out.PublicKey = &pk
	}
	if s.balance != nil {
		b := *s.balance
		out.SOLBalance = &b
	}
	return out
}

// RefreshBalance 查询并发布 SOL 余额，不返回错误：
// 失败时发布 0 并记 warn；既没有传入地址也没有会话时发布 nil。
// 查询期间会话发生过 Connect/Disconnect 时丢弃结果，不发布，返回 nil。
func (s *Session) RefreshBalance(ctx context.Context, address *solana.PublicKey) *decimal.Decimal {
	s.mu.RLock()
	gen := s.gen
	target := address
	if target == nil && s.address != nil {
		pk := *s.address
		target = &pk
	}
	s.mu.RUnlock()

	if target == nil {
		s.publishBalance(gen, nil, nil)
		return nil
	}

	bal := decimal.Zero
	res, err := s.chain.GetSOLBalance(ctx, *target)
	if err != nil {
		metrics.SoftFailures.Add(1)
		s.log.WithField("address", target.String()).WithError(err).Warn("查询 SOL 余额失败，按 0 发布")
	} else {
		bal = res.SOL
	}
	if !s.publishBalance(gen, target, &bal) {
		s.log.WithField("address", target.String()).Debug("会话已变化，丢弃过期余额")
		return nil
	}
	return &bal
}

// publishBalance gen 不变时写入并发布，返回是否提交
func (s *Session) publishBalance(gen uint64, addr *solana.PublicKey, bal *decimal.Decimal) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.balance = bal
	s.mu.Unlock()
	s.balanceFeed.Send(BalanceEvent{Address: addr, SOL: bal, At: s.now()})
	return true
}

// SubscribeAddress 订阅地址变化。Feed 的发送会阻塞到所有订阅者接收，
// ch 应当带缓冲并持续读取。
func (s *Session) SubscribeAddress(ch chan<- AddressEvent) event.Subscription {
	return s.addressFeed.Subscribe(ch)
}

// SubscribeBalance 订阅余额变化，约束同 SubscribeAddress
func (s *Session) SubscribeBalance(ch chan<- BalanceEvent) event.Subscription {
	return s.balanceFeed.Subscribe(ch)
}

// SPLTokenBalance 已连接钱包在 mint 下的余额；未连接返回 ErrNotInitialized，RPC 失败按 0
func (s *Session) SPLTokenBalance(ctx context.Context, mint solana.PublicKey) (domain.TokenAccountInfo, error) {
	addr := s.CurrentAddress()
	if addr == nil || !s.IsConnected() {
		return domain.TokenAccountInfo{}, domain.ErrNotInitialized
	}
	return s.chain.GetTokenBalance(ctx, *addr, mint), nil
}

// Signer 当前会话的签名者
func (s *Session) Signer() (chain.Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != domain.StateConnected || s.address == nil || s.provider == nil {
		return nil, domain.ErrNotInitialized
	}
	return &sessionSigner{pubkey: *s.address, provider: s.provider}, nil
}

type sessionSigner struct {
	pubkey   solana.PublicKey
	provider Provider
}

func (s *sessionSigner) PublicKey() solana.PublicKey { return s.pubkey }

func (s *sessionSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.provider.SignTransaction(ctx, tx)
}
