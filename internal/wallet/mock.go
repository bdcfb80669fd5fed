package wallet

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/internal/domain"
)

// MockProvider 测试用钱包，持有真实密钥以便产生有效签名
type MockProvider struct {
	mu sync.Mutex

	Key       solana.PrivateKey
	Connected bool
	Deny      bool // Connect 返回 ErrAuthorizationDenied

	// ConnectGate 非空时 Connect 阻塞到 gate 关闭（模拟等待用户确认）
	ConnectGate chan struct{}

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider with a random key
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Key:         solana.NewWallet().PrivateKey,
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockProvider) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// CallCount returns how many times method was called
func (m *MockProvider) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

func (m *MockProvider) PublicKey() solana.PublicKey { return m.Key.PublicKey() }

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Connect(ctx context.Context) (solana.PublicKey, error) {
	if err := m.trackCall("Connect"); err != nil {
		return solana.PublicKey{}, err
	}
	m.mu.Lock()
	gate := m.ConnectGate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return solana.PublicKey{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Deny {
		return solana.PublicKey{}, domain.ErrAuthorizationDenied
	}
	m.Connected = true
	return m.Key.PublicKey(), nil
}

func (m *MockProvider) Disconnect(ctx context.Context) error {
	err := m.trackCall("Disconnect")
	m.mu.Lock()
	m.Connected = false
	m.mu.Unlock()
	return err
}

func (m *MockProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if err := m.trackCall("SignTransaction"); err != nil {
		return err
	}
	return signWith(m.Key, tx)
}

func (m *MockProvider) SignAllTransactions(ctx context.Context, txs []*solana.Transaction) error {
	if err := m.trackCall("SignAllTransactions"); err != nil {
		return err
	}
	for _, tx := range txs {
		if err := signWith(m.Key, tx); err != nil {
			return err
		}
	}
	return nil
}
