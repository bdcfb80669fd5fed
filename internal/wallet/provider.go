// Package wallet 管理与钱包能力之间的会话：检测、连接/断开、签名，
// 以及地址与 SOL 余额的订阅流。
package wallet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/pkg/config"
	"github.com/betbot/solbook/pkg/logger"
	"github.com/betbot/solbook/pkg/secretstore"
)

// Provider 钱包能力
type Provider interface {
	Name() string
	// Connect 请求授权，成功后返回钱包地址
	Connect(ctx context.Context) (solana.PublicKey, error)
	Disconnect(ctx context.Context) error
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
	SignAllTransactions(ctx context.Context, txs []*solana.Transaction) error
}

// Authorizer 连接授权回调，返回错误表示拒绝
type Authorizer func(ctx context.Context, pubkey solana.PublicKey) error

// DetectOptions 检测 provider 时可用的外部资源
type DetectOptions struct {
	Secrets    *secretstore.Store
	Authorizer Authorizer
}

// Factory 根据配置构造 provider；环境中没有可用能力时返回 (nil, nil)
type Factory func(cfg config.WalletConfig, opts DetectOptions) (Provider, error)

const (
	ProviderLocal = "local"
	ProviderNone  = "none"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register(ProviderLocal, detectLocal)
}

// Register 按名字注册 provider，重复注册覆盖旧值
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = f
}

// Registered 已注册的 provider 名字
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Detect 唯一探测环境的入口。没有检测到钱包能力时返回 (nil, nil)，
// 会话照常创建，Connect 时返回 ErrProviderUnavailable。
func Detect(cfg config.WalletConfig, opts DetectOptions) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch name {
	case ProviderNone:
		return nil, nil
	case "":
		name = ProviderLocal
	}

	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown wallet provider %q (registered: %s)", name, strings.Join(Registered(), ", "))
	}

	p, err := f(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("detect wallet provider %s: %w", name, err)
	}
	if p == nil {
		logger.Component("wallet").WithField("provider", name).Info("未检测到钱包")
		return nil, nil
	}
	logger.Component("wallet").WithField("provider", p.Name()).Info("检测到钱包")
	return p, nil
}
