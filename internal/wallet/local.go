package wallet

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/pkg/config"
)

// LocalProvider 持有本地密钥的钱包
type LocalProvider struct {
	key       solana.PrivateKey
	source    string
	authorize Authorizer

	mu        sync.Mutex
	connected bool
}

// NewLocalProvider authorize 为 nil 时自动批准连接
func NewLocalProvider(key solana.PrivateKey, source string, authorize Authorizer) *LocalProvider {
	return &LocalProvider{key: key, source: source, authorize: authorize}
}

func (p *LocalProvider) Name() string { return ProviderLocal }

// Source 密钥来源（keypair file / mnemonic / secretstore），日志用
func (p *LocalProvider) Source() string { return p.source }

func (p *LocalProvider) PublicKey() solana.PublicKey { return p.key.PublicKey() }

func (p *LocalProvider) Connect(ctx context.Context) (solana.PublicKey, error) {
	pk := p.key.PublicKey()
	if p.authorize != nil {
		if err := p.authorize(ctx, pk); err != nil {
			return solana.PublicKey{}, fmt.Errorf("%w: %v", domain.ErrAuthorizationDenied, err)
		}
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return pk, nil
}

func (p *LocalProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

func (p *LocalProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return domain.ErrNotInitialized
	}
	return signWith(p.key, tx)
}

func (p *LocalProvider) SignAllTransactions(ctx context.Context, txs []*solana.Transaction) error {
	for i, tx := range txs {
		if err := p.SignTransaction(ctx, tx); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

func signWith(key solana.PrivateKey, tx *solana.Transaction) error {
	pk := key.PublicKey()
	if !tx.Message.IsSigner(pk) {
		return fmt.Errorf("%s is not a signer of this transaction", pk)
	}
	_, err := tx.PartialSign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(pk) {
			return &key
		}
		return nil
	})
	return err
}

// detectLocal 依次尝试 keypair 文件、助记词、secret store、solana CLI 默认密钥
func detectLocal(cfg config.WalletConfig, opts DetectOptions) (Provider, error) {
	authorize := opts.Authorizer
	if cfg.AutoApprove {
		authorize = nil
	}

	if cfg.KeypairFile != "" {
		key, err := LoadKeypairFile(cfg.KeypairFile)
		if err != nil {
			return nil, err
		}
		return NewLocalProvider(key, "keypair_file", authorize), nil
	}
	if cfg.Mnemonic != "" {
		key, err := KeyFromMnemonic(cfg.Mnemonic, cfg.MnemonicPassphrase)
		if err != nil {
			return nil, err
		}
		return NewLocalProvider(key, "mnemonic", authorize), nil
	}
	if opts.Secrets != nil && cfg.SecretName != "" {
		key, found, err := LoadStoredKey(opts.Secrets, cfg.SecretName)
		if err != nil {
			return nil, err
		}
		if found {
			return NewLocalProvider(key, "secretstore", authorize), nil
		}
	}
	if path := DefaultKeypairPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			key, err := LoadKeypairFile(path)
			if err != nil {
				return nil, err
			}
			return NewLocalProvider(key, "solana_cli", authorize), nil
		}
	}
	return nil, nil
}
