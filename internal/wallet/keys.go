package wallet

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"

	"github.com/betbot/solbook/pkg/secretstore"
)

// secret store 中密钥的前缀
const SecretPrefix = "keypair/"

// ErrKeyExists 目标名字下已经保存了密钥
var ErrKeyExists = errors.New("keypair already exists")

// KeyFromMnemonic BIP-39 助记词 -> seed，取前 32 字节作为 ed25519 种子
func KeyFromMnemonic(mnemonic, passphrase string) (solana.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if mnemonic == "" {
		return nil, errors.New("mnemonic is empty")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])), nil
}

// NewMnemonic 生成 24 个单词的助记词
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// LoadKeypairFile 读取 solana-keygen 格式（64 字节 JSON 数组）的密钥文件
func LoadKeypairFile(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("keypair %s: %w", path, err)
	}
	return key, nil
}

// DefaultKeypairPath solana CLI 的默认密钥位置
func DefaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// LoadStoredKey 从 secret store 读取密钥（base58）。found=false 表示不存在
func LoadStoredKey(store *secretstore.Store, name string) (solana.PrivateKey, bool, error) {
	raw, found, err := store.GetString(SecretPrefix + name)
	if err != nil || !found {
		return nil, found, err
	}
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(raw))
	if err != nil {
		return nil, true, fmt.Errorf("stored keypair %s: %w", name, err)
	}
	return key, true, nil
}

// StoreKey 保存密钥；overwrite=false 时已存在返回 ErrKeyExists
func StoreKey(store *secretstore.Store, name string, key solana.PrivateKey, overwrite bool) error {
	if !overwrite {
		if _, found, err := store.GetString(SecretPrefix + name); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%s: %w", name, ErrKeyExists)
		}
	}
	return store.SetString(SecretPrefix+name, key.String())
}

// GenerateKeypair 生成新密钥并写入 secret store
func GenerateKeypair(store *secretstore.Store, name string, overwrite bool) (solana.PublicKey, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("generate keypair: %w", err)
	}
	if err := StoreKey(store, name, key, overwrite); err != nil {
		return solana.PublicKey{}, err
	}
	return key.PublicKey(), nil
}

// StoredKeys 列出 secret store 中保存的密钥名字
func StoredKeys(store *secretstore.Store) ([]string, error) {
	keys, err := store.ListKeys(SecretPrefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, SecretPrefix)
	}
	return keys, nil
}
