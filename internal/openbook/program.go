// Package openbook 负责 OpenBook v2 程序的指令编码、账户布局解析与 lot 换算。
// 这里只做纯计算，不发起任何网络请求。
package openbook

import (
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// 测试网默认地址，可通过配置覆盖
var (
	DefaultProgramID      = solana.MustPublicKeyFromBase58("6jRJKV5ya8uvLk8WXYMcJDtx7bTUCXLuScYscenUsUeH")
	DefaultEventAuthority = solana.MustPublicKeyFromBase58("5xN42RZCk7wQ4J7bbpVxVdQN3qWf6KvzqJzJzJzJzJzJ")
)

// 指令名（Anchor 方法名，snake_case）
const (
	IxCreateMarket   = "create_market"
	IxPlaceOrder     = "place_order"
	IxInitOpenOrders = "init_open_orders"
)

// Discriminator 是 Anchor 指令前缀：sha256("global:<name>") 的前 8 字节
type Discriminator [8]byte

// InstructionDiscriminator 计算指令 discriminator
func InstructionDiscriminator(name string) Discriminator {
	return hashPrefix("global:" + name)
}

// AccountDiscriminator 计算账户 discriminator：sha256("account:<Type>") 的前 8 字节
func AccountDiscriminator(typeName string) Discriminator {
	return hashPrefix("account:" + typeName)
}

func hashPrefix(preimage string) Discriminator {
	sum := sha256.Sum256([]byte(preimage))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}

// MarketAccountDiscriminator 市场账户数据的前 8 字节
var MarketAccountDiscriminator = AccountDiscriminator("Market")

// Program 绑定程序 ID 与事件权限账户
type Program struct {
	ID             solana.PublicKey
	EventAuthority solana.PublicKey
}

// NewProgram 解析 base58 地址，空字符串使用测试网默认值
func NewProgram(programID, eventAuthority string) (Program, error) {
	p := Program{ID: DefaultProgramID, EventAuthority: DefaultEventAuthority}
	if programID != "" {
		pk, err := solana.PublicKeyFromBase58(programID)
		if err != nil {
			return Program{}, fmt.Errorf("invalid program id %q: %w", programID, err)
		}
		p.ID = pk
	}
	if eventAuthority != "" {
		pk, err := solana.PublicKeyFromBase58(eventAuthority)
		if err != nil {
			return Program{}, fmt.Errorf("invalid event authority %q: %w", eventAuthority, err)
		}
		p.EventAuthority = pk
	}
	return p, nil
}

// MarketAuthority 市场权限 PDA，seeds = ["Market", market]
func (p Program) MarketAuthority(market solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("Market"), market.Bytes()}, p.ID)
}
