package domain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// SessionState 会话状态机：Disconnected -> Connecting -> Connected -> Disconnected
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Session 会话快照（不持久化）
type Session struct {
	Connected  bool              `json:"connected"`
	State      string            `json:"state"`
	Provider   string            `json:"provider,omitempty"`
	PublicKey  *solana.PublicKey `json:"public_key"`
	SOLBalance *decimal.Decimal  `json:"sol_balance"`
}

// TokenAccountInfo 从链上查询派生，不在请求之外缓存
type TokenAccountInfo struct {
	Address   solana.PublicKey `json:"address"`
	Mint      solana.PublicKey `json:"mint"`
	Owner     solana.PublicKey `json:"owner"`
	RawAmount uint64           `json:"raw_amount"`
	Decimals  uint8            `json:"decimals"`
	Balance   decimal.Decimal  `json:"balance"`
}

// LamportsToSOL lamports / 1e9
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromUint64(lamports).Shift(-9)
}

// AmountToUI 按精度把原始数量换算成展示数量
func AmountToUI(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(-int32(decimals))
}
