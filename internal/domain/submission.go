package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ExecutionMode 每个写操作独立配置：真实提交或模拟
type ExecutionMode string

const (
	ModeExecute  ExecutionMode = "execute"
	ModeSimulate ExecutionMode = "simulate"
)

// ParseExecutionMode 空字符串返回 def
func ParseExecutionMode(s string, def ExecutionMode) (ExecutionMode, error) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case ModeExecute:
		return ModeExecute, nil
	case ModeSimulate:
		return ModeSimulate, nil
	}
	return def, fmt.Errorf("unknown execution mode %q (execute|simulate)", s)
}

// Operation 写操作名称
type Operation string

const (
	OpCreateMarket     Operation = "create_market"
	OpCreateOpenOrders Operation = "create_open_orders"
	OpPlaceOrder       Operation = "place_order"
	OpCreateTokenMint  Operation = "create_token_mint"
)

// AllOperations 固定顺序，用于状态展示
var AllOperations = []Operation{OpCreateMarket, OpCreateOpenOrders, OpPlaceOrder, OpCreateTokenMint}

// SubmissionResult 写操作的结果；Simulated 为 true 时没有任何链上提交
type SubmissionResult struct {
	Operation Operation     `json:"operation"`
	Signature string        `json:"signature"`
	Mode      ExecutionMode `json:"mode"`
	Simulated bool          `json:"simulated"`
	Confirmed bool          `json:"confirmed"`
	Slot      uint64        `json:"slot,omitempty"`
	At        time.Time     `json:"at"`
}

// SimulatedSignature 模拟操作的签名格式：simulated_<tag>_<unix毫秒>
func SimulatedSignature(tag string, now time.Time) string {
	return fmt.Sprintf("simulated_%s_%d", tag, now.UnixMilli())
}

// MarketCreated createMarket 的结果
type MarketCreated struct {
	SubmissionResult
	Market     solana.PublicKey `json:"market"`
	Descriptor MarketDescriptor `json:"descriptor"`

	// RentLamports 四个账户的免租金额合计，模拟时为 0
	RentLamports uint64 `json:"rent_lamports,omitempty"`
}

// OpenOrdersCreated createOpenOrdersAccount 的结果
type OpenOrdersCreated struct {
	SubmissionResult
	Market     solana.PublicKey `json:"market"`
	OpenOrders solana.PublicKey `json:"open_orders"`
}

// OrderPlaced placeOrder 的结果
type OrderPlaced struct {
	SubmissionResult
	Request OrderRequest `json:"request"`
}

// MintCreated createTokenMint 的结果
type MintCreated struct {
	SubmissionResult
	Mint      solana.PublicKey `json:"mint"`
	Decimals  uint8            `json:"decimals"`
	Authority solana.PublicKey `json:"authority"`
}
