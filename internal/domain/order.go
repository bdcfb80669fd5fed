package domain

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Side 订单方向（与链上枚举序号一致）
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideAsk {
		return "Ask"
	}
	return "Bid"
}

// ParseSide 支持 bid/ask 以及 buy/sell
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid", "buy":
		return SideBid, nil
	case "ask", "sell":
		return SideAsk, nil
	}
	return SideBid, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
}

// OrderType 订单类型（与链上枚举序号一致）
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypePostOnly
	OrderTypeMarket
	OrderTypePostOnlySlide
	OrderTypeFillOrKill
)

var orderTypeNames = []string{"Limit", "ImmediateOrCancel", "PostOnly", "Market", "PostOnlySlide", "FillOrKill"}

func (t OrderType) String() string {
	if int(t) < len(orderTypeNames) {
		return orderTypeNames[t]
	}
	return fmt.Sprintf("OrderType(%d)", uint8(t))
}

// ParseOrderType 大小写不敏感，额外接受 IOC / FOK 缩写
func ParseOrderType(s string) (OrderType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "limit":
		return OrderTypeLimit, nil
	case "ioc":
		return OrderTypeImmediateOrCancel, nil
	case "fok":
		return OrderTypeFillOrKill, nil
	}
	for i, name := range orderTypeNames {
		if strings.ToLower(name) == v {
			return OrderType(i), nil
		}
	}
	return OrderTypeLimit, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, s)
}

// SelfTradeBehavior 自成交处理方式（与链上枚举序号一致）
type SelfTradeBehavior uint8

const (
	SelfTradeDecrementTake SelfTradeBehavior = iota
	SelfTradeCancelProvide
	SelfTradeAbortTransaction
)

var selfTradeNames = []string{"DecrementTake", "CancelProvide", "AbortTransaction"}

func (b SelfTradeBehavior) String() string {
	if int(b) < len(selfTradeNames) {
		return selfTradeNames[b]
	}
	return fmt.Sprintf("SelfTradeBehavior(%d)", uint8(b))
}

// ParseSelfTradeBehavior 空字符串为 DecrementTake
func ParseSelfTradeBehavior(s string) (SelfTradeBehavior, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return SelfTradeDecrementTake, nil
	}
	for i, name := range selfTradeNames {
		if strings.ToLower(name) == v {
			return SelfTradeBehavior(i), nil
		}
	}
	return SelfTradeDecrementTake, fmt.Errorf("%w: unknown self trade behavior %q", ErrInvalidOrder, s)
}

// 下单默认值
const (
	DefaultOrderLimit  uint8 = 10
	DefaultOrderExpiry       = 0
)

// OrderInput 用户输入的订单（人类单位的价格/数量）
type OrderInput struct {
	Market            solana.PublicKey  `json:"market"`
	Side              Side              `json:"side"`
	Price             decimal.Decimal   `json:"price"`
	Size              decimal.Decimal   `json:"size"`
	OrderType         OrderType         `json:"order_type"`
	SelfTradeBehavior SelfTradeBehavior `json:"self_trade_behavior"`
	ClientOrderID     uint64            `json:"client_order_id,omitempty"` // 0 表示使用当前毫秒时间戳
	ExpiryTimestamp   uint64            `json:"expiry_timestamp,omitempty"`
	Limit             uint8             `json:"limit,omitempty"` // 0 表示默认 10
	Lots              *LotSpec          `json:"lots,omitempty"`  // 为空时从市场登记表/默认配置解析

	OpenOrdersAccount solana.PublicKey `json:"open_orders_account,omitempty"`
	UserTokenAccount  solana.PublicKey `json:"user_token_account,omitempty"`
	MarketVault       solana.PublicKey `json:"market_vault,omitempty"`
}

// Validate 检查 market / price / size 是否齐全，不做任何 I/O
func (in *OrderInput) Validate() error {
	if in == nil {
		return fmt.Errorf("%w: empty order", ErrInvalidOrder)
	}
	if in.Market.IsZero() {
		return fmt.Errorf("%w: market is required", ErrInvalidOrder)
	}
	if !in.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if !in.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive", ErrInvalidOrder)
	}
	if in.Side > SideAsk {
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, in.Side)
	}
	if int(in.OrderType) >= len(orderTypeNames) {
		return fmt.Errorf("%w: unknown order type %d", ErrInvalidOrder, in.OrderType)
	}
	if int(in.SelfTradeBehavior) >= len(selfTradeNames) {
		return fmt.Errorf("%w: unknown self trade behavior %d", ErrInvalidOrder, in.SelfTradeBehavior)
	}
	if in.Lots != nil && !in.Lots.IsValid() {
		return fmt.Errorf("%w: lot sizes must be positive", ErrInvalidOrder)
	}
	return nil
}

// OrderRequest 换算成 lot 后的链上下单请求，只被一次下单调用消费
type OrderRequest struct {
	Market                    solana.PublicKey  `json:"market"`
	Side                      Side              `json:"side"`
	PriceLots                 int64             `json:"price_lots"`
	MaxBaseLots               int64             `json:"max_base_lots"`
	MaxQuoteLotsIncludingFees int64             `json:"max_quote_lots_including_fees"`
	ClientOrderID             uint64            `json:"client_order_id"`
	OrderType                 OrderType         `json:"order_type"`
	SelfTradeBehavior         SelfTradeBehavior `json:"self_trade_behavior"`
	ExpiryTimestamp           uint64            `json:"expiry_timestamp"`
	Limit                     uint8             `json:"limit"`

	OpenOrdersAccount solana.PublicKey `json:"open_orders_account"`
	UserTokenAccount  solana.PublicKey `json:"user_token_account"`
	MarketVault       solana.PublicKey `json:"market_vault"`
}
