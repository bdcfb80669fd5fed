package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// 链上账户大小（字节）
const (
	MarketAccountSize     = 372
	OrderBookSideSize     = 8192
	EventHeapAccountSize  = 65536
	OpenOrdersAccountSize = 8192
	MintAccountSize       = 82
	TokenAccountSize      = 165
)

// LamportsPerSOL 1 SOL = 1e9 lamports
const LamportsPerSOL = 1_000_000_000

// LotSpec 市场的 lot 配置，用于把用户输入的价格/数量换算成整数 lot
type LotSpec struct {
	BaseLotSize   int64 // base lot 大小（base 最小单位）
	QuoteLotSize  int64 // quote lot 大小（quote 最小单位）
	BaseDecimals  uint8 // base mint 精度
	QuoteDecimals uint8 // quote mint 精度
}

// IsValid lot 大小必须为正
func (l LotSpec) IsValid() bool {
	return l.BaseLotSize > 0 && l.QuoteLotSize > 0
}

// MarketDescriptor 市场描述，创建成功后不在本地修改
type MarketDescriptor struct {
	Address         solana.PublicKey `json:"address"`
	Name            string           `json:"name"`
	BaseMint        solana.PublicKey `json:"base_mint"`
	QuoteMint       solana.PublicKey `json:"quote_mint"`
	BaseLotSize     int64            `json:"base_lot_size"`
	QuoteLotSize    int64            `json:"quote_lot_size"`
	MakerFeeBps     int64            `json:"maker_fee_bps"`
	TakerFeeBps     int64            `json:"taker_fee_bps"`
	TimeExpiry      int64            `json:"time_expiry"`       // 0 表示不过期
	BaseDecimals    uint8            `json:"base_decimals"`     // 可选，未知时为 0
	QuoteDecimals   uint8            `json:"quote_decimals"`    // 可选，未知时为 0
	Bids            solana.PublicKey `json:"bids"`              // 创建后回填
	Asks            solana.PublicKey `json:"asks"`              // 创建后回填
	EventHeap       solana.PublicKey `json:"event_heap"`        // 创建后回填
	MarketAuthority solana.PublicKey `json:"market_authority"`  // 创建后回填
	BaseVault       solana.PublicKey `json:"base_vault"`        // 创建后回填
	QuoteVault      solana.PublicKey `json:"quote_vault"`       // 创建后回填
	CreatedAt       time.Time        `json:"created_at,omitempty"`
}

// Lots 返回该市场的 lot 配置
func (m *MarketDescriptor) Lots() LotSpec {
	return LotSpec{
		BaseLotSize:   m.BaseLotSize,
		QuoteLotSize:  m.QuoteLotSize,
		BaseDecimals:  m.BaseDecimals,
		QuoteDecimals: m.QuoteDecimals,
	}
}

// VaultFor 返回某方向下单时资金进入的金库：买单付 quote，卖单付 base
func (m *MarketDescriptor) VaultFor(side Side) solana.PublicKey {
	if side == SideBid {
		return m.QuoteVault
	}
	return m.BaseVault
}
