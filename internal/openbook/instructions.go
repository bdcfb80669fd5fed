package openbook

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/internal/domain"
)

// MaxMarketNameLen 市场名在账户里占 16 字节
const MaxMarketNameLen = 16

// OracleConfig create_market 的 oracle 参数
type OracleConfig struct {
	ConfFilter        float32
	MaxStalenessSlots *uint32 // nil 表示 None
}

// DefaultOracleConfig 无 oracle 市场使用的参数
func DefaultOracleConfig() OracleConfig {
	return OracleConfig{ConfFilter: 0.1}
}

// CreateMarketArgs create_market 指令参数（字段顺序即编码顺序）
type CreateMarketArgs struct {
	Name         string
	Oracle       OracleConfig
	QuoteLotSize int64
	BaseLotSize  int64
	MakerFee     int64
	TakerFee     int64
	TimeExpiry   int64
}

// borshWriter 记住第一个错误，后续写入直接跳过
type borshWriter struct {
	buf bytes.Buffer
	enc *bin.Encoder
	err error
}

func newBorshWriter(ix string) *borshWriter {
	w := &borshWriter{}
	w.enc = bin.NewBorshEncoder(&w.buf)
	d := InstructionDiscriminator(ix)
	w.do(func() error { return w.enc.WriteBytes(d[:], false) })
	return w
}

func (w *borshWriter) do(fn func() error) {
	if w.err == nil {
		w.err = fn()
	}
}

func (w *borshWriter) u8(v uint8) { w.do(func() error { return w.enc.WriteUint8(v) }) }
func (w *borshWriter) i64(v int64) { w.do(func() error { return w.enc.WriteInt64(v, bin.LE) }) }
func (w *borshWriter) u64(v uint64) { w.do(func() error { return w.enc.WriteUint64(v, bin.LE) }) }
func (w *borshWriter) str(v string) { w.do(func() error { return w.enc.WriteString(v) }) }
func (w *borshWriter) f32(v float32) { w.do(func() error { return w.enc.WriteFloat32(v, bin.LE) }) }
func (w *borshWriter) option(some bool) { w.do(func() error { return w.enc.WriteOption(some) }) }
func (w *borshWriter) u32(v uint32) { w.do(func() error { return w.enc.WriteUint32(v, bin.LE) }) }

func (w *borshWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

// Encode 生成指令数据：discriminator + borsh 参数
func (a CreateMarketArgs) Encode() ([]byte, error) {
	if a.Name == "" || len(a.Name) > MaxMarketNameLen {
		return nil, fmt.Errorf("%w: market name must be 1-%d bytes", domain.ErrInvalidOrder, MaxMarketNameLen)
	}
	w := newBorshWriter(IxCreateMarket)
	w.str(a.Name)
	w.f32(a.Oracle.ConfFilter)
	w.option(a.Oracle.MaxStalenessSlots != nil)
	if a.Oracle.MaxStalenessSlots != nil {
		w.u32(*a.Oracle.MaxStalenessSlots)
	}
	w.i64(a.QuoteLotSize)
	w.i64(a.BaseLotSize)
	w.i64(a.MakerFee)
	w.i64(a.TakerFee)
	w.i64(a.TimeExpiry)
	return w.bytes()
}

// CreateMarketAccounts create_market 需要的账户；可选账户留零值即 None
type CreateMarketAccounts struct {
	Market           solana.PublicKey
	MarketAuthority  solana.PublicKey
	Bids             solana.PublicKey
	Asks             solana.PublicKey
	EventHeap        solana.PublicKey
	Payer            solana.PublicKey
	MarketBaseVault  solana.PublicKey
	MarketQuoteVault solana.PublicKey
	BaseMint         solana.PublicKey
	QuoteMint        solana.PublicKey
	CollectFeeAdmin  solana.PublicKey

	OracleA            solana.PublicKey
	OracleB            solana.PublicKey
	OpenOrdersAdmin    solana.PublicKey
	ConsumeEventsAdmin solana.PublicKey
	CloseMarketAdmin   solana.PublicKey
}

// optional Anchor 用程序 ID 占位表示 None
func (p Program) optional(pk solana.PublicKey) *solana.AccountMeta {
	if pk.IsZero() {
		return solana.Meta(p.ID)
	}
	return solana.Meta(pk)
}

// NewCreateMarketInstruction 构造 create_market 指令
func (p Program) NewCreateMarketInstruction(accts CreateMarketAccounts, args CreateMarketArgs) (solana.Instruction, error) {
	data, err := args.Encode()
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(accts.Market).WRITE().SIGNER(),
		solana.Meta(accts.MarketAuthority),
		solana.Meta(accts.Bids).WRITE(),
		solana.Meta(accts.Asks).WRITE(),
		solana.Meta(accts.EventHeap).WRITE(),
		solana.Meta(accts.Payer).WRITE().SIGNER(),
		solana.Meta(accts.MarketBaseVault).WRITE(),
		solana.Meta(accts.MarketQuoteVault).WRITE(),
		solana.Meta(accts.BaseMint),
		solana.Meta(accts.QuoteMint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
		p.optional(accts.OracleA),
		p.optional(accts.OracleB),
		solana.Meta(accts.CollectFeeAdmin),
		p.optional(accts.OpenOrdersAdmin),
		p.optional(accts.ConsumeEventsAdmin),
		p.optional(accts.CloseMarketAdmin),
		solana.Meta(p.EventAuthority),
		solana.Meta(p.ID),
	}
	return solana.NewInstruction(p.ID, metas, data), nil
}

// PlaceOrderArgs place_order 指令参数
type PlaceOrderArgs struct {
	Side                      domain.Side
	PriceLots                 int64
	MaxBaseLots               int64
	MaxQuoteLotsIncludingFees int64
	ClientOrderID             uint64
	OrderType                 domain.OrderType
	ExpiryTimestamp           uint64
	SelfTradeBehavior         domain.SelfTradeBehavior
	Limit                     uint8
}

// PlaceOrderArgsFrom 从下单请求取出指令参数
func PlaceOrderArgsFrom(req *domain.OrderRequest) PlaceOrderArgs {
	return PlaceOrderArgs{
		Side:                      req.Side,
		PriceLots:                 req.PriceLots,
		MaxBaseLots:               req.MaxBaseLots,
		MaxQuoteLotsIncludingFees: req.MaxQuoteLotsIncludingFees,
		ClientOrderID:             req.ClientOrderID,
		OrderType:                 req.OrderType,
		ExpiryTimestamp:           req.ExpiryTimestamp,
		SelfTradeBehavior:         req.SelfTradeBehavior,
		Limit:                     req.Limit,
	}
}

func (a PlaceOrderArgs) Encode() ([]byte, error) {
	w := newBorshWriter(IxPlaceOrder)
	w.u8(uint8(a.Side))
	w.i64(a.PriceLots)
	w.i64(a.MaxBaseLots)
	w.i64(a.MaxQuoteLotsIncludingFees)
	w.u64(a.ClientOrderID)
	w.u8(uint8(a.OrderType))
	w.u64(a.ExpiryTimestamp)
	w.u8(uint8(a.SelfTradeBehavior))
	w.u8(a.Limit)
	return w.bytes()
}

// PlaceOrderAccounts place_order 需要的账户
type PlaceOrderAccounts struct {
	Signer            solana.PublicKey
	OpenOrdersAccount solana.PublicKey
	OpenOrdersAdmin   solana.PublicKey // 可选
	UserTokenAccount  solana.PublicKey
	Market            solana.PublicKey
	Bids              solana.PublicKey
	Asks              solana.PublicKey
	EventHeap         solana.PublicKey
	MarketVault       solana.PublicKey
	OracleA           solana.PublicKey // 可选
	OracleB           solana.PublicKey // 可选
}

// NewPlaceOrderInstruction 构造 place_order 指令
func (p Program) NewPlaceOrderInstruction(accts PlaceOrderAccounts, args PlaceOrderArgs) (solana.Instruction, error) {
	data, err := args.Encode()
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.Meta(accts.Signer).SIGNER(),
		solana.Meta(accts.OpenOrdersAccount).WRITE(),
		p.optional(accts.OpenOrdersAdmin),
		solana.Meta(accts.UserTokenAccount).WRITE(),
		solana.Meta(accts.Market).WRITE(),
		solana.Meta(accts.Bids).WRITE(),
		solana.Meta(accts.Asks).WRITE(),
		solana.Meta(accts.EventHeap).WRITE(),
		solana.Meta(accts.MarketVault).WRITE(),
		p.optional(accts.OracleA),
		p.optional(accts.OracleB),
		solana.Meta(solana.TokenProgramID),
	}
	return solana.NewInstruction(p.ID, metas, data), nil
}

// NewInitOpenOrdersInstruction 初始化已分配的 open orders 账户
func (p Program) NewInitOpenOrdersInstruction(openOrders, market, owner solana.PublicKey) solana.Instruction {
	d := InstructionDiscriminator(IxInitOpenOrders)
	metas := solana.AccountMetaSlice{
		solana.Meta(openOrders).WRITE().SIGNER(),
		solana.Meta(market),
		solana.Meta(owner).WRITE().SIGNER(),
		solana.Meta(solana.SysVarRentPubkey),
	}
	return solana.NewInstruction(p.ID, metas, append([]byte(nil), d[:]...))
}
