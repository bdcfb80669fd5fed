package openbook

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/internal/domain"
)

// MarketHeaderSize 头部解析需要的最少字节数
const MarketHeaderSize = 8 + 1 + 1 + 1 + 5 + 32 + 8 + 4*32 + MaxMarketNameLen + 5*32

var ErrShortMarketData = errors.New("market data too short")

// MarketHeader 市场账户开头的固定字段
type MarketHeader struct {
	Bump               uint8            `json:"bump"`
	BaseDecimals       uint8            `json:"base_decimals"`
	QuoteDecimals      uint8            `json:"quote_decimals"`
	MarketAuthority    solana.PublicKey `json:"market_authority"`
	TimeExpiry         int64            `json:"time_expiry"`
	CollectFeeAdmin    solana.PublicKey `json:"collect_fee_admin"`
	OpenOrdersAdmin    solana.PublicKey `json:"open_orders_admin"`
	ConsumeEventsAdmin solana.PublicKey `json:"consume_events_admin"`
	CloseMarketAdmin   solana.PublicKey `json:"close_market_admin"`
	Name               string           `json:"name"`
	Bids               solana.PublicKey `json:"bids"`
	Asks               solana.PublicKey `json:"asks"`
	EventHeap          solana.PublicKey `json:"event_heap"`
	OracleA            solana.PublicKey `json:"oracle_a"`
	OracleB            solana.PublicKey `json:"oracle_b"`
}

// DecodeMarketHeader 解析市场账户数据；discriminator 不匹配时报错
func DecodeMarketHeader(data []byte) (*MarketHeader, error) {
	if len(data) < MarketHeaderSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortMarketData, len(data), MarketHeaderSize)
	}
	if !bytes.Equal(data[:8], MarketAccountDiscriminator[:]) {
		return nil, fmt.Errorf("unexpected account discriminator %x", data[:8])
	}

	d := bin.NewBinDecoder(data[8:])
	h := &MarketHeader{}
	var err error
	u8 := func(out *uint8) {
		if err == nil {
			*out, err = d.ReadUint8()
		}
	}
	key := func(out *solana.PublicKey) {
		if err == nil {
			var b []byte
			if b, err = d.ReadNBytes(32); err == nil {
				*out = solana.PublicKeyFromBytes(b)
			}
		}
	}

	u8(&h.Bump)
	u8(&h.BaseDecimals)
	u8(&h.QuoteDecimals)
	if err == nil {
		err = d.SkipBytes(5)
	}
	key(&h.MarketAuthority)
	if err == nil {
		h.TimeExpiry, err = d.ReadInt64(bin.LE)
	}
	key(&h.CollectFeeAdmin)
	key(&h.OpenOrdersAdmin)
	key(&h.ConsumeEventsAdmin)
	key(&h.CloseMarketAdmin)
	if err == nil {
		var name []byte
		if name, err = d.ReadNBytes(MaxMarketNameLen); err == nil {
			h.Name = string(bytes.TrimRight(name, "\x00"))
		}
	}
	key(&h.Bids)
	key(&h.Asks)
	key(&h.EventHeap)
	key(&h.OracleA)
	key(&h.OracleB)
	if err != nil {
		return nil, fmt.Errorf("decode market header: %w", err)
	}
	return h, nil
}

// Encode 生成 MarketAccountSize 字节的账户数据（其余字段补零）
func (h *MarketHeader) Encode() []byte {
	buf := make([]byte, 0, domain.MarketAccountSize)
	buf = append(buf, MarketAccountDiscriminator[:]...)
	buf = append(buf, h.Bump, h.BaseDecimals, h.QuoteDecimals)
	buf = append(buf, make([]byte, 5)...)
	buf = append(buf, h.MarketAuthority.Bytes()...)
	var te [8]byte
	bin.LE.PutUint64(te[:], uint64(h.TimeExpiry))
	buf = append(buf, te[:]...)
	for _, pk := range []solana.PublicKey{h.CollectFeeAdmin, h.OpenOrdersAdmin, h.ConsumeEventsAdmin, h.CloseMarketAdmin} {
		buf = append(buf, pk.Bytes()...)
	}
	var name [MaxMarketNameLen]byte
	copy(name[:], h.Name)
	buf = append(buf, name[:]...)
	for _, pk := range []solana.PublicKey{h.Bids, h.Asks, h.EventHeap, h.OracleA, h.OracleB} {
		buf = append(buf, pk.Bytes()...)
	}
	return append(buf, make([]byte, domain.MarketAccountSize-len(buf))...)
}

// Descriptor 把解析出的头部转换成市场描述（lot 与手续费不在头部，保持为零）
func (h *MarketHeader) Descriptor(address solana.PublicKey) *domain.MarketDescriptor {
	return &domain.MarketDescriptor{
		Address:         address,
		Name:            h.Name,
		TimeExpiry:      h.TimeExpiry,
		BaseDecimals:    h.BaseDecimals,
		QuoteDecimals:   h.QuoteDecimals,
		Bids:            h.Bids,
		Asks:            h.Asks,
		EventHeap:       h.EventHeap,
		MarketAuthority: h.MarketAuthority,
	}
}
