package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/openbook"
)

const statusActive = "active"

// Listing ListMarkets 的一项；头部解析失败时 Err 非空，其余字段仍然有效
type Listing struct {
	Address    solana.PublicKey       `json:"address"`
	DataSize   int                    `json:"data_size"`
	Lamports   uint64                 `json:"lamports"`
	Owner      solana.PublicKey       `json:"owner"`
	Executable bool                   `json:"executable"`
	Status     string                 `json:"status,omitempty"`
	Header     *openbook.MarketHeader `json:"header,omitempty"`
	Err        string                 `json:"error,omitempty"`
}

// ListMarkets 列出程序下所有市场账户（数据长度 372）；单项解析失败不影响整体
func (s *Service) ListMarkets(ctx context.Context) ([]Listing, error) {
	accounts, err := s.chain.GetProgramAccountsBySize(ctx, s.program.ID, domain.MarketAccountSize)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	out := make([]Listing, 0, len(accounts))
	for _, acc := range accounts {
		item := Listing{
			Address:    acc.Address,
			DataSize:   acc.DataSize,
			Lamports:   acc.Lamports,
			Owner:      acc.Owner,
			Executable: acc.Executable,
		}
		h, err := openbook.DecodeMarketHeader(acc.Data)
		if err != nil {
			item.Err = err.Error()
		} else {
			item.Status = statusActive
			item.Header = h
		}
		out = append(out, item)
	}
	return out, nil
}

// Stats 市场列表的汇总
type Stats struct {
	TotalMarkets      int       `json:"total_markets"`
	ActiveMarkets     int       `json:"active_markets"`
	TotalDataSize     int       `json:"total_data_size"`
	AverageDataSize   float64   `json:"average_data_size"`
	MarketsWithErrors int       `json:"markets_with_errors"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Summarize 纯计算
func Summarize(listings []Listing, now time.Time) Stats {
	st := Stats{TotalMarkets: len(listings), LastUpdated: now}
	for _, l := range listings {
		st.TotalDataSize += l.DataSize
		if l.Err != "" {
			st.MarketsWithErrors++
		}
		if l.Status == statusActive {
			st.ActiveMarkets++
		}
	}
	if st.TotalMarkets > 0 {
		st.AverageDataSize = float64(st.TotalDataSize) / float64(st.TotalMarkets)
	}
	return st
}

// GetMarketStats 基于 ListMarkets 汇总，不单独请求网络
func (s *Service) GetMarketStats(ctx context.Context) (Stats, error) {
	listings, err := s.ListMarkets(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(listings, s.now()), nil
}

// Info 单个市场账户
type Info struct {
	Address    solana.PublicKey         `json:"address"`
	Owner      solana.PublicKey         `json:"owner"`
	Lamports   uint64                   `json:"lamports"`
	DataSize   int                      `json:"data_size"`
	Executable bool                     `json:"executable"`
	Header     *openbook.MarketHeader   `json:"header,omitempty"`
	HeaderErr  string                   `json:"header_error,omitempty"`
	Descriptor *domain.MarketDescriptor `json:"descriptor,omitempty"` // 通过本服务创建的市场才有
}

func (s *Service) marketAccount(ctx context.Context, market solana.PublicKey) (*chain.Account, error) {
	if market.IsZero() {
		return nil, fmt.Errorf("%w: market is required", domain.ErrInvalidOrder)
	}
	acc, err := s.chain.GetAccount(ctx, market)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("market %s: %w", market, domain.ErrNotFound)
		}
		return nil, err
	}
	return acc, nil
}

// GetMarketInfo 市场不存在时返回 domain.ErrNotFound
func (s *Service) GetMarketInfo(ctx context.Context, market solana.PublicKey) (*Info, error) {
	acc, err := s.marketAccount(ctx, market)
	if err != nil {
		return nil, err
	}
	info := &Info{
		Address:    acc.Address,
		Owner:      acc.Owner,
		Lamports:   acc.Lamports,
		DataSize:   acc.DataSize,
		Executable: acc.Executable,
		Descriptor: s.lookup(ctx, market),
	}
	if h, err := openbook.DecodeMarketHeader(acc.Data); err != nil {
		info.HeaderErr = err.Error()
	} else {
		info.Header = h
	}
	return info, nil
}

// BookSide 订单簿一侧的账户
type BookSide struct {
	Address  solana.PublicKey `json:"address"`
	DataSize int              `json:"data_size"`
	Lamports uint64           `json:"lamports"`
	Err      string           `json:"error,omitempty"`
}

// Orderbook 市场账户与两侧账户的原始信息（不解析挂单）
type Orderbook struct {
	Market    solana.PublicKey `json:"market"`
	Bids      *BookSide        `json:"bids,omitempty"`
	Asks      *BookSide        `json:"asks,omitempty"`
	DataSize  int              `json:"data_size"`
	Lamports  uint64           `json:"lamports"`
	Timestamp time.Time        `json:"timestamp"`
}

// GetOrderbook 两侧账户尽力读取，失败记在 BookSide.Err
func (s *Service) GetOrderbook(ctx context.Context, market solana.PublicKey) (*Orderbook, error) {
	acc, err := s.marketAccount(ctx, market)
	if err != nil {
		return nil, err
	}
	ob := &Orderbook{
		Market:    market,
		DataSize:  acc.DataSize,
		Lamports:  acc.Lamports,
		Timestamp: s.now(),
	}

	var bids, asks solana.PublicKey
	if h, err := openbook.DecodeMarketHeader(acc.Data); err == nil {
		bids, asks = h.Bids, h.Asks
	} else if desc := s.lookup(ctx, market); desc != nil {
		bids, asks = desc.Bids, desc.Asks
	}
	if !bids.IsZero() {
		ob.Bids = s.bookSide(ctx, bids)
	}
	if !asks.IsZero() {
		ob.Asks = s.bookSide(ctx, asks)
	}
	return ob, nil
}

func (s *Service) bookSide(ctx context.Context, address solana.PublicKey) *BookSide {
	side := &BookSide{Address: address}
	acc, err := s.chain.GetAccount(ctx, address)
	if err != nil {
		side.Err = err.Error()
		return side
	}
	side.DataSize = acc.DataSize
	side.Lamports = acc.Lamports
	return side
}
