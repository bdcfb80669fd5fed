// Package feetier 按持币量计算手续费档位。
package feetier

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/pkg/logger"
)

// PlatformFeeBps 平台费固定 20bps
const PlatformFeeBps = 20

var (
	tier1Threshold = decimal.NewFromInt(500)
	tier2Threshold = decimal.NewFromInt(1000)
)

// Tier 一个手续费档位
type Tier struct {
	Tier           int             `json:"tier"`
	MakerFeeBps    int64           `json:"maker_fee_bps"`
	TakerFeeBps    int64           `json:"taker_fee_bps"`
	PlatformFeeBps int64           `json:"platform_fee_bps"`
	Balance        decimal.Decimal `json:"balance"`
}

// ForBalance 纯函数：<500 为 0 档，500-999 为 1 档，>=1000 为 2 档
func ForBalance(balance decimal.Decimal) Tier {
	t := Tier{Tier: 0, MakerFeeBps: 15, TakerFeeBps: 20, PlatformFeeBps: PlatformFeeBps, Balance: balance}
	switch {
	case balance.GreaterThanOrEqual(tier2Threshold):
		t.Tier, t.MakerFeeBps, t.TakerFeeBps = 2, 10, 10
	case balance.GreaterThanOrEqual(tier1Threshold):
		t.Tier, t.MakerFeeBps, t.TakerFeeBps = 1, 12, 17
	}
	return t
}

// BalanceSource 已连接钱包的代币余额，*market.Service 实现
type BalanceSource interface {
	HolderBalance(ctx context.Context, mint solana.PublicKey) (domain.TokenAccountInfo, error)
}

type Service struct {
	source BalanceSource
	mint   solana.PublicKey
}

// NewService mint 为计算档位使用的代币
func NewService(source BalanceSource, mint solana.PublicKey) *Service {
	return &Service{source: source, mint: mint}
}

func (s *Service) Mint() solana.PublicKey {
	return s.mint
}

// GetFeeTier mint 为零值时使用默认代币
func (s *Service) GetFeeTier(ctx context.Context, mint solana.PublicKey) (Tier, error) {
	if mint.IsZero() {
		mint = s.mint
	}
	if mint.IsZero() {
		return Tier{}, fmt.Errorf("%w: fee tier mint is not configured", domain.ErrInvalidOrder)
	}
	info, err := s.source.HolderBalance(ctx, mint)
	if err != nil {
		return Tier{}, err
	}
	t := ForBalance(info.Balance)
	logger.Component("feetier").WithField("mint", mint.String()).Debugf("档位 %d，余额 %s", t.Tier, info.Balance)
	return t, nil
}
