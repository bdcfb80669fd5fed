package openbook

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/betbot/solbook/internal/domain"
)

const feeDenominator = 10000

var maxLots = decimal.NewFromInt(math.MaxInt64)

// Lots 下单时的整数 lot 数量
type Lots struct {
	PriceLots                 int64 `json:"price_lots"`
	MaxBaseLots               int64 `json:"max_base_lots"`
	MaxQuoteLotsIncludingFees int64 `json:"max_quote_lots_including_fees"`
}

// ToLots 把人类单位的价格/数量按市场 lot 配置换算：
//
//	maxBaseLots = size·10^baseDecimals / baseLotSize
//	priceLots   = price·10^quoteDecimals·baseLotSize / (10^baseDecimals·quoteLotSize)
//	maxQuote    = ceil(priceLots·maxBaseLots·(10000+takerFeeBps) / 10000)
//
// 前两项向下取整，不足 1 lot 视为无效订单。
func ToLots(price, size decimal.Decimal, spec domain.LotSpec, takerFeeBps int64) (Lots, error) {
	if !spec.IsValid() {
		return Lots{}, fmt.Errorf("%w: lot sizes must be positive", domain.ErrInvalidOrder)
	}
	if !price.IsPositive() || !size.IsPositive() {
		return Lots{}, fmt.Errorf("%w: price and size must be positive", domain.ErrInvalidOrder)
	}
	if takerFeeBps < 0 {
		takerFeeBps = 0
	}

	baseScale := decimal.New(1, int32(spec.BaseDecimals))
	quoteScale := decimal.New(1, int32(spec.QuoteDecimals))
	baseLot := decimal.NewFromInt(spec.BaseLotSize)
	quoteLot := decimal.NewFromInt(spec.QuoteLotSize)

	maxBase := size.Mul(baseScale).Div(baseLot).Floor()
	if maxBase.LessThan(decimal.NewFromInt(1)) {
		return Lots{}, fmt.Errorf("%w: size %s is below one base lot", domain.ErrInvalidOrder, size)
	}

	priceLots := price.Mul(quoteScale).Mul(baseLot).Div(baseScale.Mul(quoteLot)).Floor()
	if priceLots.LessThan(decimal.NewFromInt(1)) {
		return Lots{}, fmt.Errorf("%w: price %s is below one quote lot", domain.ErrInvalidOrder, price)
	}

	maxQuote := priceLots.Mul(maxBase).
		Mul(decimal.NewFromInt(feeDenominator + takerFeeBps)).
		Div(decimal.NewFromInt(feeDenominator)).
		Ceil()

	for _, v := range []decimal.Decimal{maxBase, priceLots, maxQuote} {
		if v.GreaterThan(maxLots) {
			return Lots{}, fmt.Errorf("%w: lot amount %s overflows", domain.ErrInvalidOrder, v)
		}
	}

	return Lots{
		PriceLots:                 priceLots.IntPart(),
		MaxBaseLots:               maxBase.IntPart(),
		MaxQuoteLotsIncludingFees: maxQuote.IntPart(),
	}, nil
}

// PriceFromLots 把 priceLots 换算回人类单位价格
func PriceFromLots(priceLots int64, spec domain.LotSpec) decimal.Decimal {
	if !spec.IsValid() {
		return decimal.Zero
	}
	num := decimal.NewFromInt(priceLots).
		Mul(decimal.New(1, int32(spec.BaseDecimals))).
		Mul(decimal.NewFromInt(spec.QuoteLotSize))
	den := decimal.New(1, int32(spec.QuoteDecimals)).Mul(decimal.NewFromInt(spec.BaseLotSize))
	return num.Div(den)
}
