package httpapi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/solbook/internal/activity"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/market"
	"github.com/betbot/solbook/internal/metrics"
	"github.com/betbot/solbook/internal/monitor"
	"github.com/betbot/solbook/internal/risk"
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, fmt.Sprintf(format, args...))
}

func bindJSON(c *gin.Context, v interface{}) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(v); err != nil {
		return invalidf("invalid json body: %v", err)
	}
	return nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidf("invalid %s %q", key, raw)
	}
	return v, nil
}

// ---- 状态 ----

type statusResponse struct {
	Session        domain.Session              `json:"session"`
	Initialization market.InitializationStatus `json:"initialization"`
	Breaker        risk.Status                 `json:"breaker"`
	Monitor        *monitor.Snapshot           `json:"monitor,omitempty"`
	Metrics        map[string]int64            `json:"metrics"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{
		Session:        s.deps.Session.Snapshot(),
		Initialization: s.deps.Markets.InitializationStatus(),
		Breaker:        s.deps.Breaker.Status(),
		Metrics:        metrics.Snapshot(),
	}
	if s.deps.Monitor != nil {
		snap := s.deps.Monitor.Snapshot()
		resp.Monitor = &snap
	}
	writeJSON(c, resp)
}

// ---- 会话 ----

func (s *Server) handleSession(c *gin.Context) {
	writeJSON(c, s.deps.Session.Snapshot())
}

func (s *Server) handleConnect(c *gin.Context) {
	if _, err := s.deps.Session.Connect(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, s.deps.Session.Snapshot())
}

func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.deps.Session.Disconnect(c.Request.Context()); err != nil {
		// 状态已清空，仍返回快照
		s.log.WithError(err).Warn("断开钱包时出错")
	}
	writeJSON(c, s.deps.Session.Snapshot())
}

func (s *Server) handleRefresh(c *gin.Context) {
	if !s.deps.Session.IsConnected() {
		writeError(c, domain.ErrNotInitialized)
		return
	}
	s.deps.Session.RefreshBalance(c.Request.Context(), nil)
	writeJSON(c, s.deps.Session.Snapshot())
}

// ---- 钱包查询 ----

func (s *Server) handleTokens(c *gin.Context) {
	owner, err := requireKey(c.Param("owner"), "owner")
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, s.deps.Chain.ListTokenAccounts(c.Request.Context(), owner))
}

func (s *Server) handleTokenBalance(c *gin.Context) {
	owner, err := requireKey(c.Param("owner"), "owner")
	if err != nil {
		writeError(c, err)
		return
	}
	mint, err := requireKey(c.Param("mint"), "mint")
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, s.deps.Chain.GetTokenBalance(c.Request.Context(), owner, mint))
}

func (s *Server) handleSignatures(c *gin.Context) {
	owner, err := requireKey(c.Param("owner"), "owner")
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, s.deps.Chain.GetRecentSignatures(c.Request.Context(), owner, limit))
}

func (s *Server) handleTransaction(c *gin.Context) {
	tx, err := s.deps.Chain.GetTransactionDetails(c.Request.Context(), c.Param("signature"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, tx)
}

// ---- 网络 ----

func (s *Server) handleNetworkStatus(c *gin.Context) {
	st, err := s.deps.Chain.GetNetworkStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, st)
}

func (s *Server) handleNetworkHealth(c *gin.Context) {
	writeJSON(c, s.deps.Chain.GetConnectionHealth(c.Request.Context()))
}

// ---- 市场 ----

func (s *Server) handleMarketsList(c *gin.Context) {
	list, err := s.deps.Markets.ListMarkets(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, list)
}

func (s *Server) handleMarketStats(c *gin.Context) {
	st, err := s.deps.Markets.GetMarketStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, st)
}

func (s *Server) handleMarketInfo(c *gin.Context) {
	addr, err := requireKey(c.Param("market"), "market")
	if err != nil {
		writeError(c, err)
		return
	}
	info, err := s.deps.Markets.GetMarketInfo(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, info)
}

func (s *Server) handleOrderbook(c *gin.Context) {
	addr, err := requireKey(c.Param("market"), "market")
	if err != nil {
		writeError(c, err)
		return
	}
	ob, err := s.deps.Markets.GetOrderbook(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, ob)
}

type createMarketRequest struct {
	Name          string `json:"name"`
	BaseMint      string `json:"base_mint"`
	QuoteMint     string `json:"quote_mint"`
	BaseLotSize   int64  `json:"base_lot_size"`
	QuoteLotSize  int64  `json:"quote_lot_size"`
	MakerFeeBps   int64  `json:"maker_fee_bps"`
	TakerFeeBps   int64  `json:"taker_fee_bps"`
	TimeExpiry    int64  `json:"time_expiry"`
	BaseDecimals  uint8  `json:"base_decimals"`
	QuoteDecimals uint8  `json:"quote_decimals"`
}

func (s *Server) handleMarketCreate(c *gin.Context) {
	var req createMarketRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	base, err := parseKey(req.BaseMint, "base_mint")
	if err != nil {
		writeError(c, err)
		return
	}
	quote, err := parseKey(req.QuoteMint, "quote_mint")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := s.deps.Markets.CreateMarket(c.Request.Context(), domain.MarketDescriptor{
		Name:          strings.TrimSpace(req.Name),
		BaseMint:      base,
		QuoteMint:     quote,
		BaseLotSize:   req.BaseLotSize,
		QuoteLotSize:  req.QuoteLotSize,
		MakerFeeBps:   req.MakerFeeBps,
		TakerFeeBps:   req.TakerFeeBps,
		TimeExpiry:    req.TimeExpiry,
		BaseDecimals:  req.BaseDecimals,
		QuoteDecimals: req.QuoteDecimals,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, res)
}

func (s *Server) handleOpenOrdersCreate(c *gin.Context) {
	addr, err := requireKey(c.Param("market"), "market")
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := s.deps.Markets.CreateOpenOrdersAccount(c.Request.Context(), addr)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, res)
}

type lotsRequest struct {
	BaseLotSize   int64 `json:"base_lot_size"`
	QuoteLotSize  int64 `json:"quote_lot_size"`
	BaseDecimals  uint8 `json:"base_decimals"`
	QuoteDecimals uint8 `json:"quote_decimals"`
}

type placeOrderRequest struct {
	Market            string          `json:"market"`
	Side              string          `json:"side"`
	Price             decimal.Decimal `json:"price"`
	Size              decimal.Decimal `json:"size"`
	OrderType         string          `json:"order_type"`
	SelfTradeBehavior string          `json:"self_trade_behavior"`
	ClientOrderID     uint64          `json:"client_order_id"`
	ExpiryTimestamp   uint64          `json:"expiry_timestamp"`
	Limit             uint8           `json:"limit"`
	Lots              *lotsRequest    `json:"lots"`
	OpenOrdersAccount string          `json:"open_orders_account"`
	UserTokenAccount  string          `json:"user_token_account"`
	MarketVault       string          `json:"market_vault"`
}

func (r placeOrderRequest) toInput() (domain.OrderInput, error) {
	var (
		in  domain.OrderInput
		err error
	)
	if in.Market, err = parseKey(r.Market, "market"); err != nil {
		return in, err
	}
	side := r.Side
	if strings.TrimSpace(side) == "" {
		side = "bid"
	}
	if in.Side, err = domain.ParseSide(side); err != nil {
		return in, err
	}
	if in.OrderType, err = domain.ParseOrderType(r.OrderType); err != nil {
		return in, err
	}
	if in.SelfTradeBehavior, err = domain.ParseSelfTradeBehavior(r.SelfTradeBehavior); err != nil {
		return in, err
	}
	if in.OpenOrdersAccount, err = parseKey(r.OpenOrdersAccount, "open_orders_account"); err != nil {
		return in, err
	}
	if in.UserTokenAccount, err = parseKey(r.UserTokenAccount, "user_token_account"); err != nil {
		return in, err
	}
	if in.MarketVault, err = parseKey(r.MarketVault, "market_vault"); err != nil {
		return in, err
	}
	in.Price = r.Price
	in.Size = r.Size
	in.ClientOrderID = r.ClientOrderID
	in.ExpiryTimestamp = r.ExpiryTimestamp
	in.Limit = r.Limit
	if r.Lots != nil {
		in.Lots = &domain.LotSpec{
			BaseLotSize:   r.Lots.BaseLotSize,
			QuoteLotSize:  r.Lots.QuoteLotSize,
			BaseDecimals:  r.Lots.BaseDecimals,
			QuoteDecimals: r.Lots.QuoteDecimals,
		}
	}
	return in, nil
}

func (s *Server) handleOrderPlace(c *gin.Context) {
	var req placeOrderRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := s.deps.Markets.PlaceOrder(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, res)
}

type createMintRequest struct {
	Decimals  *uint8 `json:"decimals"`
	Authority string `json:"authority"`
}

const defaultMintDecimals = 9

func (s *Server) handleMintCreate(c *gin.Context) {
	var req createMintRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}
	decimals := uint8(defaultMintDecimals)
	if req.Decimals != nil {
		decimals = *req.Decimals
	}
	var authority *solana.PublicKey
	if req.Authority != "" {
		pk, err := parseKey(req.Authority, "authority")
		if err != nil {
			writeError(c, err)
			return
		}
		authority = &pk
	}
	res, err := s.deps.Markets.CreateTokenMint(c.Request.Context(), decimals, authority)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, res)
}

func (s *Server) handleFeeTier(c *gin.Context) {
	mint, err := parseKey(c.Query("mint"), "mint")
	if err != nil {
		writeError(c, err)
		return
	}
	tier, err := s.deps.FeeTier.GetFeeTier(c.Request.Context(), mint)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, tier)
}

// ---- 日志 ----

func entries(l *activity.Log) []activity.Entry {
	if l == nil {
		return []activity.Entry{}
	}
	return l.Entries()
}

func (s *Server) handleActivity(c *gin.Context) {
	writeJSON(c, entries(s.deps.Activity))
}

func (s *Server) handleHistory(c *gin.Context) {
	writeJSON(c, entries(s.deps.History))
}

func (s *Server) handleSubmissions(c *gin.Context) {
	if s.deps.Submissions == nil {
		writeJSON(c, []struct{}{})
		return
	}
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := s.deps.Submissions.ListSubmissions(c.Request.Context(), domain.Operation(c.Query("operation")), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, list)
}
