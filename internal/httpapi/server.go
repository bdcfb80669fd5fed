// Package httpapi 通过 gin 暴露会话、查询与市场操作。
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/activity"
	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/feetier"
	"github.com/betbot/solbook/internal/market"
	"github.com/betbot/solbook/internal/monitor"
	"github.com/betbot/solbook/internal/risk"
	"github.com/betbot/solbook/internal/store"
	"github.com/betbot/solbook/internal/wallet"
	"github.com/betbot/solbook/pkg/logger"
)

// Deps 路由依赖；Monitor、Submissions、Breaker 可为空
type Deps struct {
	Session     *wallet.Session
	Chain       *chain.Client
	Markets     *market.Service
	FeeTier     *feetier.Service
	Activity    *activity.Log
	History     *activity.Log
	Monitor     *monitor.Monitor
	Submissions *store.Store
	Breaker     *risk.CircuitBreaker
}

type Server struct {
	deps Deps
	log  *logrus.Entry
}

func New(deps Deps) *Server {
	return &Server{deps: deps, log: logger.Component("httpapi")}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/status", s.handleStatus)

	session := api.Group("/session")
	session.GET("", s.handleSession)
	session.POST("/connect", s.handleConnect)
	session.POST("/disconnect", s.handleDisconnect)
	session.POST("/refresh", s.handleRefresh)

	wallets := api.Group("/wallets/:owner")
	wallets.GET("/tokens", s.handleTokens)
	wallets.GET("/tokens/:mint", s.handleTokenBalance)
	wallets.GET("/signatures", s.handleSignatures)

	api.GET("/transactions/:signature", s.handleTransaction)
	api.GET("/network/status", s.handleNetworkStatus)
	api.GET("/network/health", s.handleNetworkHealth)

	markets := api.Group("/markets")
	markets.GET("", s.handleMarketsList)
	markets.POST("", s.handleMarketCreate)
	markets.GET("/stats", s.handleMarketStats)
	markets.GET("/:market", s.handleMarketInfo)
	markets.GET("/:market/orderbook", s.handleOrderbook)
	markets.POST("/:market/open_orders", s.handleOpenOrdersCreate)

	api.POST("/orders", s.handleOrderPlace)
	api.POST("/mints", s.handleMintCreate)
	api.GET("/fee_tier", s.handleFeeTier)

	api.GET("/activity", s.handleActivity)
	api.GET("/history", s.handleHistory)
	api.GET("/submissions", s.handleSubmissions)

	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("http")
	}
}

// statusFor 错误分类到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAccountSetupFailed):
		return http.StatusFailedDependency
	case errors.Is(err, domain.ErrSubmissionFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Component("httpapi").WithField("path", c.FullPath()).WithError(err).Warn("请求失败")
	}
	c.AbortWithStatusJSON(status, errorBody{Error: err.Error(), Kind: domain.Kind(err)})
}

func writeJSON(c *gin.Context, v interface{}) {
	c.JSON(http.StatusOK, v)
}

// parseKey 解析 base58 地址，失败归为 InvalidOrder
func parseKey(raw, field string) (solana.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return solana.PublicKey{}, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, invalidf("invalid %s %q", field, raw)
	}
	return pk, nil
}

func requireKey(raw, field string) (solana.PublicKey, error) {
	pk, err := parseKey(raw, field)
	if err != nil {
		return pk, err
	}
	if pk.IsZero() {
		return pk, invalidf("%s is required", field)
	}
	return pk, nil
}
