// Package app 按配置组装客户端：RPC 传输、钱包会话、市场服务、存储与轮询。
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/internal/activity"
	"github.com/betbot/solbook/internal/chain"
	"github.com/betbot/solbook/internal/domain"
	"github.com/betbot/solbook/internal/feetier"
	"github.com/betbot/solbook/internal/httpapi"
	"github.com/betbot/solbook/internal/market"
	"github.com/betbot/solbook/internal/metrics"
	"github.com/betbot/solbook/internal/monitor"
	"github.com/betbot/solbook/internal/openbook"
	"github.com/betbot/solbook/internal/risk"
	"github.com/betbot/solbook/internal/store"
	"github.com/betbot/solbook/internal/wallet"
	"github.com/betbot/solbook/pkg/config"
	"github.com/betbot/solbook/pkg/logger"
	"github.com/betbot/solbook/pkg/persistence"
	"github.com/betbot/solbook/pkg/ratelimit"
	"github.com/betbot/solbook/pkg/sdk/solrpc"
	"github.com/betbot/solbook/pkg/sdk/solws"
	"github.com/betbot/solbook/pkg/secretstore"
)

// snapshotID 活动日志快照的文件标识
const snapshotID = "session"

// App 组装好的对象图，由 cmd 持有
type App struct {
	Config *config.Config

	Transport *solrpc.Client
	PubSub    *solws.Client // 未配置 ws 地址时为空
	Breaker   *risk.CircuitBreaker
	Chain     *chain.Client
	Secrets   *secretstore.Store // 未配置时为空
	Session   *wallet.Session
	Store     *store.Store // 未配置时为空
	Markets   *market.Service
	FeeTier   *feetier.Service
	Activity  *activity.Log
	History   *activity.Log
	Recorder  *activity.Recorder
	Monitor   *monitor.Monitor
	Snapshots persistence.Service // 未配置时为空

	log *logrus.Entry
}

// Options 构造时可替换的外部依赖
type Options struct {
	RPC        chain.RPC         // 为空时使用 Transport 上的 solana-go 客户端
	Provider   wallet.Provider   // 为空时按配置检测
	Authorizer wallet.Authorizer // 本地钱包连接授权
}

// New 只做组装，不发起网络请求
func New(cfg *config.Config, opts Options) (a *App, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a = &App{Config: cfg, log: logger.Component("app")}
	defer func() {
		if err != nil {
			a.closeStores()
		}
	}()

	program, err := openbook.NewProgram(cfg.Program.ProgramID, cfg.Program.EventAuthority)
	if err != nil {
		return nil, err
	}

	a.Transport = solrpc.NewClient(solrpc.Options{
		Endpoint:   cfg.RPC.Endpoint,
		Timeout:    cfg.RPC.Timeout,
		RetryCount: cfg.RPC.RetryCount,
		Limiter: ratelimit.NewRateLimitManager(ratelimit.Rates{
			Send: cfg.RPC.SendRate,
			Read: cfg.RPC.ReadRate,
			Scan: cfg.RPC.ScanRate,
		}),
		OnCall: countCall,
	})
	if cfg.RPC.WSEndpoint != "" {
		a.PubSub = solws.NewClient(cfg.RPC.WSEndpoint, solws.DefaultConfig())
	}

	a.Breaker = risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
		MaxConsecutiveErrors: cfg.Risk.MaxConsecutiveErrors,
		DailySubmissionLimit: cfg.Risk.DailySubmissionLimit,
	})

	rpcClient := opts.RPC
	if rpcClient == nil {
		rpcClient = a.Transport.NewRPC()
	}
	chainOpts := chain.Options{
		Commitment:     rpc.CommitmentType(cfg.RPC.Commitment),
		ConfirmTimeout: cfg.RPC.ConfirmTimeout,
		ConfirmPoll:    cfg.RPC.ConfirmPoll,
		Breaker:        a.Breaker,
		Health:         a.Transport.Health,
	}
	if a.PubSub != nil {
		chainOpts.PubSub = a.PubSub
	}
	a.Chain = chain.NewClient(rpcClient, chainOpts)

	provider := opts.Provider
	if provider == nil {
		if cfg.Wallet.SecretStorePath != "" {
			if a.Secrets, err = OpenSecrets(cfg.Wallet); err != nil {
				return nil, err
			}
		}
		if provider, err = wallet.Detect(cfg.Wallet, wallet.DetectOptions{Secrets: a.Secrets, Authorizer: opts.Authorizer}); err != nil {
			return nil, err
		}
	}
	a.Session = wallet.NewSession(provider, a.Chain)

	a.Activity = activity.NewLog(activity.LogCapacity)
	a.History = activity.NewLog(activity.HistoryCapacity)
	journals := market.Journals{a.History}
	var registry market.Registry
	if cfg.Store.Path != "" {
		if a.Store, err = store.Open(cfg.Store.Path); err != nil {
			return nil, err
		}
		registry = a.Store
		journals = append(market.Journals{a.Store}, journals...)
	}

	modes, err := Modes(cfg.Market.Modes)
	if err != nil {
		return nil, err
	}
	a.Markets = market.NewService(program, a.Chain, a.Session, registry, market.Options{
		Modes: modes,
		DefaultLots: domain.LotSpec{
			BaseLotSize:   cfg.Market.DefaultLots.BaseLotSize,
			QuoteLotSize:  cfg.Market.DefaultLots.QuoteLotSize,
			BaseDecimals:  cfg.Market.DefaultLots.BaseDecimals,
			QuoteDecimals: cfg.Market.DefaultLots.QuoteDecimals,
		},
		SimulationDelay: cfg.Market.SimulationDelay,
		CreateVaults:    cfg.Market.CreateVaults,
		Journal:         journals,
	})

	feeMint, err := FeeTierMint(cfg.Market)
	if err != nil {
		return nil, err
	}
	a.FeeTier = feetier.NewService(a.Markets, feeMint)

	a.Recorder = activity.NewRecorder(a.Session, a.Activity)
	a.Monitor = monitor.New(a.Chain, a.Session, monitor.Intervals{
		Network: cfg.Monitor.NetworkInterval,
		Health:  cfg.Monitor.HealthInterval,
		Balance: cfg.Monitor.BalanceInterval,
	})
	if cfg.Activity.SnapshotDir != "" {
		a.Snapshots = persistence.NewJSONFileService(cfg.Activity.SnapshotDir)
	}
	return a, nil
}

// Start 恢复活动日志快照，连接 websocket，启动事件记录与轮询
func (a *App) Start(ctx context.Context) error {
	if a.Snapshots != nil {
		if err := activity.LoadSnapshot(a.Snapshots, snapshotID, a.Activity, a.History); err != nil {
			a.log.WithError(err).Warn("恢复活动日志失败")
		}
	}
	if a.PubSub != nil {
		if err := a.PubSub.Start(ctx); err != nil {
			// 订阅失败时 Confirm 自动回退到轮询
			a.log.WithError(err).Warn("websocket 连接失败，交易确认改用轮询")
		}
	}
	a.Recorder.Start(ctx)
	a.Monitor.Start(ctx)
	a.log.WithFields(logrus.Fields{
		"rpc":      a.Transport.Endpoint(),
		"program":  a.Markets.Program().ID.String(),
		"provider": a.Session.ProviderName(),
	}).Info("客户端已启动")
	return nil
}

// HTTP 返回绑定到本对象图的 API
func (a *App) HTTP() *httpapi.Server {
	return httpapi.New(httpapi.Deps{
		Session:     a.Session,
		Chain:       a.Chain,
		Markets:     a.Markets,
		FeeTier:     a.FeeTier,
		Activity:    a.Activity,
		History:     a.History,
		Monitor:     a.Monitor,
		Submissions: a.Store,
		Breaker:     a.Breaker,
	})
}

// Close 断开钱包、停止轮询、保存快照并关闭存储
func (a *App) Close(ctx context.Context) error {
	if a.Session.IsConnected() {
		if err := a.Session.Disconnect(ctx); err != nil {
			a.log.WithError(err).Warn("断开钱包失败")
		}
	}
	a.Monitor.Stop()
	a.Recorder.Stop()
	if a.PubSub != nil {
		a.PubSub.Stop()
	}
	if a.Snapshots != nil {
		if err := activity.SaveSnapshot(a.Snapshots, snapshotID, a.Activity, a.History); err != nil {
			a.log.WithError(err).Warn("保存活动日志失败")
		}
	}
	a.Chain.Close()
	_ = a.Transport.Close()
	return a.closeStores()
}

func (a *App) closeStores() error {
	var first error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			first = err
		}
		a.Store = nil
	}
	if a.Secrets != nil {
		if err := a.Secrets.Close(); err != nil && first == nil {
			first = err
		}
		a.Secrets = nil
	}
	return first
}

// OpenSecrets 打开钱包 secret store；配置了密钥时启用加密
func OpenSecrets(cfg config.WalletConfig) (*secretstore.Store, error) {
	var key []byte
	if cfg.SecretStoreKey != "" {
		k, err := secretstore.ParseKey(cfg.SecretStoreKey)
		if err != nil {
			return nil, err
		}
		key = k
	}
	return secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretStorePath, EncryptionKey: key})
}

// Modes 把配置中的模式表转成 domain 类型
func Modes(raw map[string]string) (map[domain.Operation]domain.ExecutionMode, error) {
	out := make(map[domain.Operation]domain.ExecutionMode, len(raw))
	for op, m := range raw {
		mode, err := domain.ParseExecutionMode(m, domain.ModeExecute)
		if err != nil {
			return nil, fmt.Errorf("market mode %s: %w", op, err)
		}
		out[domain.Operation(strings.ToLower(op))] = mode
	}
	return out, nil
}

// FeeTierMint 费率档位依据的 mint，未单独配置时使用 quote mint
func FeeTierMint(cfg config.MarketConfig) (solana.PublicKey, error) {
	raw := cfg.FeeTierMint
	if raw == "" {
		raw = cfg.QuoteMint
	}
	if raw == "" {
		return solana.PublicKey{}, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid fee tier mint %q: %w", raw, err)
	}
	return pk, nil
}

func countCall(method string, took time.Duration, err error) {
	metrics.RPCCalls.Add(1)
	if err != nil {
		metrics.RPCErrors.Add(1)
		logger.Component("rpc").WithFields(logrus.Fields{
			"method": method,
			"took":   took.String(),
		}).WithError(err).Debug("rpc 调用失败")
	}
}

// LoggerConfig 把配置中的日志段转换为 logger.Config；TUI 模式下不写 stdout
func LoggerConfig(cfg config.LogConfig, noConsole bool) logger.Config {
	return logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		OutputFile: cfg.File,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
		DailyFiles: cfg.DailyFiles,
		NoConsole:  noConsole && cfg.File != "",
	}
}
