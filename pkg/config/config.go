package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认值
const (
	DefaultRPCEndpoint    = "https://api.testnet.solana.com"
	DefaultCommitment     = "confirmed"
	DefaultProgramID      = "6jRJKV5ya8uvLk8WXYMcJDtx7bTUCXLuScYscenUsUeH"
	DefaultEventAuthority = "5xN42RZCk7wQ4J7bbpVxVdQN3qWf6KvzqJzJzJzJzJzJ"
	DefaultUSDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	DefaultSecretName     = "wallet/default"

	envPrefix = "SOLBOOK_"
)

// RPCConfig 链上 RPC 配置
type RPCConfig struct {
	Endpoint       string        // JSON-RPC HTTP 地址
	WSEndpoint     string        // 可选，配置后用 signatureSubscribe 确认交易
	Commitment     string        // processed / confirmed / finalized
	Timeout        time.Duration // 单次 HTTP 请求超时
	RetryCount     int           // 429/5xx 重试次数
	SendRate       float64       // sendTransaction 每秒请求数
	ReadRate       float64       // 普通读请求每秒请求数
	ScanRate       float64       // getProgramAccounts 每秒请求数
	ConfirmTimeout time.Duration // 等待确认的超时
	ConfirmPoll    time.Duration // 轮询 getSignatureStatuses 的间隔
}

// ProgramConfig OpenBook 程序配置
type ProgramConfig struct {
	ProgramID      string
	EventAuthority string
}

// WalletConfig 钱包配置
type WalletConfig struct {
	Provider           string // local / none（空字符串等同 local，没有任何密钥来源时视为未检测到）
	KeypairFile        string // solana-keygen 生成的 JSON 数组文件
	Mnemonic           string // BIP-39 助记词
	MnemonicPassphrase string
	SecretStorePath    string // badger 目录
	SecretStoreKey     string // hex 或 base64 编码的 32 字节密钥
	SecretName         string // 密钥在 secret store 中的名字
	AutoApprove        bool   // 跳过连接授权确认
}

// LotsConfig 未登记市场使用的默认 lot 配置
type LotsConfig struct {
	BaseLotSize   int64
	QuoteLotSize  int64
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// MarketConfig 市场服务配置
type MarketConfig struct {
	Modes           map[string]string // 操作名 -> execute / simulate
	DefaultLots     LotsConfig
	SimulationDelay time.Duration // 模拟操作的人为延迟
	CreateVaults    bool          // 创建市场时是否先创建金库关联账户
	QuoteMint       string        // 界面展示余额的代币（默认测试网 USDC）
	FeeTierMint     string        // 费率档位依据的代币，空则用 QuoteMint
}

// MonitorConfig 轮询间隔
type MonitorConfig struct {
	NetworkInterval time.Duration
	HealthInterval  time.Duration
	BalanceInterval time.Duration
}

// RiskConfig 熔断配置
type RiskConfig struct {
	MaxConsecutiveErrors int64
	DailySubmissionLimit int64 // 0 表示不限制
}

// StoreConfig sqlite 存储
type StoreConfig struct {
	Path string // 为空则只使用内存登记表，不记录提交日志
}

// ActivityConfig 活动日志快照
type ActivityConfig struct {
	SnapshotDir string // 为空则不保存快照
}

// HTTPConfig HTTP 服务
type HTTPConfig struct {
	Listen      string
	DebugListen string // expvar/pprof，空则不启动
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	Format     string
	File       string
	DailyFiles bool
}

// Config 应用配置
type Config struct {
	RPC      RPCConfig
	Program  ProgramConfig
	Wallet   WalletConfig
	Market   MarketConfig
	Monitor  MonitorConfig
	Risk     RiskConfig
	Store    StoreConfig
	Activity ActivityConfig
	HTTP     HTTPConfig
	Log      LogConfig
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析），时间字段使用 "5s" 这样的字符串
type ConfigFile struct {
	RPC struct {
		Endpoint       string  `yaml:"endpoint" json:"endpoint"`
		WSEndpoint     string  `yaml:"ws_endpoint" json:"ws_endpoint"`
		Commitment     string  `yaml:"commitment" json:"commitment"`
		Timeout        string  `yaml:"timeout" json:"timeout"`
		RetryCount     *int    `yaml:"retry_count" json:"retry_count"`
		SendRate       float64 `yaml:"send_rate" json:"send_rate"`
		ReadRate       float64 `yaml:"read_rate" json:"read_rate"`
		ScanRate       float64 `yaml:"scan_rate" json:"scan_rate"`
		ConfirmTimeout string  `yaml:"confirm_timeout" json:"confirm_timeout"`
		ConfirmPoll    string  `yaml:"confirm_poll" json:"confirm_poll"`
	} `yaml:"rpc" json:"rpc"`
	Program struct {
		ProgramID      string `yaml:"program_id" json:"program_id"`
		EventAuthority string `yaml:"event_authority" json:"event_authority"`
	} `yaml:"program" json:"program"`
	Wallet struct {
		Provider           string `yaml:"provider" json:"provider"`
		KeypairFile        string `yaml:"keypair_file" json:"keypair_file"`
		Mnemonic           string `yaml:"mnemonic" json:"mnemonic"`
		MnemonicPassphrase string `yaml:"mnemonic_passphrase" json:"mnemonic_passphrase"`
		SecretStorePath    string `yaml:"secret_store_path" json:"secret_store_path"`
		SecretStoreKey     string `yaml:"secret_store_key" json:"secret_store_key"`
		SecretName         string `yaml:"secret_name" json:"secret_name"`
		AutoApprove        *bool  `yaml:"auto_approve" json:"auto_approve"`
	} `yaml:"wallet" json:"wallet"`
	Market struct {
		Modes       map[string]string `yaml:"modes" json:"modes"`
		DefaultLots struct {
			BaseLotSize   int64 `yaml:"base_lot_size" json:"base_lot_size"`
			QuoteLotSize  int64 `yaml:"quote_lot_size" json:"quote_lot_size"`
			BaseDecimals  *int  `yaml:"base_decimals" json:"base_decimals"`
			QuoteDecimals *int  `yaml:"quote_decimals" json:"quote_decimals"`
		} `yaml:"default_lots" json:"default_lots"`
		SimulationDelay string `yaml:"simulation_delay" json:"simulation_delay"`
		CreateVaults    *bool  `yaml:"create_vaults" json:"create_vaults"`
		QuoteMint       string `yaml:"quote_mint" json:"quote_mint"`
		FeeTierMint     string `yaml:"fee_tier_mint" json:"fee_tier_mint"`
	} `yaml:"market" json:"market"`
	Monitor struct {
		NetworkInterval string `yaml:"network_interval" json:"network_interval"`
		HealthInterval  string `yaml:"health_interval" json:"health_interval"`
		BalanceInterval string `yaml:"balance_interval" json:"balance_interval"`
	} `yaml:"monitor" json:"monitor"`
	Risk struct {
		MaxConsecutiveErrors *int64 `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
		DailySubmissionLimit int64  `yaml:"daily_submission_limit" json:"daily_submission_limit"`
	} `yaml:"risk" json:"risk"`
	Store struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"store" json:"store"`
	Activity struct {
		SnapshotDir string `yaml:"snapshot_dir" json:"snapshot_dir"`
	} `yaml:"activity" json:"activity"`
	HTTP struct {
		Listen      string `yaml:"listen" json:"listen"`
		DebugListen string `yaml:"debug_listen" json:"debug_listen"`
	} `yaml:"http" json:"http"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		Format     string `yaml:"format" json:"format"`
		File       string `yaml:"file" json:"file"`
		DailyFiles bool   `yaml:"daily_files" json:"daily_files"`
	} `yaml:"log" json:"log"`
}

// Default 返回默认配置：测试网、下单与建 mint 模拟、建市场与 open orders 真实提交
func Default() *Config {
	return &Config{
		RPC: RPCConfig{
			Endpoint:       DefaultRPCEndpoint,
			Commitment:     DefaultCommitment,
			Timeout:        60 * time.Second,
			RetryCount:     3,
			SendRate:       2,
			ReadRate:       10,
			ScanRate:       1,
			ConfirmTimeout: 60 * time.Second,
			ConfirmPoll:    2 * time.Second,
		},
		Program: ProgramConfig{
			ProgramID:      DefaultProgramID,
			EventAuthority: DefaultEventAuthority,
		},
		Wallet: WalletConfig{
			SecretName: DefaultSecretName,
		},
		Market: MarketConfig{
			Modes: map[string]string{
				"create_market":      "execute",
				"create_open_orders": "execute",
				"place_order":        "simulate",
				"create_token_mint":  "simulate",
			},
			DefaultLots: LotsConfig{
				BaseLotSize:   1000,
				QuoteLotSize:  1000,
				BaseDecimals:  6,
				QuoteDecimals: 9,
			},
			CreateVaults: true,
			QuoteMint:    DefaultUSDCMint,
		},
		Monitor: MonitorConfig{
			NetworkInterval: 30 * time.Second,
			HealthInterval:  15 * time.Second,
			BalanceInterval: 30 * time.Second,
		},
		Risk: RiskConfig{
			MaxConsecutiveErrors: 5,
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置；filePath 为空时只使用默认值和环境变量。
// 优先级：环境变量 > 配置文件 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		configFile, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cfg.applyFile(configFile); err != nil {
			return nil, fmt.Errorf("配置文件内容无效 %s: %w", filePath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	configFilePath = filePath
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func (c *Config) applyFile(f *ConfigFile) error {
	var err error

	c.RPC.Endpoint = pick(f.RPC.Endpoint, c.RPC.Endpoint)
	c.RPC.WSEndpoint = pick(f.RPC.WSEndpoint, c.RPC.WSEndpoint)
	c.RPC.Commitment = pick(f.RPC.Commitment, c.RPC.Commitment)
	if c.RPC.Timeout, err = pickDuration("rpc.timeout", f.RPC.Timeout, c.RPC.Timeout); err != nil {
		return err
	}
	if f.RPC.RetryCount != nil {
		c.RPC.RetryCount = *f.RPC.RetryCount
	}
	if f.RPC.SendRate > 0 {
		c.RPC.SendRate = f.RPC.SendRate
	}
	if f.RPC.ReadRate > 0 {
		c.RPC.ReadRate = f.RPC.ReadRate
	}
	if f.RPC.ScanRate > 0 {
		c.RPC.ScanRate = f.RPC.ScanRate
	}
	if c.RPC.ConfirmTimeout, err = pickDuration("rpc.confirm_timeout", f.RPC.ConfirmTimeout, c.RPC.ConfirmTimeout); err != nil {
		return err
	}
	if c.RPC.ConfirmPoll, err = pickDuration("rpc.confirm_poll", f.RPC.ConfirmPoll, c.RPC.ConfirmPoll); err != nil {
		return err
	}

	c.Program.ProgramID = pick(f.Program.ProgramID, c.Program.ProgramID)
	c.Program.EventAuthority = pick(f.Program.EventAuthority, c.Program.EventAuthority)

	c.Wallet.Provider = pick(f.Wallet.Provider, c.Wallet.Provider)
	c.Wallet.KeypairFile = pick(f.Wallet.KeypairFile, c.Wallet.KeypairFile)
	c.Wallet.Mnemonic = pick(f.Wallet.Mnemonic, c.Wallet.Mnemonic)
	c.Wallet.MnemonicPassphrase = pick(f.Wallet.MnemonicPassphrase, c.Wallet.MnemonicPassphrase)
	c.Wallet.SecretStorePath = pick(f.Wallet.SecretStorePath, c.Wallet.SecretStorePath)
	c.Wallet.SecretStoreKey = pick(f.Wallet.SecretStoreKey, c.Wallet.SecretStoreKey)
	c.Wallet.SecretName = pick(f.Wallet.SecretName, c.Wallet.SecretName)
	if f.Wallet.AutoApprove != nil {
		c.Wallet.AutoApprove = *f.Wallet.AutoApprove
	}

	for op, mode := range f.Market.Modes {
		c.Market.Modes[strings.ToLower(op)] = strings.ToLower(mode)
	}
	if f.Market.DefaultLots.BaseLotSize > 0 {
		c.Market.DefaultLots.BaseLotSize = f.Market.DefaultLots.BaseLotSize
	}
	if f.Market.DefaultLots.QuoteLotSize > 0 {
		c.Market.DefaultLots.QuoteLotSize = f.Market.DefaultLots.QuoteLotSize
	}
	if d := f.Market.DefaultLots.BaseDecimals; d != nil {
		c.Market.DefaultLots.BaseDecimals = uint8(*d)
	}
	if d := f.Market.DefaultLots.QuoteDecimals; d != nil {
		c.Market.DefaultLots.QuoteDecimals = uint8(*d)
	}
	if c.Market.SimulationDelay, err = pickDuration("market.simulation_delay", f.Market.SimulationDelay, c.Market.SimulationDelay); err != nil {
		return err
	}
	if f.Market.CreateVaults != nil {
		c.Market.CreateVaults = *f.Market.CreateVaults
	}
	c.Market.QuoteMint = pick(f.Market.QuoteMint, c.Market.QuoteMint)
	c.Market.FeeTierMint = pick(f.Market.FeeTierMint, c.Market.FeeTierMint)

	if c.Monitor.NetworkInterval, err = pickDuration("monitor.network_interval", f.Monitor.NetworkInterval, c.Monitor.NetworkInterval); err != nil {
		return err
	}
	if c.Monitor.HealthInterval, err = pickDuration("monitor.health_interval", f.Monitor.HealthInterval, c.Monitor.HealthInterval); err != nil {
		return err
	}
	if c.Monitor.BalanceInterval, err = pickDuration("monitor.balance_interval", f.Monitor.BalanceInterval, c.Monitor.BalanceInterval); err != nil {
		return err
	}

	if f.Risk.MaxConsecutiveErrors != nil {
		c.Risk.MaxConsecutiveErrors = *f.Risk.MaxConsecutiveErrors
	}
	if f.Risk.DailySubmissionLimit > 0 {
		c.Risk.DailySubmissionLimit = f.Risk.DailySubmissionLimit
	}

	c.Store.Path = pick(f.Store.Path, c.Store.Path)
	c.Activity.SnapshotDir = pick(f.Activity.SnapshotDir, c.Activity.SnapshotDir)
	c.HTTP.Listen = pick(f.HTTP.Listen, c.HTTP.Listen)
	c.HTTP.DebugListen = pick(f.HTTP.DebugListen, c.HTTP.DebugListen)

	c.Log.Level = pick(f.Log.Level, c.Log.Level)
	c.Log.Format = pick(f.Log.Format, c.Log.Format)
	c.Log.File = pick(f.Log.File, c.Log.File)
	c.Log.DailyFiles = c.Log.DailyFiles || f.Log.DailyFiles
	return nil
}

// applyEnv 用 SOLBOOK_* 环境变量覆盖配置
func (c *Config) applyEnv() error {
	var err error

	c.RPC.Endpoint = getEnv(envPrefix+"RPC_ENDPOINT", c.RPC.Endpoint)
	c.RPC.WSEndpoint = getEnv(envPrefix+"RPC_WS_ENDPOINT", c.RPC.WSEndpoint)
	c.RPC.Commitment = getEnv(envPrefix+"RPC_COMMITMENT", c.RPC.Commitment)
	if c.RPC.Timeout, err = parseDurationEnv(envPrefix+"RPC_TIMEOUT", c.RPC.Timeout); err != nil {
		return err
	}
	c.RPC.RetryCount = parseIntEnv(envPrefix+"RPC_RETRY_COUNT", c.RPC.RetryCount)

	c.Program.ProgramID = getEnv(envPrefix+"PROGRAM_ID", c.Program.ProgramID)
	c.Program.EventAuthority = getEnv(envPrefix+"EVENT_AUTHORITY", c.Program.EventAuthority)

	c.Wallet.Provider = getEnv(envPrefix+"WALLET_PROVIDER", c.Wallet.Provider)
	c.Wallet.KeypairFile = getEnv(envPrefix+"WALLET_KEYPAIR_FILE", c.Wallet.KeypairFile)
	c.Wallet.Mnemonic = getEnv(envPrefix+"WALLET_MNEMONIC", c.Wallet.Mnemonic)
	c.Wallet.MnemonicPassphrase = getEnv(envPrefix+"WALLET_MNEMONIC_PASSPHRASE", c.Wallet.MnemonicPassphrase)
	c.Wallet.SecretStorePath = getEnv(envPrefix+"SECRET_STORE_PATH", c.Wallet.SecretStorePath)
	c.Wallet.SecretStoreKey = getEnv(envPrefix+"SECRET_STORE_KEY", c.Wallet.SecretStoreKey)
	c.Wallet.SecretName = getEnv(envPrefix+"SECRET_NAME", c.Wallet.SecretName)
	c.Wallet.AutoApprove = parseBoolEnv(envPrefix+"WALLET_AUTO_APPROVE", c.Wallet.AutoApprove)

	for op := range c.Market.Modes {
		key := envPrefix + "MODE_" + strings.ToUpper(op)
		if v := os.Getenv(key); v != "" {
			c.Market.Modes[op] = strings.ToLower(v)
		}
	}
	c.Market.CreateVaults = parseBoolEnv(envPrefix+"MARKET_CREATE_VAULTS", c.Market.CreateVaults)
	c.Market.QuoteMint = getEnv(envPrefix+"QUOTE_MINT", c.Market.QuoteMint)
	c.Market.FeeTierMint = getEnv(envPrefix+"FEE_TIER_MINT", c.Market.FeeTierMint)

	c.Store.Path = getEnv(envPrefix+"STORE_PATH", c.Store.Path)
	c.Activity.SnapshotDir = getEnv(envPrefix+"ACTIVITY_SNAPSHOT_DIR", c.Activity.SnapshotDir)
	c.HTTP.Listen = getEnv(envPrefix+"HTTP_LISTEN", c.HTTP.Listen)
	c.HTTP.DebugListen = getEnv(envPrefix+"DEBUG_LISTEN", c.HTTP.DebugListen)

	c.Log.Level = getEnv(envPrefix+"LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv(envPrefix+"LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv(envPrefix+"LOG_FILE", c.Log.File)
	return nil
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.RPC.Endpoint == "" {
		return fmt.Errorf("rpc.endpoint 未配置")
	}
	if !strings.HasPrefix(c.RPC.Endpoint, "http://") && !strings.HasPrefix(c.RPC.Endpoint, "https://") {
		return fmt.Errorf("rpc.endpoint 必须是 http(s) 地址: %s", c.RPC.Endpoint)
	}
	if c.RPC.WSEndpoint != "" && !strings.HasPrefix(c.RPC.WSEndpoint, "ws://") && !strings.HasPrefix(c.RPC.WSEndpoint, "wss://") {
		return fmt.Errorf("rpc.ws_endpoint 必须是 ws(s) 地址: %s", c.RPC.WSEndpoint)
	}
	switch c.RPC.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("rpc.commitment 无效: %s", c.RPC.Commitment)
	}
	if c.Program.ProgramID == "" {
		return fmt.Errorf("program.program_id 未配置")
	}
	if c.Program.EventAuthority == "" {
		return fmt.Errorf("program.event_authority 未配置")
	}
	switch c.Wallet.Provider {
	case "", "local", "none":
	default:
		return fmt.Errorf("wallet.provider 无效: %s (支持 local, none)", c.Wallet.Provider)
	}
	for op, mode := range c.Market.Modes {
		switch op {
		case "create_market", "create_open_orders", "place_order", "create_token_mint":
		default:
			return fmt.Errorf("market.modes 包含未知操作: %s", op)
		}
		if mode != "execute" && mode != "simulate" {
			return fmt.Errorf("market.modes.%s 必须是 execute 或 simulate", op)
		}
	}
	if c.Market.DefaultLots.BaseLotSize <= 0 || c.Market.DefaultLots.QuoteLotSize <= 0 {
		return fmt.Errorf("market.default_lots 的 lot 大小必须大于 0")
	}
	if c.Monitor.NetworkInterval <= 0 || c.Monitor.HealthInterval <= 0 || c.Monitor.BalanceInterval <= 0 {
		return fmt.Errorf("monitor 轮询间隔必须大于 0")
	}
	if c.Risk.MaxConsecutiveErrors < 0 || c.Risk.DailySubmissionLimit < 0 {
		return fmt.Errorf("risk 配置不能为负数")
	}
	return nil
}

func pick(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func pickDuration(name, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback, fmt.Errorf("%s 不是有效的时间间隔: %w", name, err)
	}
	return d, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析时间间隔环境变量，格式错误时返回错误
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s 不是有效的时间间隔: %w", key, err)
	}
	return d, nil
}
