// Package solws 提供 Solana PubSub WebSocket 客户端（signatureSubscribe / accountSubscribe），
// 支持断线重连与自动重新订阅
package solws

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// 重连设置
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPingInterval      = 20 * time.Second
	defaultRequestTimeout    = 10 * time.Second

	// 每个订阅的通知缓冲区
	defaultNotifyBufferSize = 16

	// 连接重试设置
	defaultMaxRetries = 3
)

// 订阅方法
const (
	MethodSignatureSubscribe = "signatureSubscribe"
	MethodAccountSubscribe   = "accountSubscribe"
)

// Config 是 WebSocket 客户端配置
type Config struct {
	// 重连设置
	ReconnectEnabled     bool          // 是否启用自动重连
	ReconnectDelay       time.Duration // 重连延迟（线性递增）
	MaxReconnectDelay    time.Duration // 最大重连延迟
	MaxReconnectAttempts int           // 最大连续重连次数，<= 0 表示不限

	// 心跳设置
	PingInterval time.Duration // 标准 WebSocket Ping 间隔

	// 请求设置
	RequestTimeout   time.Duration // 等待订阅应答的超时
	NotifyBufferSize int           // 每个订阅的通知缓冲区大小

	// 连接设置
	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	HandshakeTimeout time.Duration // 握手超时时间
	DialRetries      int           // 初次连接的重试次数
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconnectEnabled:     true,
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		MaxReconnectAttempts: 10,
		PingInterval:         defaultPingInterval,
		RequestTimeout:       defaultRequestTimeout,
		NotifyBufferSize:     defaultNotifyBufferSize,
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
		HandshakeTimeout:     15 * time.Second,
		DialRetries:          defaultMaxRetries,
	}
}

// Notification 订阅推送
type Notification struct {
	Method string          // signatureNotification / accountNotification
	Slot   uint64          // 推送对应的 slot
	Value  json.RawMessage // result.value 原样保留
}

// SignatureResult signatureNotification 的 value
type SignatureResult struct {
	Err interface{} `json:"err"`
}

// DecodeSignature 解析 signatureNotification，返回交易执行错误（nil 表示成功）
func (n Notification) DecodeSignature() (txErr interface{}, err error) {
	var v SignatureResult
	if err := json.Unmarshal(n.Value, &v); err != nil {
		return nil, fmt.Errorf("解析 signatureNotification 失败: %w", err)
	}
	return v.Err, nil
}

// RPCError 服务端返回的 JSON-RPC 错误
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
}

func unsubscribeMethod(subscribeMethod string) string {
	switch subscribeMethod {
	case MethodSignatureSubscribe:
		return "signatureUnsubscribe"
	case MethodAccountSubscribe:
		return "accountUnsubscribe"
	}
	return ""
}
