package solws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/solbook/pkg/logger"
)

var (
	// ErrNotRunning 客户端未启动或已停止
	ErrNotRunning = errors.New("solws: client not running")
	// ErrDisconnected 请求发出后连接断开
	ErrDisconnected = errors.New("solws: connection lost")
)

type callResult struct {
	serverID uint64
	err      error
}

type pendingCall struct {
	ch  chan callResult
	sub *subscription // 订阅请求时非空
}

type subscription struct {
	id       uint64 // 本地 ID
	method   string
	params   []interface{}
	oneShot  bool // signatureSubscribe 收到一次通知后由服务端自动取消
	serverID uint64
	ch       chan Notification
	once     sync.Once
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Subscription 订阅句柄
type Subscription struct {
	c   *Client
	sub *subscription
}

// C 通知通道；订阅结束（一次性订阅完成、取消或客户端停止）时关闭
func (s *Subscription) C() <-chan Notification {
	return s.sub.ch
}

// Unsubscribe 取消订阅，可重复调用
func (s *Subscription) Unsubscribe() {
	s.c.unsubscribe(s.sub)
}

// Client 管理 Solana PubSub WebSocket 连接
type Client struct {
	// 连接相关
	conn      *websocket.Conn
	connMu    sync.Mutex
	url       string
	config    *Config
	running   bool
	runningMu sync.RWMutex

	// 请求与订阅
	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]*pendingCall   // 请求 ID -> 等待应答
	subs     map[uint64]*subscription  // 本地 ID -> 订阅
	byServer map[uint64]*subscription  // 服务端订阅 ID -> 订阅

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	// 重连状态
	reconnectAttempts int
	lastPong          time.Time
	lastPongMu        sync.RWMutex

	log *logrus.Entry
}

// NewClient 创建新的 PubSub 客户端
func NewClient(url string, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		url:      url,
		config:   config,
		pending:  make(map[uint64]*pendingCall),
		subs:     make(map[uint64]*subscription),
		byServer: make(map[uint64]*subscription),
		doneCh:   make(chan struct{}),
		log:      logger.Component("solws"),
	}
}

// Start 连接到 WebSocket 并开始监听
func (c *Client) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("WebSocket 客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		c.cancel()
		return fmt.Errorf("初始连接失败: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	c.log.Infof("已连接到 %s", c.url)
	return nil
}

// Stop 关闭连接并结束所有订阅
func (c *Client) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		c.log.Warn("关闭超时")
	}

	c.mu.Lock()
	for id, p := range c.pending {
		p.ch <- callResult{err: ErrNotRunning}
		delete(c.pending, id)
	}
	for id, sub := range c.subs {
		sub.close()
		delete(c.subs, id)
	}
	c.byServer = make(map[uint64]*subscription)
	c.mu.Unlock()

	c.log.Info("已停止")
}

// IsRunning 检查客户端是否正在运行
func (c *Client) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// SubscriptionCount 返回活跃订阅数量
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// SignatureSubscribe 订阅交易签名的确认通知（一次性）
func (c *Client) SignatureSubscribe(ctx context.Context, signature, commitment string) (*Subscription, error) {
	params := []interface{}{signature, map[string]interface{}{"commitment": commitment}}
	return c.subscribe(ctx, MethodSignatureSubscribe, params, true)
}

// AccountSubscribe 订阅账户变化（base64 编码）
func (c *Client) AccountSubscribe(ctx context.Context, account, commitment string) (*Subscription, error) {
	params := []interface{}{account, map[string]interface{}{"commitment": commitment, "encoding": "base64"}}
	return c.subscribe(ctx, MethodAccountSubscribe, params, false)
}

func (c *Client) subscribe(ctx context.Context, method string, params []interface{}, oneShot bool) (*Subscription, error) {
	if !c.IsRunning() {
		return nil, ErrNotRunning
	}

	c.mu.Lock()
	c.nextID++
	sub := &subscription{
		id:      c.nextID,
		method:  method,
		params:  params,
		oneShot: oneShot,
		ch:      make(chan Notification, c.config.NotifyBufferSize),
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	res, err := c.call(ctx, method, params, sub)
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		sub.close()
		return nil, fmt.Errorf("%s 失败: %w", method, err)
	}
	c.log.WithField("subscription", res.serverID).Debugf("%s 成功", method)
	return &Subscription{c: c, sub: sub}, nil
}

func (c *Client) unsubscribe(sub *subscription) {
	c.mu.Lock()
	_, active := c.subs[sub.id]
	delete(c.subs, sub.id)
	serverID := sub.serverID
	if serverID != 0 && c.byServer[serverID] == sub {
		delete(c.byServer, serverID)
	}
	c.mu.Unlock()
	sub.close()

	if !active || serverID == 0 {
		return
	}
	// 不等待应答，服务端的响应在 readLoop 中按未知 ID 丢弃
	if _, _, err := c.send(unsubscribeMethod(sub.method), []interface{}{serverID}, nil, false); err != nil {
		c.log.WithField("subscription", serverID).Debugf("取消订阅发送失败: %v", err)
	}
}

// send 写出请求。track 为 true 时登记等待应答
func (c *Client) send(method string, params []interface{}, sub *subscription, track bool) (uint64, chan callResult, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	var ch chan callResult
	if track {
		ch = make(chan callResult, 1)
		c.pending[id] = &pendingCall{ch: ch, sub: sub}
	}
	c.mu.Unlock()

	req := wsRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	c.connMu.Lock()
	conn := c.conn
	var err error
	if conn == nil {
		err = ErrDisconnected
	} else {
		err = conn.WriteJSON(req)
	}
	c.connMu.Unlock()

	if err != nil {
		if track {
			c.mu.Lock()
			delete(c.pending, id)
			c.mu.Unlock()
		}
		return 0, nil, fmt.Errorf("发送 %s 失败: %w", method, err)
	}
	return id, ch, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, sub *subscription) (callResult, error) {
	id, ch, err := c.send(method, params, sub, true)
	if err != nil {
		return callResult{}, err
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, res.err
	case <-ctx.Done():
		c.dropPending(id)
		return callResult{}, ctx.Err()
	case <-timer.C:
		c.dropPending(id)
		return callResult{}, fmt.Errorf("等待 %s 应答超时", method)
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// connect 建立 WebSocket 连接（带重试）
func (c *Client) connect() error {
	dialer := websocket.Dialer{
		ReadBufferSize:   c.config.ReadBufferSize,
		WriteBufferSize:  c.config.WriteBufferSize,
		HandshakeTimeout: c.config.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	headers := make(http.Header)
	headers.Set("User-Agent", "solbook/1.0")

	retries := c.config.DialRetries
	if retries <= 0 {
		retries = 1
	}

	var conn *websocket.Conn
	var err error
	for i := 0; i < retries; i++ {
		conn, _, err = dialer.DialContext(c.ctx, c.url, headers)
		if err == nil {
			break
		}
		if i < retries-1 {
			c.log.Warnf("连接尝试 %d/%d 失败: %v, 重试中...", i+1, retries, err)
			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}
	}
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		c.lastPongMu.Lock()
		c.lastPong = time.Now()
		c.lastPongMu.Unlock()
		return nil
	})

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()

	c.lastPongMu.Lock()
	c.lastPong = time.Now()
	c.lastPongMu.Unlock()

	c.reconnectAttempts = 0
	return nil
}

// LastPong 最近一次收到 Pong 的时间
func (c *Client) LastPong() time.Time {
	c.lastPongMu.RLock()
	defer c.lastPongMu.RUnlock()
	return c.lastPong
}

// readLoop 读取循环，只有它会调用 reconnect
func (c *Client) readLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.config.ReconnectEnabled || !c.reconnect() {
				if c.ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
			}
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn == conn {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
			c.failPending(ErrDisconnected)

			if c.ctx.Err() != nil {
				return
			}
			c.log.Warnf("读取错误: %v, 重连中...", err)
			continue
		}

		c.handleMessage(message)
	}
}

// pingLoop 定期发送标准 Ping
func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					c.log.Debugf("Ping 发送失败: %v", err)
				}
			}
			c.connMu.Unlock()
		}
	}
}

// reconnect 线性退避后重连并重新订阅，返回是否成功
func (c *Client) reconnect() bool {
	c.reconnectAttempts++
	attempts := c.reconnectAttempts

	if limit := c.config.MaxReconnectAttempts; limit > 0 && attempts > limit {
		if attempts == limit+1 {
			c.log.Errorf("达到最大重连次数 (%d)", limit)
		}
		return false
	}

	delay := c.config.ReconnectDelay * time.Duration(attempts)
	if delay > c.config.MaxReconnectDelay {
		delay = c.config.MaxReconnectDelay
	}
	c.log.Infof("%v 后重连 (尝试 %d)...", delay, attempts)

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		c.log.Warnf("重连失败: %v", err)
		return false
	}
	c.resubscribe()
	return true
}

// resubscribe 重连后重新发送所有订阅；应答由 readLoop 处理，这里不等待
func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.serverID != 0 {
			delete(c.byServer, sub.serverID)
			sub.serverID = 0
		}
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if _, _, err := c.send(sub.method, sub.params, sub, true); err != nil {
			c.log.Warnf("重新订阅 %s 失败: %v", sub.method, err)
		}
	}
	if len(subs) > 0 {
		c.log.Infof("已重新订阅 %d 个", len(subs))
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		p.ch <- callResult{err: err}
		delete(c.pending, id)
	}
}

// handleMessage 处理应答或推送
func (c *Client) handleMessage(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Debugf("解析消息失败: %v", err)
		return
	}

	if msg.ID != nil {
		c.handleResponse(*msg.ID, &msg)
		return
	}
	if msg.Params != nil && msg.Method != "" {
		c.handleNotification(&msg)
	}
}

func (c *Client) handleResponse(id uint64, msg *wsMessage) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	if !ok {
		c.mu.Unlock()
		return
	}

	if msg.Error != nil {
		c.mu.Unlock()
		p.ch <- callResult{err: msg.Error}
		return
	}

	var serverID uint64
	if p.sub != nil {
		if err := json.Unmarshal(msg.Result, &serverID); err != nil {
			c.mu.Unlock()
			p.ch <- callResult{err: fmt.Errorf("订阅 ID 无效: %w", err)}
			return
		}
		// 在 readLoop 内登记映射，紧随其后的通知才能找到订阅
		if _, active := c.subs[p.sub.id]; active {
			p.sub.serverID = serverID
			c.byServer[serverID] = p.sub
		}
	}
	c.mu.Unlock()
	p.ch <- callResult{serverID: serverID}
}

func (c *Client) handleNotification(msg *wsMessage) {
	c.mu.Lock()
	sub, ok := c.byServer[msg.Params.Subscription]
	if ok && sub.oneShot {
		delete(c.byServer, sub.serverID)
		delete(c.subs, sub.id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	n := Notification{
		Method: msg.Method,
		Slot:   msg.Params.Result.Context.Slot,
		Value:  msg.Params.Result.Value,
	}
	select {
	case sub.ch <- n:
	default:
		c.log.WithField("subscription", sub.serverID).Warn("通知缓冲区已满，丢弃通知")
	}
	if sub.oneShot {
		sub.close()
	}
}
