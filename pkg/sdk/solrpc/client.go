// Package solrpc 基于 resty 的 Solana JSON-RPC 2.0 传输层。
// 实现 rpc.JSONRPCClient，solana-go 的类型化客户端直接跑在上面，
// 重试、429 Retry-After 和按方法限流都在这一层处理。
package solrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/betbot/solbook/pkg/ratelimit"
)

const userAgent = "solbook/1.0"

// CallHook 每次调用结束后回调（用于指标）
type CallHook func(method string, took time.Duration, err error)

type Options struct {
	Endpoint         string
	Timeout          time.Duration
	RetryCount       int
	RetryWaitTime    time.Duration
	RetryMaxWaitTime time.Duration
	Headers          map[string]string
	Limiter          *ratelimit.RateLimitManager
	OnCall           CallHook
	Transport        http.RoundTripper // 测试注入
}

type Client struct {
	client   *resty.Client
	endpoint string
	limiter  *ratelimit.RateLimitManager
	onCall   CallHook
}

var _ rpc.JSONRPCClient = (*Client)(nil)

func NewClient(opts Options) *Client {
	endpoint := strings.TrimSuffix(opts.Endpoint, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.RetryWaitTime <= 0 {
		opts.RetryWaitTime = time.Second
	}
	if opts.RetryMaxWaitTime <= 0 {
		opts.RetryMaxWaitTime = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWaitTime).
		SetRetryMaxWaitTime(opts.RetryMaxWaitTime).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 时使用 Retry-After 头，其他情况走 resty 默认退避
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if d, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return d, nil
					}
				}
				return opts.RetryMaxWaitTime, nil
			}
			return 0, nil
		})
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}

	return &Client{
		client:   client,
		endpoint: endpoint,
		limiter:  opts.Limiter,
		onCall:   opts.OnCall,
	}
}

// NewRPC 返回跑在本传输层上的 solana-go 客户端
func (c *Client) NewRPC() *rpc.Client {
	return rpc.NewWithCustomRPCClient(c)
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("Connection", "keep-alive")
	r.SetHeader("User-Agent", userAgent)
	return r
}

func newRPCRequest(method string, params []interface{}) *jsonrpc.RPCRequest {
	req := &jsonrpc.RPCRequest{
		Method:  method,
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
	}
	if params != nil {
		req.Params = params
	}
	return req
}

// post 发送 body 并把原始响应交给 handle，响应体不预先解析
func (c *Client) post(ctx context.Context, method string, body interface{}, handle func(*http.Request, *http.Response) error) (err error) {
	start := time.Now()
	defer func() {
		if c.onCall != nil {
			c.onCall(method, time.Since(start), err)
		}
	}()

	if err = c.limiter.WaitMethod(ctx, method); err != nil {
		return errors.Wrapf(err, "rpc %s: rate limit wait", method)
	}

	resp, err := c.newRequest(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetDoNotParseResponse(true).
		Post("")
	if err != nil {
		return errors.Wrapf(err, "rpc %s", method)
	}
	raw := resp.RawResponse
	defer raw.Body.Close()

	if err = handle(resp.Request.RawRequest, raw); err != nil {
		return errors.Wrapf(err, "rpc %s", method)
	}
	return nil
}

// CallForInto 单次调用，把 result 解码到 out
func (c *Client) CallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error {
	return c.post(ctx, method, newRPCRequest(method, params), func(_ *http.Request, httpResp *http.Response) error {
		rpcResp, err := decodeResponse(httpResp)
		if err != nil {
			return err
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}
		return rpcResp.GetObject(out)
	})
}

// CallWithCallback 原始 HTTP 请求/响应交给 callback
func (c *Client) CallWithCallback(ctx context.Context, method string, params []interface{}, callback func(*http.Request, *http.Response) error) error {
	return c.post(ctx, method, newRPCRequest(method, params), callback)
}

// CallBatch 以 JSON 数组批量发送，缺失的 ID 自动补齐
func (c *Client) CallBatch(ctx context.Context, requests jsonrpc.RPCRequests) (jsonrpc.RPCResponses, error) {
	if len(requests) == 0 {
		return nil, errors.New("rpc batch: no requests")
	}
	for _, r := range requests {
		if r.ID == nil {
			r.ID = uuid.NewString()
		}
		if r.JSONRPC == "" {
			r.JSONRPC = "2.0"
		}
	}

	var out jsonrpc.RPCResponses
	err := c.post(ctx, "batch", requests, func(_ *http.Request, httpResp *http.Response) error {
		body, err := readBody(httpResp)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &out); err != nil || len(out) == 0 {
			return httpError(httpResp.StatusCode, body, err)
		}
		return nil
	})
	return out, err
}

// Close 释放空闲连接
func (c *Client) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}

func readBody(httpResp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(httpResp.Body); err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return buf.Bytes(), nil
}

func decodeResponse(httpResp *http.Response) (*jsonrpc.RPCResponse, error) {
	body, err := readBody(httpResp)
	if err != nil {
		return nil, err
	}
	var rpcResp *jsonrpc.RPCResponse
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&rpcResp); err != nil || rpcResp == nil {
		return nil, httpError(httpResp.StatusCode, body, err)
	}
	return rpcResp, nil
}

// httpError 响应体不是 JSON-RPC 响应时的错误
func httpError(status int, body []byte, cause error) error {
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		text = text[:256] + "..."
	}
	if status >= 400 {
		return jsonrpc.NewHTTPError(status, errors.Errorf("http non-2xx (%d): %s", status, text))
	}
	if cause != nil {
		return errors.Wrapf(cause, "invalid rpc response: %s", text)
	}
	return errors.Errorf("rpc response missing: %s", text)
}

// AsRPCError 从 err 中取出 JSON-RPC 错误对象
func AsRPCError(err error) (*jsonrpc.RPCError, bool) {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// HTTPStatus err 携带的 HTTP 状态码，没有时为 0
func HTTPStatus(err error) int {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return 0
}
