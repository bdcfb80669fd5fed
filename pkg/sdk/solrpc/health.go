package solrpc

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Health 节点 GET /health 的结果
type Health struct {
	Healthy bool          `json:"healthy"`
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Health 不返回错误，失败记录在结果里
func (c *Client) Health(ctx context.Context) Health {
	start := time.Now()
	resp, err := c.newRequest(ctx).Get("/health")
	latency := time.Since(start)
	if err != nil {
		return Health{Status: "unreachable", Latency: latency, Error: errors.Wrap(err, "health").Error()}
	}

	body := strings.TrimSpace(string(resp.Body()))
	if resp.IsError() {
		if body == "" {
			body = resp.Status()
		}
		return Health{Status: "unhealthy", Latency: latency, Error: body}
	}
	if body == "" {
		body = "ok"
	}
	return Health{Healthy: body == "ok", Status: body, Latency: latency}
}
