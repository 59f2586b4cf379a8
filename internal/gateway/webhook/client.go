package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// 中文说明：
// 执行网关客户端。传输失败做指数退避重试（默认额外 2 次）；
// 非 2xx 与 success:false 为终态失败，本轮不再重试。

// Payload 与执行网关约定的请求体。
type Payload struct {
	OwnerID    string  `json:"ownerId"`
	Secret     string  `json:"secret"`
	Exchange   string  `json:"exchange"`
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	SizeQuote  float64 `json:"sizeQuote"`
	StrategyID string  `json:"strategyId"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type Client struct {
	URL        string
	MaxRetries int
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration, maxRetries int) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("dispatch url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		URL:        url,
		MaxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Send 提交一笔信号。返回网关响应；err 非空时为传输或终态失败。
func (c *Client) Send(ctx context.Context, payload Payload) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out *Response
	op := func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
		if rerr != nil {
			return backoff.Permanent(rerr)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, derr := c.httpClient.Do(req)
		if derr != nil {
			return derr // 传输失败：可重试
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()
		if resp.StatusCode/100 != 2 {
			return backoff.Permanent(fmt.Errorf("gateway status=%d", resp.StatusCode))
		}
		var r Response
		if derr := json.NewDecoder(resp.Body).Decode(&r); derr != nil {
			return backoff.Permanent(fmt.Errorf("decode gateway response: %w", derr))
		}
		out = &r
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.MaxRetries)), ctx)
	if err := backoff.Retry(op, retries); err != nil {
		return nil, err
	}
	if !out.Success {
		return out, fmt.Errorf("gateway rejected signal: %s", out.Message)
	}
	return out, nil
}
