package predict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// 中文说明：
// 统计预测服务客户端。/predict 输入固定特征向量，输出动作与置信度；
// /health 只在进程启动时探测一次并记日志，不作为管线门槛。

var ErrUnavailable = errors.New("prediction service unavailable")

// Features 与服务端约定的特征向量。
type Features struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	SMA20       float64 `json:"sma_20"`
	EMA12       float64 `json:"ema_12"`
	EMA26       float64 `json:"ema_26"`
	RSI14       float64 `json:"rsi_14"`
	ATR14       float64 `json:"atr_14"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	BollUpper   float64 `json:"boll_upper"`
	BollLower   float64 `json:"boll_lower"`
	VolumeRatio float64 `json:"volume_ratio"`

	BookImbalance float64 `json:"book_imbalance"`
	SpreadBps     float64 `json:"spread_bps"`

	OpenPositions  int     `json:"open_positions"`
	PortfolioValue float64 `json:"portfolio_value"`

	HourOfDayUTC int `json:"hour_of_day_utc"`
	DayOfWeek    int `json:"day_of_week"`
}

// Prediction 服务端响应。
type Prediction struct {
	Confidence    float64 `json:"confidence"`
	Action        string  `json:"action"`
	Probability   float64 `json:"probability"`
	ShouldExecute bool    `json:"should_execute"`
	ModelVersion  string  `json:"model_version"`
	ModelType     string  `json:"model_type"`
}

type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	client.SetTimeout(timeout)
	return &Client{http: client}
}

// Enabled 返回是否配置了服务地址。
func (c *Client) Enabled() bool {
	return c != nil && c.http.BaseURL != ""
}

func (c *Client) Predict(ctx context.Context, features Features) (*Prediction, error) {
	if !c.Enabled() {
		return nil, ErrUnavailable
	}
	var out Prediction
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(features).
		SetResult(&out).
		Post("/predict")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode()/100 != 2 {
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode())
	}
	if strings.TrimSpace(out.Action) == "" {
		return nil, fmt.Errorf("predict response missing action")
	}
	return &out, nil
}

// Health 探活。进程启动时调用一次。
func (c *Client) Health(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	return err == nil && resp.StatusCode()/100 == 2
}
