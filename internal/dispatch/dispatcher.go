package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"helmsman/internal/decision"
	"helmsman/internal/gateway/webhook"
	"helmsman/internal/logger"
	"helmsman/internal/types"
)

// 中文说明：
// 分发器把最终决策转成执行网关信号。LONG→BUY、SHORT→SELL、CLOSE→CLOSE；
// 开启 smart_routing 且名义金额超过阈值时按 TWAP 切片发送，
// 单片失败不中止剩余切片。每个策略每轮最多触发一次分发序列。

type Sender interface {
	Send(ctx context.Context, payload webhook.Payload) (*webhook.Response, error)
}

// CredentialStore 查询 owner 的网关密钥并登记已发信号。
type CredentialStore interface {
	DispatchSecret(ctx context.Context, ownerID string) (string, error)
	RecordSignal(ctx context.Context, strategyID, symbol, action string, sizeUSD float64) error
}

type Options struct {
	TWAPThresholdUSD float64
	TWAPSlices       int
	TWAPDuration     time.Duration
}

// Result 汇总一次分发序列的结果。
type Result struct {
	Sent     int     `json:"sent"`
	Failed   int     `json:"failed"`
	SentUSD  float64 `json:"sent_usd"`
	Sliced   bool    `json:"sliced"`
	Messages []string `json:"messages,omitempty"`
}

type Dispatcher struct {
	sender Sender
	creds  CredentialStore
	opts   Options

	sleepFn func(ctx context.Context, d time.Duration) error
}

func New(sender Sender, creds CredentialStore, opts Options) *Dispatcher {
	if opts.TWAPThresholdUSD <= 0 {
		opts.TWAPThresholdUSD = 10000
	}
	if opts.TWAPSlices <= 0 {
		opts.TWAPSlices = 5
	}
	if opts.TWAPDuration <= 0 {
		opts.TWAPDuration = 5 * time.Minute
	}
	return &Dispatcher{
		sender:  sender,
		creds:   creds,
		opts:    opts,
		sleepFn: sleepCtx,
	}
}

// Dispatch 发送一笔（或一组 TWAP 切片）信号。
// HOLD 永不分发；密钥缺失为终态错误，本轮不发送任何信号。
func (dp *Dispatcher) Dispatch(ctx context.Context, st types.Strategy, rc types.ResolvedConfig, d decision.Decision) (*Result, error) {
	if d.IsHold() {
		return &Result{}, nil
	}
	secret, err := dp.creds.DispatchSecret(ctx, st.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("dispatch credential for owner %s: %w", st.OwnerID, err)
	}
	action, err := mapAction(d.Action)
	if err != nil {
		return nil, err
	}

	base := webhook.Payload{
		OwnerID:    st.OwnerID,
		Secret:     secret,
		Exchange:   st.Exchange,
		Symbol:     d.Symbol,
		Action:     action,
		StrategyID: st.ID,
		Source:     string(d.Source),
		Confidence: d.Confidence,
		Rationale:  d.Rationale,
	}

	if rc.SmartRouting && d.Action != decision.ActionClose && d.SizeUSD > dp.opts.TWAPThresholdUSD {
		return dp.dispatchTWAP(ctx, st, base, d.SizeUSD)
	}
	return dp.dispatchSingle(ctx, st, base, d.SizeUSD)
}

func (dp *Dispatcher) dispatchSingle(ctx context.Context, st types.Strategy, payload webhook.Payload, sizeUSD float64) (*Result, error) {
	payload.SizeQuote = sizeUSD
	resp, err := dp.sender.Send(ctx, payload)
	if err != nil {
		return &Result{Failed: 1}, fmt.Errorf("send signal: %w", err)
	}
	dp.recordSignal(ctx, st.ID, payload.Symbol, payload.Action, sizeUSD)
	res := &Result{Sent: 1, SentUSD: sizeUSD}
	if resp != nil && resp.Message != "" {
		res.Messages = append(res.Messages, resp.Message)
	}
	return res, nil
}

// dispatchTWAP 均匀切片。切片金额用 decimal 计算避免累计误差，
// 余数归入最后一片。至少一片成功则整体视为成功。
// 台账按分发序列记一条（不按切片），与日内交易限额口径一致。
func (dp *Dispatcher) dispatchTWAP(ctx context.Context, st types.Strategy, payload webhook.Payload, sizeUSD float64) (*Result, error) {
	n := dp.opts.TWAPSlices
	total := decimal.NewFromFloat(sizeUSD)
	per := total.DivRound(decimal.NewFromInt(int64(n)), 2)
	last := total.Sub(per.Mul(decimal.NewFromInt(int64(n - 1))))
	gap := dp.opts.TWAPDuration / time.Duration(n)

	res := &Result{Sliced: true}
	for i := 0; i < n; i++ {
		slice := per
		if i == n-1 {
			slice = last
		}
		p := payload
		p.SizeQuote = slice.InexactFloat64()
		resp, err := dp.sender.Send(ctx, p)
		if err != nil {
			// 单片失败只告警，继续剩余切片。
			res.Failed++
			logger.Warnf("[dispatch] twap slice %d/%d failed strategy=%s: %v", i+1, n, st.ID, err)
		} else {
			res.Sent++
			res.SentUSD += p.SizeQuote
			if resp != nil && resp.Message != "" {
				res.Messages = append(res.Messages, resp.Message)
			}
		}
		if i < n-1 {
			if err := dp.sleepFn(ctx, gap); err != nil {
				res.Failed += n - 1 - i
				if res.Sent > 0 {
					dp.recordSignal(ctx, st.ID, payload.Symbol, payload.Action, res.SentUSD)
				}
				return res, fmt.Errorf("twap interrupted after slice %d/%d: %w", i+1, n, err)
			}
		}
	}
	if res.Sent == 0 {
		return res, fmt.Errorf("all %d twap slices failed", n)
	}
	dp.recordSignal(ctx, st.ID, payload.Symbol, payload.Action, res.SentUSD)
	return res, nil
}

// recordSignal 落库失败不影响分发结果。
func (dp *Dispatcher) recordSignal(ctx context.Context, strategyID, symbol, action string, sizeUSD float64) {
	if err := dp.creds.RecordSignal(ctx, strategyID, symbol, action, sizeUSD); err != nil {
		logger.Warnf("[dispatch] record signal failed strategy=%s: %v", strategyID, err)
	}
}

func mapAction(a decision.Action) (string, error) {
	switch a {
	case decision.ActionLong:
		return "BUY", nil
	case decision.ActionShort:
		return "SELL", nil
	case decision.ActionClose:
		return "CLOSE", nil
	default:
		return "", fmt.Errorf("action %q cannot be dispatched", a)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
