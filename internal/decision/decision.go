package decision

import "time"

// 中文说明：
// Decision 是单轮交易建议。通过 WithSize / ForceHold / Annotated 以值语义演进，
// 每次变换都会追加审计注解，原始模型输出保留在 Raw* 字段，供落库审计。

type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionClose Action = "CLOSE"
	ActionHold  Action = "HOLD"
)

// Source 标识本轮决策来自哪个模型服务。
type Source string

const (
	SourceStatistical Source = "statistical"
	SourceReasoning   Source = "reasoning"
)

// Annotation 记录一个 sizing/gate 阶段的裁决。
type Annotation struct {
	Stage   string             `json:"stage"`
	Allowed bool               `json:"allowed"`
	Reason  string             `json:"reason,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	At      time.Time          `json:"at"`
}

type Decision struct {
	Action     Action  `json:"action"`
	Symbol     string  `json:"symbol"`
	SizeUSD    float64 `json:"size_usd"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Source     Source  `json:"source"`

	// 原始模型输出（进入级联前的值），审计要求可恢复。
	RawAction  Action  `json:"raw_action"`
	RawSizeUSD float64 `json:"raw_size_usd"`

	Trail []Annotation `json:"trail,omitempty"`
}

// New 构造原始决策并冻结 Raw* 字段。HOLD 的 size 恒为 0。
func New(action Action, symbol string, sizeUSD, confidence float64, rationale string, src Source) Decision {
	if sizeUSD < 0 {
		sizeUSD = 0
	}
	if action == ActionHold {
		sizeUSD = 0
	}
	return Decision{
		Action:     action,
		Symbol:     symbol,
		SizeUSD:    sizeUSD,
		Confidence: clamp01(confidence),
		Rationale:  rationale,
		Source:     src,
		RawAction:  action,
		RawSizeUSD: sizeUSD,
	}
}

// WithSize 返回调整仓位后的新值，并追加注解。
func (d Decision) WithSize(size float64, stage, reason string, metrics map[string]float64) Decision {
	if size < 0 {
		size = 0
	}
	next := d
	next.SizeUSD = size
	next.Trail = appendAnnotation(d.Trail, Annotation{
		Stage:   stage,
		Allowed: true,
		Reason:  reason,
		Metrics: metrics,
		At:      time.Now().UTC(),
	})
	return next
}

// ForceHold 将动作改为 HOLD（size 置 0），并追加拒绝注解。
func (d Decision) ForceHold(stage, reason string, metrics map[string]float64) Decision {
	next := d
	next.Action = ActionHold
	next.SizeUSD = 0
	next.Trail = appendAnnotation(d.Trail, Annotation{
		Stage:   stage,
		Allowed: false,
		Reason:  reason,
		Metrics: metrics,
		At:      time.Now().UTC(),
	})
	return next
}

// Annotated 只追加注解，不改动决策本身（用于通过的 gate）。
func (d Decision) Annotated(stage string, allowed bool, reason string, metrics map[string]float64) Decision {
	next := d
	next.Trail = appendAnnotation(d.Trail, Annotation{
		Stage:   stage,
		Allowed: allowed,
		Reason:  reason,
		Metrics: metrics,
		At:      time.Now().UTC(),
	})
	return next
}

// IsHold 返回最终动作是否为 HOLD。
func (d Decision) IsHold() bool { return d.Action == ActionHold }

func appendAnnotation(trail []Annotation, a Annotation) []Annotation {
	out := make([]Annotation, len(trail), len(trail)+1)
	copy(out, trail)
	return append(out, a)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
