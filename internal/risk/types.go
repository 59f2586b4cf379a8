package risk

// 中文说明：
// 风险检查结果与失败策略。每个 gate 的 fail-open / fail-closed 是接口上的
// 显式属性，而不是散落在 recover/err 分支里的隐含行为。

// FailureMode 声明 gate 自身评估失败（依赖查询出错、计算异常）时的默认裁决。
type FailureMode int

const (
	// OpenOnError 评估失败时放行（可用性优先，绝大多数 gate 采用）。
	OpenOnError FailureMode = iota
	// ClosedOnError 评估失败时保守处理；当前实现降级为放行+告警。
	ClosedOnError
)

func (m FailureMode) String() string {
	if m == ClosedOnError {
		return "closed_on_error"
	}
	return "open_on_error"
}

// Result 单个风险检查的裁决。
type Result struct {
	Name    string             `json:"name"`
	Allowed bool               `json:"allowed"`
	Pause   bool               `json:"pause,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

func Allow(name, reason string, metrics map[string]float64) Result {
	return Result{Name: name, Allowed: true, Reason: reason, Metrics: metrics}
}

func Deny(name, reason string, metrics map[string]float64) Result {
	return Result{Name: name, Allowed: false, Reason: reason, Metrics: metrics}
}
