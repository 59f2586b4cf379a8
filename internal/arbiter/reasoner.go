package arbiter

import (
	"context"
	"fmt"

	"helmsman/internal/gateway/reason"
)

// ChatReasoner 把 OpenAI 兼容聊天客户端适配为 Reasoner：
// 由快照/持仓/策略指令拼 prompt，调用后按契约 schema 解析。
// 传输层由客户端自行重试；语义畸形是硬错误。
type ChatReasoner struct {
	Client *reason.ChatClient
}

func (r *ChatReasoner) Advise(ctx context.Context, req ReasonRequest) (*reason.Advice, error) {
	if r == nil || r.Client == nil {
		return nil, fmt.Errorf("reasoning client not configured")
	}
	system, user := reason.BuildPrompts(req.Snapshot, req.Positions, req.BaseNotionalUSD, req.Instructions)
	raw, err := r.Client.CallWithMessages(ctx, req.StrategyID, system, user)
	if err != nil {
		return nil, fmt.Errorf("reasoning call: %w", err)
	}
	advice, err := reason.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("reasoning output malformed: %w", err)
	}
	return advice, nil
}
