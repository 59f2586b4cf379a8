package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 中文说明：
// 推理服务请求/响应落盘：用于审计与后续模型训练样本采集。

var (
	reasonMu  sync.Mutex
	reasonLog *log.Logger
)

func SetReasoningWriter(w io.Writer) {
	reasonMu.Lock()
	defer reasonMu.Unlock()
	if w == nil {
		reasonLog = nil
		return
	}
	reasonLog = log.New(w, "", log.LstdFlags)
}

func logReasoning(kind, strategyID string, sections map[string]string, order []string) {
	reasonMu.Lock()
	l := reasonLog
	reasonMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[REASON][")
	b.WriteString(kind)
	b.WriteString("]")
	if strategyID != "" {
		b.WriteString("[")
		b.WriteString(strategyID)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, title := range order {
		body := sections[title]
		if strings.TrimSpace(body) == "" {
			continue
		}
		b.WriteString("--- ")
		b.WriteString(title)
		b.WriteString(" ---\n")
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func LogReasoningRequest(strategyID, systemPrompt, userPrompt string) {
	logReasoning("request", strategyID,
		map[string]string{"SYSTEM": systemPrompt, "USER": userPrompt},
		[]string{"SYSTEM", "USER"})
}

func LogReasoningResponse(strategyID, raw string) {
	logReasoning("response", strategyID, map[string]string{"RAW": raw}, []string{"RAW"})
}
