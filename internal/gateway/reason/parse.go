package reason

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// 中文说明：
// 推理服务输出解析：从原始文本中提取 JSON 对象，按契约 schema 校验，
// 畸形输出是本轮硬错误（不重试语义内容）。

// Advice 推理服务的契约字段集。
type Advice struct {
	Action     string  `json:"action"`
	Symbol     string  `json:"symbol"`
	Size       float64 `json:"size"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

const adviceSchemaJSON = `{
  "type": "object",
  "required": ["action", "symbol", "size", "confidence", "rationale"],
  "properties": {
    "action":     {"type": "string", "enum": ["LONG", "SHORT", "CLOSE", "HOLD"]},
    "symbol":     {"type": "string", "minLength": 1},
    "size":       {"type": "number", "minimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale":  {"type": "string"}
  }
}`

var adviceSchema = jsonschema.MustCompileString("advice.json", adviceSchemaJSON)

// Parse 提取并校验决策 JSON。
func Parse(raw string) (*Advice, error) {
	payload := extractJSONObject(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object found in reasoning output")
	}
	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON in reasoning output: %w", err)
	}
	if err := adviceSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("reasoning output failed schema validation: %w", err)
	}
	var advice Advice
	if err := json.Unmarshal([]byte(payload), &advice); err != nil {
		return nil, err
	}
	advice.Action = strings.ToUpper(strings.TrimSpace(advice.Action))
	advice.Symbol = strings.ToUpper(strings.TrimSpace(advice.Symbol))
	return &advice, nil
}

// extractJSONObject 剥掉 markdown 代码栅栏和前后缀文本，取首个平衡的 JSON 对象。
func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
		raw = strings.TrimSpace(raw)
	}
	if gjson.Valid(raw) && gjson.Parse(raw).IsObject() {
		return raw
	}
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := raw[start : i+1]
				if gjson.Valid(candidate) {
					return candidate
				}
				return ""
			}
		}
	}
	return ""
}
