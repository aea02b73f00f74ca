package strategy

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"stratlab/internal/pkg/errs"
)

// DecodeDocument 解析策略文档，接受两种形态：
//   - 完整形态 {"name", "config": {...}, "optimizable_params": {...}}
//   - 裸配置 {"indicators", "entry_rules", "exit_rules"}，名称取 fallbackName
//
// 旧数据中 config 以 JSON 字符串保存、tags 以逗号分隔字符串保存，也一并兼容。
func DecodeDocument(raw []byte, fallbackName string) (Strategy, error) {
	if !gjson.ValidBytes(raw) {
		return Strategy{}, errs.InvalidStrategy("malformed JSON", "")
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return Strategy{}, errs.InvalidStrategy("strategy document must be an object", "")
	}
	doc, err := normalizeDocument(parsed, fallbackName)
	if err != nil {
		return Strategy{}, err
	}
	if err := ValidateSchema(doc); err != nil {
		return Strategy{}, err
	}
	var s Strategy
	if err := json.Unmarshal(doc, &s); err != nil {
		return Strategy{}, errs.InvalidStrategy(err.Error(), "")
	}
	s.RiskLevel = strings.ToUpper(s.RiskLevel)
	if !parsed.Get("is_active").Exists() {
		s.IsActive = true
	}
	if err := s.Validate(); err != nil {
		return Strategy{}, err
	}
	return s, nil
}

// DecodeConfig 只解析配置部分（裸配置或完整文档中的 config）。
func DecodeConfig(raw []byte) (Config, error) {
	s, err := DecodeDocument(raw, "inline")
	if err != nil {
		return Config{}, err
	}
	return s.Config, nil
}

func normalizeDocument(parsed gjson.Result, fallbackName string) ([]byte, error) {
	out := map[string]json.RawMessage{}
	config := parsed.Get("config")
	switch {
	case config.Type == gjson.String:
		if !gjson.Valid(config.String()) {
			return nil, errs.InvalidStrategy("config string is not valid JSON", "config")
		}
		out["config"] = json.RawMessage(config.String())
	case config.IsObject():
		out["config"] = json.RawMessage(config.Raw)
	case parsed.Get("entry_rules").Exists() || parsed.Get("indicators").Exists():
		cfg := map[string]json.RawMessage{}
		for _, key := range []string{"indicators", "entry_rules", "exit_rules", "constants"} {
			if v := parsed.Get(key); v.Exists() {
				cfg[key] = json.RawMessage(v.Raw)
			}
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		out["config"] = raw
	default:
		return nil, errs.InvalidStrategy("document has no config", "config")
	}

	parsed.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "config", "indicators", "entry_rules", "exit_rules", "constants":
		case "tags":
			if value.Type == gjson.String {
				tags := splitTags(value.String())
				raw, _ := json.Marshal(tags)
				out["tags"] = raw
			} else {
				out["tags"] = json.RawMessage(value.Raw)
			}
		default:
			out[key.String()] = json.RawMessage(value.Raw)
		}
		return true
	})
	if !parsed.Get("name").Exists() {
		raw, _ := json.Marshal(fallbackName)
		out["name"] = raw
	}
	return json.Marshal(out)
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if tags == nil {
		tags = []string{}
	}
	return tags
}
