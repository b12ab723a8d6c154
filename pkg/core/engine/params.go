package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// 内置日期参数使用的格式（与stats API一致）
const paramDateLayout = "01/02/2006"

// builtinParams 内置参数，可在Flow参数中以 ${name} 引用
func builtinParams(now time.Time) map[string]any {
	return map[string]any{
		"today":       now.Format(paramDateLayout),
		"yesterday":   now.AddDate(0, 0, -1).Format(paramDateLayout),
		"week_ago":    now.AddDate(0, 0, -7).Format(paramDateLayout),
		"month_start": time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(paramDateLayout),
	}
}

// placeholderName 整个值为 ${name} 时返回name
func placeholderName(value string) (string, bool) {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(value, "${"), "}"))
	return name, name != ""
}

// ResolveParams 替换Flow参数中的 ${name} 占位符（对外导出）
// 先查找其他非占位符参数，再查找内置日期参数；返回新map，不修改入参
func ResolveParams(params map[string]any, now time.Time) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for k, v := range params {
		resolved[k] = v
	}

	var builtins map[string]any
	var unresolved []string
	for key, value := range params {
		s, ok := value.(string)
		if !ok {
			continue
		}
		name, ok := placeholderName(s)
		if !ok {
			continue
		}

		if ref, exists := params[name]; exists && name != key {
			if rs, isStr := ref.(string); !isStr || !strings.HasPrefix(rs, "${") {
				resolved[key] = ref
				continue
			}
		}
		if builtins == nil {
			builtins = builtinParams(now)
		}
		if b, exists := builtins[name]; exists {
			resolved[key] = b
			continue
		}
		unresolved = append(unresolved, name)
	}

	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, fmt.Errorf("以下占位符未找到对应的参数值: %v", unresolved)
	}
	return resolved, nil
}
