package task

import (
	"fmt"
)

// Input 一个命名输入值
type Input struct {
	Name  string
	Value any
}

// Inputs 有序的命名输入列表（对外导出）
type Inputs []Input

// In 构造单个输入
func In(name string, value any) Input {
	return Input{Name: name, Value: value}
}

// NewInputs 按顺序构造输入
func NewInputs(in ...Input) Inputs {
	return Inputs(in)
}

// Get 获取输入值，不存在返回nil
func (in Inputs) Get(name string) any {
	for _, i := range in {
		if i.Name == name {
			return i.Value
		}
	}
	return nil
}

// Has 是否存在输入
func (in Inputs) Has(name string) bool {
	for _, i := range in {
		if i.Name == name {
			return true
		}
	}
	return false
}

// Names 返回输入名（保持声明顺序）
func (in Inputs) Names() []string {
	names := make([]string, len(in))
	for i, v := range in {
		names[i] = v.Name
	}
	return names
}

// Map 转为map，用于缓存键计算
func (in Inputs) Map() map[string]any {
	m := make(map[string]any, len(in))
	for _, i := range in {
		m[i.Name] = i.Value
	}
	return m
}

// GetString 获取字符串输入
func (in Inputs) GetString(name string) string {
	val := in.Get(name)
	if val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// GetInt 获取整数输入
func (in Inputs) GetInt(name string) (int, error) {
	val := in.Get(name)
	if val == nil {
		return 0, fmt.Errorf("输入 %s 不存在", name)
	}

	switch v := val.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		var i int
		_, err := fmt.Sscanf(v, "%d", &i)
		return i, err
	default:
		return 0, fmt.Errorf("输入 %s 类型不是整数，当前类型: %T", name, val)
	}
}

// GetFloat 获取浮点输入
func (in Inputs) GetFloat(name string) (float64, error) {
	val := in.Get(name)
	if val == nil {
		return 0, fmt.Errorf("输入 %s 不存在", name)
	}

	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		var f float64
		_, err := fmt.Sscanf(v, "%f", &f)
		return f, err
	default:
		return 0, fmt.Errorf("输入 %s 类型不是浮点数，当前类型: %T", name, val)
	}
}

// Value 获取类型化输入（泛型）
// 示例: games, err := task.Value[[]mlb.GameData](in, "game_data")
func Value[T any](in Inputs, name string) (T, error) {
	var zero T
	val := in.Get(name)
	if val == nil {
		return zero, Permanentf("输入 %s 不存在", name)
	}
	v, ok := val.(T)
	if !ok {
		return zero, Permanentf("输入 %s 类型不匹配: 期望 %T，实际 %T", name, zero, val)
	}
	return v, nil
}
