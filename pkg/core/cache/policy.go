package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Policy 缓存策略（对外导出）
// 显式列出参与缓存键计算的组成部分，全部关闭即表示不缓存
type Policy struct {
	TaskSource     bool     // 任务源码指纹
	Inputs         bool     // 任务输入
	FlowParameters bool     // Flow级参数
	ExcludeInputs  []string // 不参与计算的输入名

	TTL        time.Duration // <=0 永不过期
	KeyStorage string        // 非空时结果写入该名称的持久化存储
	Refresh    bool          // 忽略已有条目，强制重新计算并覆盖
}

// NoCache 不缓存
func NoCache() Policy {
	return Policy{}
}

// ByInputs 仅按输入缓存
func ByInputs() Policy {
	return Policy{Inputs: true}
}

// ByInputsAndFlowParameters 按输入和Flow参数缓存
func ByInputsAndFlowParameters() Policy {
	return Policy{Inputs: true, FlowParameters: true}
}

// BySourceAndInputs 按源码指纹和输入缓存，源码变化即失效
func BySourceAndInputs() Policy {
	return Policy{TaskSource: true, Inputs: true}
}

// Enabled 是否启用缓存
func (p Policy) Enabled() bool {
	return p.TaskSource || p.Inputs || p.FlowParameters
}

// WithTTL 返回设置了TTL的副本
func (p Policy) WithTTL(ttl time.Duration) Policy {
	p.TTL = ttl
	return p
}

// Without 返回排除指定输入的副本
func (p Policy) Without(names ...string) Policy {
	p.ExcludeInputs = append(append([]string(nil), p.ExcludeInputs...), names...)
	return p
}

// WithKeyStorage 返回使用指定持久化存储的副本
func (p Policy) WithKeyStorage(name string) Policy {
	p.KeyStorage = name
	return p
}

// Refreshing 返回强制刷新的副本
func (p Policy) Refreshing() Policy {
	p.Refresh = true
	return p
}

// String 策略描述，用于日志
func (p Policy) String() string {
	if !p.Enabled() {
		return "NONE"
	}
	s := ""
	add := func(part string) {
		if s != "" {
			s += "+"
		}
		s += part
	}
	if p.TaskSource {
		add("TASK_SOURCE")
	}
	if p.Inputs {
		add("INPUTS")
	}
	if p.FlowParameters {
		add("FLOW_PARAMETERS")
	}
	for _, name := range p.ExcludeInputs {
		s += "-" + name
	}
	return s
}

// KeySource 缓存键计算的原始材料
type KeySource struct {
	TaskID            string
	SourceFingerprint string
	Inputs            map[string]any
	FlowParameters    map[string]any
}

// ComputeKey 根据策略计算缓存键（对外导出）
// 对规范化JSON做sha256：map键按字典序编码，输入与提交顺序无关
// 策略未启用时返回空串；任务ID总是参与计算，不同任务不会共享条目
func ComputeKey(p Policy, src KeySource) (string, error) {
	if !p.Enabled() {
		return "", nil
	}

	doc := map[string]any{"task": src.TaskID}
	if p.TaskSource {
		doc["source"] = src.SourceFingerprint
	}
	if p.Inputs {
		excluded := make(map[string]bool, len(p.ExcludeInputs))
		for _, name := range p.ExcludeInputs {
			excluded[name] = true
		}
		inputs := make(map[string]any, len(src.Inputs))
		for name, v := range src.Inputs {
			if !excluded[name] {
				inputs[name] = v
			}
		}
		doc["inputs"] = inputs
	}
	if p.FlowParameters {
		params := src.FlowParameters
		if params == nil {
			params = map[string]any{}
		}
		doc["flow_parameters"] = params
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("缓存键序列化失败: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
