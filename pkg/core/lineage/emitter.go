package lineage

import (
	"context"
	"errors"
	"log"
)

// Emitter 事件发射器（对外导出）
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}

// EmitterFunc 函数形式的发射器
type EmitterFunc func(ctx context.Context, event *Event) error

// Emit 调用函数
func (f EmitterFunc) Emit(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// NopEmitter 丢弃所有事件
type NopEmitter struct{}

// Emit 什么都不做
func (NopEmitter) Emit(context.Context, *Event) error { return nil }

// LogEmitter 把事件写入日志
type LogEmitter struct{}

// Emit 记录事件
func (LogEmitter) Emit(_ context.Context, e *Event) error {
	if e.Error != "" {
		log.Printf("📡 [Lineage] %s name=%s flowRun=%s attempt=%d err=%s", e.Type, e.Name, e.FlowRunID, e.Attempt, e.Error)
		return nil
	}
	log.Printf("📡 [Lineage] %s name=%s flowRun=%s attempt=%d upstream=%d downstream=%d",
		e.Type, e.Name, e.FlowRunID, e.Attempt, len(e.Upstream), len(e.Downstream))
	return nil
}

// multi 依次发给多个发射器
type multi []Emitter

// Multi 组合多个发射器，nil会被忽略
func Multi(emitters ...Emitter) Emitter {
	var m multi
	for _, e := range emitters {
		if e != nil {
			m = append(m, e)
		}
	}
	return m
}

// Emit 发给所有发射器，返回合并后的错误
func (m multi) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EmitSafe 发射事件，错误只记录日志，不影响调用方
func EmitSafe(ctx context.Context, emitter Emitter, event *Event) {
	if emitter == nil || event == nil {
		return
	}
	if err := emitter.Emit(ctx, event); err != nil {
		log.Printf("⚠️ [Lineage] 发射事件失败: type=%s, name=%s, err=%v", event.Type, event.Name, err)
	}
}
