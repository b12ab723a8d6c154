package lineage

import (
	"sync/atomic"
)

// Buffer 事件缓冲区（用于慢消费者的背压控制）
// 满时丢弃新事件，不阻塞发布方
type Buffer struct {
	data     chan *Event
	capacity int

	totalIn  int64 // atomic，总入队数
	totalOut int64 // atomic，总出队数
	dropped  int64 // atomic，丢弃数
}

// NewBuffer 创建事件缓冲区
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffer{
		data:     make(chan *Event, capacity),
		capacity: capacity,
	}
}

// Push 推入事件（非阻塞）
// 返回 true 表示成功，false 表示缓冲区已满（事件被丢弃）
func (b *Buffer) Push(e *Event) bool {
	select {
	case b.data <- e:
		atomic.AddInt64(&b.totalIn, 1)
		return true
	default:
		atomic.AddInt64(&b.dropped, 1)
		return false
	}
}

// PopWithDone 在done关闭前弹出事件
// 返回事件、是否成功
func (b *Buffer) PopWithDone(done <-chan struct{}) (*Event, bool) {
	select {
	case e := <-b.data:
		atomic.AddInt64(&b.totalOut, 1)
		return e, true
	case <-done:
		return nil, false
	}
}

// Len 当前缓冲长度
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap 缓冲容量
func (b *Buffer) Cap() int {
	return b.capacity
}

// Stats 统计信息
func (b *Buffer) Stats() (totalIn, totalOut, dropped int64) {
	return atomic.LoadInt64(&b.totalIn),
		atomic.LoadInt64(&b.totalOut),
		atomic.LoadInt64(&b.dropped)
}
