package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// DefaultTopic 默认血缘事件主题
const DefaultTopic = "statflow.lineage"

// BusEmitter 基于watermill内存pub/sub的事件总线（对外导出）
// 没有订阅者时事件直接丢弃
type BusEmitter struct {
	pubsub *gochannel.GoChannel
	topic  string
	logger watermill.LoggerAdapter
}

// NewBusEmitter 创建事件总线，logger为nil时使用标准日志
func NewBusEmitter(topic string, buffer int64, logger watermill.LoggerAdapter) *BusEmitter {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            buffer,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
	return &BusEmitter{pubsub: pubsub, topic: topic, logger: logger}
}

// Topic 返回主题
func (b *BusEmitter) Topic() string {
	return b.topic
}

// Emit 发布事件
func (b *BusEmitter) Emit(_ context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("flow_run_id", event.FlowRunID)
	msg.Metadata.Set("timestamp", event.Timestamp.Format(time.RFC3339Nano))

	if err := b.pubsub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅事件，ctx取消后输出通道关闭
func (b *BusEmitter) Subscribe(ctx context.Context) (<-chan *Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, fmt.Errorf("订阅事件失败: %w", err)
	}

	out := make(chan *Event)
	go func() {
		defer close(out)
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				log.Printf("⚠️ [Lineage] 解析事件失败: uuid=%s, err=%v", msg.UUID, err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close 关闭总线
func (b *BusEmitter) Close() error {
	return b.pubsub.Close()
}
