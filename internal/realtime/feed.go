package realtime

import "context"

// Publisher 变更事件的发布端
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// Feed 按租户订阅变更事件
type Feed interface {
	Subscribe(ctx context.Context, companyID string) (Subscription, error)
}

// Subscription 单个租户的订阅。
// 传输中断时 Events 通道被关闭；Close 可重复调用。
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}
