package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// publishTimeout 单次转发的超时
const publishTimeout = 5 * time.Second

// NotificationSource 数据库通知来源；pgnotify.Listener 满足该接口
type NotificationSource interface {
	Run(ctx context.Context, handle func(payload string, reconnected bool)) error
}

// Relay 把数据库行级变更通知转发到 Publisher
type Relay struct {
	source NotificationSource
	pub    Publisher
	logger *zap.Logger
}

// NewRelay 创建 Relay
func NewRelay(source NotificationSource, pub Publisher, logger *zap.Logger) *Relay {
	return &Relay{source: source, pub: pub, logger: logger}
}

// Run 阻塞直至 ctx 取消或通知源返回错误
func (r *Relay) Run(ctx context.Context) error {
	return r.source.Run(ctx, func(payload string, reconnected bool) {
		if reconnected {
			// 断线期间的通知已丢失；订阅方依靠下一次变更或手动刷新恢复
			r.logger.Warn("数据库通知连接已重建，期间的变更可能未转发")
			return
		}
		r.Forward(ctx, payload)
	})
}

// Forward 解析一条负载并发布；错误只记录不中断
func (r *Relay) Forward(ctx context.Context, payload string) {
	ev, err := DecodeEvent([]byte(payload))
	if err != nil {
		r.logger.Warn("跳过无法解析的数据库通知", zap.String("payload", payload), zap.Error(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.pub.Publish(pubCtx, ev); err != nil {
		r.logger.Error("转发变更通知失败",
			zap.String("company_id", ev.CompanyID),
			zap.String("date_key", ev.DateKey),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("已转发变更通知",
		zap.String("table", ev.Table),
		zap.String("op", ev.Op),
		zap.String("company_id", ev.CompanyID),
		zap.String("date_key", ev.DateKey),
	)
}
