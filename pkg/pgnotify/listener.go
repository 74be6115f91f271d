// Package pgnotify 基于 lib/pq 的 LISTEN/NOTIFY 监听器
package pgnotify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// pingInterval 无通知时的保活间隔
const pingInterval = 90 * time.Second

// Listener 监听单个 Postgres 通知频道
type Listener struct {
	dsn          string
	channel      string
	minReconnect time.Duration
	maxReconnect time.Duration
	logger       *zap.Logger
}

// NewListener 创建监听器；Run 之前不建立连接
func NewListener(dsn, channel string, minReconnect, maxReconnect time.Duration, logger *zap.Logger) *Listener {
	return &Listener{
		dsn:          dsn,
		channel:      channel,
		minReconnect: minReconnect,
		maxReconnect: maxReconnect,
		logger:       logger,
	}
}

// Run 阻塞直至 ctx 取消。
// handle 依次收到每条通知的负载；reconnected 为 true 表示连接刚恢复，期间的通知可能已丢失
func (l *Listener) Run(ctx context.Context, handle func(payload string, reconnected bool)) error {
	listener := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, l.eventCallback)

	// Listen 在连接建立前一直阻塞且不感知 ctx；关闭监听器使其返回
	var closeOnce sync.Once
	closeListener := func() { closeOnce.Do(func() { _ = listener.Close() }) }
	stop := context.AfterFunc(ctx, closeListener)
	defer stop()
	defer closeListener()

	if err := listener.Listen(l.channel); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("LISTEN %s 失败: %w", l.channel, err)
	}
	l.logger.Info("开始监听数据库通知", zap.String("channel", l.channel))

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("停止监听数据库通知", zap.String("channel", l.channel))
			return nil
		case n, ok := <-listener.Notify:
			if !ok {
				return nil
			}
			// 重连后 lib/pq 会投递一个 nil
			if n == nil {
				handle("", true)
				continue
			}
			handle(n.Extra, false)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				l.logger.Warn("数据库监听连接 ping 失败", zap.Error(err))
			}
		}
	}
}

func (l *Listener) eventCallback(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Debug("数据库监听已连接")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("数据库监听断开", zap.Error(err))
	case pq.ListenerEventReconnected:
		l.logger.Info("数据库监听已重连")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("数据库监听重连失败", zap.Error(err))
	}
}
