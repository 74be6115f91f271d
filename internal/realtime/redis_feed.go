package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	pkgredis "github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/redis"
)

// RedisFeed 基于 Redis Pub/Sub 的 Publisher/Feed，多实例部署时共享变更
type RedisFeed struct {
	client *pkgredis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisFeed 创建 RedisFeed；频道名为 prefix + company_id
func NewRedisFeed(client *pkgredis.Client, prefix string, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{client: client, prefix: prefix, logger: logger}
}

// Channel 租户对应的 Redis 频道名
func (f *RedisFeed) Channel(companyID string) string {
	return f.prefix + companyID
}

// Publish 发布变更事件
func (f *RedisFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.Channel(ev.CompanyID), payload)
}

// Subscribe 订阅某租户频道；格式错误的消息记录后跳过
func (f *RedisFeed) Subscribe(ctx context.Context, companyID string) (Subscription, error) {
	ps, err := f.client.Subscribe(ctx, f.Channel(companyID))
	if err != nil {
		return nil, err
	}

	sub := &redisSubscription{
		ps:   ps,
		ch:   make(chan ChangeEvent, hubBuffer),
		stop: make(chan struct{}),
	}
	go sub.pump(companyID, f.logger)
	return sub, nil
}

type redisSubscription struct {
	ps   *pkgredis.Subscription
	ch   chan ChangeEvent
	stop chan struct{}
	once sync.Once
}

func (s *redisSubscription) Events() <-chan ChangeEvent { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSubscription) pump(companyID string, logger *zap.Logger) {
	defer close(s.ch)

	msgs := s.ps.Messages()
	for {
		select {
		case <-s.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("Redis 订阅通道已关闭", zap.String("company_id", companyID))
				return
			}
			ev, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				logger.Warn("跳过无法解析的变更消息", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if ev.CompanyID != companyID {
				continue
			}
			select {
			case s.ch <- ev:
			case <-s.stop:
				return
			}
		}
	}
}
