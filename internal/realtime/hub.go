package realtime

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrHubClosed Hub 已关闭
var ErrHubClosed = errors.New("实时 Hub 已关闭")

// hubBuffer 每个订阅的缓冲区大小；写满时丢弃新事件并记录告警
const hubBuffer = 256

// Hub 进程内的发布/订阅，同时实现 Publisher 与 Feed。
// Redis 不可用时作为降级通道；测试中直接使用。
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSubscription]struct{}
	closed bool
	logger *zap.Logger
}

// NewHub 创建进程内 Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*hubSubscription]struct{}),
		logger: logger,
	}
}

// Publish 投递给该租户的全部订阅者，不阻塞
func (h *Hub) Publish(_ context.Context, ev ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}

	for sub := range h.subs[ev.CompanyID] {
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("订阅缓冲区已满，丢弃变更事件",
				zap.String("company_id", ev.CompanyID),
				zap.String("date_key", ev.DateKey),
			)
		}
	}
	return nil
}

// Subscribe 订阅某租户的变更
func (h *Hub) Subscribe(_ context.Context, companyID string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &hubSubscription{hub: h, companyID: companyID, ch: make(chan ChangeEvent, hubBuffer)}
	if h.subs[companyID] == nil {
		h.subs[companyID] = make(map[*hubSubscription]struct{})
	}
	h.subs[companyID][sub] = struct{}{}
	return sub, nil
}

// Subscribers 某租户当前的订阅数
func (h *Hub) Subscribers(companyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[companyID])
}

// Close 关闭 Hub 并关闭全部订阅的事件通道
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			sub.closeLocked()
		}
	}
	h.subs = make(map[string]map[*hubSubscription]struct{})
}

type hubSubscription struct {
	hub       *Hub
	companyID string
	ch        chan ChangeEvent
	done      bool // 由 hub.mu 保护
}

func (s *hubSubscription) Events() <-chan ChangeEvent { return s.ch }

func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if set := s.hub.subs[s.companyID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.companyID)
		}
	}
	s.closeLocked()
	return nil
}

func (s *hubSubscription) closeLocked() {
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
}
