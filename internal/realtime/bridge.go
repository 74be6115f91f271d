package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/datekey"
)

// DefaultDebounce 同一日期变更的默认合并窗口
const DefaultDebounce = 150 * time.Millisecond

// maxWaitFactor 未设置 WithMaxWait 时，最长等待为合并窗口的倍数
const maxWaitFactor = 4

var (
	ErrAlreadySubscribed = errors.New("已存在实时订阅，请先关闭")
	ErrTenantRequired    = errors.New("订阅实时变更需要租户信息")
)

// State 桥接状态
type State int

const (
	Disconnected State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "disconnected"
}

// BridgeOption Bridge 可选配置
type BridgeOption func(*Bridge)

// WithDebounce 设置合并窗口；d <= 0 时忽略
func WithDebounce(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.debounce = d
		}
	}
}

// WithMaxWait 持续变更时，从第一次变更起最多等待 d 就触发回调；
// 未设置或小于合并窗口时使用 4 倍合并窗口
func WithMaxWait(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.maxWait = d
		}
	}
}

// WithBridgeLogger 设置日志
func WithBridgeLogger(l *zap.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// Bridge 单个会话的实时订阅。
// 同一时刻最多一个活跃订阅；本会话自己的写入同样会触发回调。
type Bridge struct {
	feed     Feed
	debounce time.Duration
	maxWait  time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	companyID string
	sub       Subscription
	onChange  func(datekey.Key)
	pending   map[datekey.Key]*pendingChange
	gen       uint64
	done      chan struct{}
}

type pendingChange struct {
	timer *time.Timer
	first time.Time
}

// NewBridge 创建处于 Disconnected 状态的 Bridge
func NewBridge(feed Feed, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		feed:     feed,
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		pending:  make(map[datekey.Key]*pendingChange),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxWait < b.debounce {
		b.maxWait = maxWaitFactor * b.debounce
	}
	return b
}

// State 当前状态
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done 当前订阅结束（主动关闭或传输中断）时关闭；未订阅时返回已关闭的通道
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Subscribed {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return b.done
}

// Subscribe 订阅租户的变更；同一日期在合并窗口内的多次变更只触发一次 onChange
func (b *Bridge) Subscribe(ctx context.Context, companyID string, onChange func(datekey.Key)) error {
	if companyID == "" {
		return ErrTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Subscribed {
		return ErrAlreadySubscribed
	}

	sub, err := b.feed.Subscribe(ctx, companyID)
	if err != nil {
		b.logger.Error("实时订阅失败", zap.String("company_id", companyID), zap.Error(err))
		return err
	}

	b.gen++
	b.state = Subscribed
	b.companyID = companyID
	b.sub = sub
	b.onChange = onChange
	b.done = make(chan struct{})

	go b.consume(sub, companyID, b.gen)

	b.logger.Debug("实时订阅已建立", zap.String("company_id", companyID))
	return nil
}

// Close 主动结束订阅，丢弃尚未触发的回调；未订阅时为空操作
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.state != Subscribed {
		b.mu.Unlock()
		return nil
	}
	sub := b.teardownLocked()
	b.mu.Unlock()

	b.logger.Debug("实时订阅已关闭")
	return sub.Close()
}

func (b *Bridge) consume(sub Subscription, companyID string, gen uint64) {
	for ev := range sub.Events() {
		if ev.CompanyID != companyID {
			continue
		}
		b.schedule(gen, ev.Key())
	}

	// 事件通道关闭：若不是主动关闭，则视为传输中断
	b.mu.Lock()
	if b.gen != gen || b.state != Subscribed {
		b.mu.Unlock()
		return
	}
	b.teardownLocked()
	b.mu.Unlock()

	b.logger.Warn("实时订阅传输中断", zap.String("company_id", companyID))
	_ = sub.Close()
}

func (b *Bridge) schedule(gen uint64, key datekey.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen || b.state != Subscribed {
		return
	}

	now := time.Now()
	first := now
	if p, ok := b.pending[key]; ok {
		p.timer.Stop()
		first = p.first
	}

	// 尾部合并，但不超过 maxWait
	delay := min(b.debounce, max(b.maxWait-now.Sub(first), 0))
	p := &pendingChange{first: first}
	p.timer = time.AfterFunc(delay, func() { b.fire(gen, key, p) })
	b.pending[key] = p
}

func (b *Bridge) fire(gen uint64, key datekey.Key, p *pendingChange) {
	b.mu.Lock()
	if b.gen != gen || b.pending[key] != p {
		b.mu.Unlock()
		return
	}
	delete(b.pending, key)
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(key)
	}
}

// teardownLocked 调用方持有 b.mu
func (b *Bridge) teardownLocked() Subscription {
	for key, p := range b.pending {
		p.timer.Stop()
		delete(b.pending, key)
	}
	sub := b.sub
	b.gen++
	b.state = Disconnected
	b.sub = nil
	b.onChange = nil
	b.companyID = ""
	close(b.done)
	return sub
}
