// Package session 单个操作会话的点名编排：
// 选择日期、开始/取消、修改状态与备注，并在本地或远端变更后重新拉取并推送最新视图。
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/datekey"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/realtime"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/service"
	applogger "github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/logger"
)

var (
	ErrDayNotOpen     = errors.New("该日期尚未开始点名")
	ErrNoDateSelected = errors.New("尚未选择日期")
)

// remoteRefreshTimeout 实时通知触发的重新拉取超时
const remoteRefreshTimeout = 10 * time.Second

// DayState 某日的点名状态
type DayState int

const (
	NoDay DayState = iota
	Open
)

func (s DayState) String() string {
	if s == Open {
		return "open"
	}
	return "no_day"
}

// Projection 某日的只读视图。Records 与 Observation 不可修改
type Projection struct {
	DateKey     datekey.Key
	Open        bool
	Records     map[string]model.AttendanceStatus
	Observation *string
	// SyncLag 写入后两次拉取仍与写入不一致；等待下一次实时通知修正
	SyncLag bool
}

// State 该日的点名状态
func (p Projection) State() DayState {
	if p.Open {
		return Open
	}
	return NoDay
}

// Option Controller 可选配置
type Option func(*Controller)

// WithDefaultStatus 开始点名时的默认状态
func WithDefaultStatus(s model.AttendanceStatus) Option {
	return func(c *Controller) { c.defaultStatus = s }
}

// WithCaller 写入审计字段 created_by / updated_by 的操作者
func WithCaller(userID string) Option {
	return func(c *Controller) { c.callerID = userID }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller 单个会话的点名控制器。
// 修改类操作互斥执行；同一日期的并发拉取合并为一次。
type Controller struct {
	attendance    service.AttendanceService
	observation   service.ObservationService
	companyID     string
	callerID      string
	defaultStatus model.AttendanceStatus
	logger        *zap.Logger

	opMu  sync.Mutex
	group singleflight.Group
	seq   atomic.Uint64

	viewMu     sync.RWMutex
	selected   datekey.Key
	current    *Projection
	appliedSeq uint64
	listeners  map[int]func(Projection)
	nextID     int

	bridge *realtime.Bridge
}

// NewController 创建绑定到租户的控制器
func NewController(attendance service.AttendanceService, observation service.ObservationService, companyID string, opts ...Option) (*Controller, error) {
	if companyID == "" {
		return nil, service.ErrTenantRequired
	}
	c := &Controller{
		attendance:  attendance,
		observation: observation,
		companyID:   companyID,
		logger:      zap.NewNop(),
		listeners:   make(map[int]func(Projection)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = applogger.ForTenant(c.logger, companyID, "")
	return c, nil
}

// ── 视图 ──

// Snapshot 当前视图；尚未选择日期时 ok 为 false
func (c *Controller) Snapshot() (Projection, bool) {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	if c.current == nil {
		return Projection{}, false
	}
	return *c.current, true
}

// Selected 当前选择的日期
func (c *Controller) Selected() datekey.Key {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return c.selected
}

// OnUpdate 注册视图更新回调，返回取消函数
func (c *Controller) OnUpdate(fn func(Projection)) (cancel func()) {
	c.viewMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.viewMu.Unlock()

	return func() {
		c.viewMu.Lock()
		delete(c.listeners, id)
		c.viewMu.Unlock()
	}
}

// ── 操作 ──

// SelectDate 切换到 key 并拉取视图；失败时保留原来的选择与视图
func (c *Controller) SelectDate(ctx context.Context, key datekey.Key) (Projection, error) {
	if !key.Valid() {
		return Projection{}, service.ErrInvalidDateKey
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	l, err := c.fetch(ctx, key, true)
	if err != nil {
		return Projection{}, err
	}
	c.apply(l, true)
	return l.p, nil
}

// Refresh 重新拉取 key；key 不是当前选择的日期时为空操作
func (c *Controller) Refresh(ctx context.Context, key datekey.Key) error {
	if c.Selected() != key || key == "" {
		return nil
	}
	l, err := c.fetch(ctx, key, false)
	if err != nil {
		return err
	}
	c.apply(l, false)
	return nil
}

// ChangeStatus 修改某人当日状态；仅在已开始点名时允许
func (c *Controller) ChangeStatus(ctx context.Context, studentID string, status model.AttendanceStatus) (Projection, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	key, err := c.requireOpen()
	if err != nil {
		return Projection{}, err
	}
	if err := c.attendance.UpsertStatus(ctx, c.companyID, key, studentID, status, c.callerID); err != nil {
		return Projection{}, err
	}
	return c.reconcile(ctx, key, func(p Projection) bool {
		got, ok := p.Records[studentID]
		return ok && got == status
	})
}

// ChangeObservation 修改当日备注；仅在已开始点名时允许
func (c *Controller) ChangeObservation(ctx context.Context, text string) (Projection, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	key, err := c.requireOpen()
	if err != nil {
		return Projection{}, err
	}
	if err := c.observation.Upsert(ctx, c.companyID, key, text, c.callerID); err != nil {
		return Projection{}, err
	}
	return c.reconcile(ctx, key, func(p Projection) bool {
		return p.Observation != nil && *p.Observation == text
	})
}

// Start 以默认状态为当前名册开始点名
func (c *Controller) Start(ctx context.Context) (Projection, error) {
	return c.StartWith(ctx, c.defaultStatus)
}

// StartWith 以指定默认状态开始点名；已开始时返回 service.ErrAlreadyStarted
func (c *Controller) StartWith(ctx context.Context, defaultStatus model.AttendanceStatus) (Projection, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	key, err := c.requireSelected()
	if err != nil {
		return Projection{}, err
	}
	if p, ok := c.Snapshot(); ok && p.Open {
		return Projection{}, service.ErrAlreadyStarted
	}

	roster, err := c.attendance.Roster(ctx, c.companyID)
	if err != nil {
		return Projection{}, err
	}

	err = c.attendance.StartDay(ctx, c.companyID, key, roster, defaultStatus, c.callerID)
	if errors.Is(err, service.ErrAlreadyStarted) {
		// 其他会话抢先开始；拉取最新视图后仍返回该错误
		if l, ferr := c.fetch(ctx, key, true); ferr == nil {
			c.apply(l, false)
		}
		return Projection{}, err
	}
	if err != nil {
		return Projection{}, err
	}

	c.logger.Info("开始点名", zap.String("date_key", key.String()), zap.Int("students", len(roster)))
	return c.reconcile(ctx, key, func(p Projection) bool {
		if !p.Open {
			return false
		}
		for _, id := range roster {
			if _, ok := p.Records[id]; !ok && id != "" {
				return false
			}
		}
		return true
	})
}

// Cancel 删除当日全部记录与备注；未开始时为空操作
func (c *Controller) Cancel(ctx context.Context) (Projection, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	key, err := c.requireSelected()
	if err != nil {
		return Projection{}, err
	}
	wasOpen, err := c.attendance.CancelDay(ctx, c.companyID, key)
	if err != nil {
		return Projection{}, err
	}
	if wasOpen {
		c.logger.Info("取消点名", zap.String("date_key", key.String()))
	}
	return c.reconcile(ctx, key, func(p Projection) bool {
		return !p.Open && p.Observation == nil
	})
}

// ── 实时 ──

// Bind 订阅本租户的实时变更，当前日期的变更触发重新拉取
func (c *Controller) Bind(ctx context.Context, bridge *realtime.Bridge) error {
	if err := bridge.Subscribe(ctx, c.companyID, c.handleRemoteChange); err != nil {
		return err
	}
	c.viewMu.Lock()
	c.bridge = bridge
	c.viewMu.Unlock()
	return nil
}

// Close 结束会话：关闭实时订阅并移除全部回调
func (c *Controller) Close() error {
	c.viewMu.Lock()
	bridge := c.bridge
	c.bridge = nil
	c.listeners = make(map[int]func(Projection))
	c.viewMu.Unlock()

	if bridge != nil {
		return bridge.Close()
	}
	return nil
}

func (c *Controller) handleRemoteChange(key datekey.Key) {
	if c.Selected() != key {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), remoteRefreshTimeout)
	defer cancel()
	if err := c.Refresh(ctx, key); err != nil {
		c.logger.Warn("实时变更后重新拉取失败", zap.String("date_key", key.String()), zap.Error(err))
	}
}

// ── 内部辅助方法 ──

type loaded struct {
	p   Projection
	seq uint64
}

func (c *Controller) requireSelected() (datekey.Key, error) {
	key := c.Selected()
	if key == "" {
		return "", ErrNoDateSelected
	}
	return key, nil
}

func (c *Controller) requireOpen() (datekey.Key, error) {
	key, err := c.requireSelected()
	if err != nil {
		return "", err
	}
	if p, ok := c.Snapshot(); !ok || !p.Open {
		return "", ErrDayNotOpen
	}
	return key, nil
}

// fetch 拉取某日视图；fresh 为 true 时不复用写入之前已发起的拉取
func (c *Controller) fetch(ctx context.Context, key datekey.Key, fresh bool) (loaded, error) {
	if fresh {
		c.group.Forget(key.String())
	}
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		seq := c.seq.Add(1)
		records, err := c.attendance.ListForDay(ctx, c.companyID, key)
		if err != nil {
			return nil, err
		}
		obs, err := c.observation.Get(ctx, c.companyID, key)
		if err != nil {
			return nil, err
		}
		return loaded{
			p: Projection{
				DateKey:     key,
				Open:        len(records) > 0,
				Records:     records,
				Observation: obs,
			},
			seq: seq,
		}, nil
	})
	if err != nil {
		c.logger.Error("拉取点名视图失败", zap.String("date_key", key.String()), zap.Error(err))
		return loaded{}, err
	}
	return v.(loaded), nil
}

// reconcile 写入后重新拉取；与写入不一致时再拉取一次，仍不一致则标记 SyncLag
func (c *Controller) reconcile(ctx context.Context, key datekey.Key, consistent func(Projection) bool) (Projection, error) {
	l, err := c.fetch(ctx, key, true)
	if err != nil {
		return Projection{}, err
	}
	if !consistent(l.p) {
		l, err = c.fetch(ctx, key, true)
		if err != nil {
			return Projection{}, err
		}
		if !consistent(l.p) {
			l.p.SyncLag = true
			c.logger.Warn("写入后拉取的视图与写入不一致，等待实时通知", zap.String("date_key", key.String()))
		}
	}
	c.apply(l, false)
	return l.p, nil
}

// apply 发布视图；较旧的拉取结果或非当前日期的结果被丢弃
func (c *Controller) apply(l loaded, selecting bool) {
	c.viewMu.Lock()
	switch {
	case selecting:
		c.selected = l.p.DateKey
	case l.p.DateKey != c.selected, l.seq < c.appliedSeq:
		c.viewMu.Unlock()
		return
	}
	c.appliedSeq = l.seq
	p := l.p
	c.current = &p

	listeners := make([]func(Projection), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.viewMu.Unlock()

	for _, fn := range listeners {
		fn(p)
	}
}
