package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/datekey"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/realtime"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/service"
	pkgerrors "github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/errors"
)

const (
	tenantT = "T"
	day     = datekey.Key("2024-03-10")
)

func setupTestController(t *testing.T, opts ...Option) (*Controller, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	store.roster[tenantT] = []string{"A", "B"}
	c, err := NewController(store, store, tenantT, opts...)
	if err != nil {
		t.Fatalf("NewController 应成功: %v", err)
	}
	return c, store
}

func assertRecords(t *testing.T, p Projection, want map[string]model.AttendanceStatus) {
	t.Helper()
	if len(p.Records) != len(want) {
		t.Fatalf("期望记录=%v，实际=%v", want, p.Records)
	}
	for id, s := range want {
		if got, ok := p.Records[id]; !ok || got != s {
			t.Errorf("期望 %s=%q，实际=%q (存在=%v)", id, s, got, ok)
		}
	}
}

// ── 完整流程 ──

func TestController_LifecycleScenario(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()

	p, err := c.SelectDate(ctx, day)
	if err != nil {
		t.Fatalf("SelectDate 应成功: %v", err)
	}
	if p.State() != NoDay {
		t.Fatalf("初始应为 NoDay，实际=%s", p.State())
	}

	p, err = c.Start(ctx)
	if err != nil {
		t.Fatalf("Start 应成功: %v", err)
	}
	assertRecords(t, p, map[string]model.AttendanceStatus{"A": "", "B": ""})
	if p.State() != Open {
		t.Errorf("开始后应为 Open，实际=%s", p.State())
	}

	p, err = c.ChangeStatus(ctx, "A", model.StatusPresent)
	if err != nil {
		t.Fatalf("ChangeStatus 应成功: %v", err)
	}
	assertRecords(t, p, map[string]model.AttendanceStatus{"A": "present", "B": ""})

	p, err = c.ChangeObservation(ctx, "turma cheia")
	if err != nil {
		t.Fatalf("ChangeObservation 应成功: %v", err)
	}
	if p.Observation == nil || *p.Observation != "turma cheia" {
		t.Errorf("期望备注 turma cheia，实际=%v", p.Observation)
	}

	p, err = c.Cancel(ctx)
	if err != nil {
		t.Fatalf("Cancel 应成功: %v", err)
	}
	assertRecords(t, p, map[string]model.AttendanceStatus{})
	if p.Observation != nil {
		t.Errorf("取消后备注应不存在，实际=%q", *p.Observation)
	}
	if open, _ := store.IsOpen(ctx, tenantT, day); open {
		t.Error("取消后 IsOpen 应为 false")
	}
	if p.SyncLag {
		t.Error("无复制延迟时不应标记 SyncLag")
	}
}

func TestController_DefaultStatusOption(t *testing.T) {
	c, _ := setupTestController(t, WithDefaultStatus(model.StatusPresent))
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)

	p, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start 应成功: %v", err)
	}
	assertRecords(t, p, map[string]model.AttendanceStatus{"A": "present", "B": "present"})
}

// ── 状态机前置条件 ──

func TestController_RequiresTenant(t *testing.T) {
	store := newFakeStore()
	if _, err := NewController(store, store, ""); !errors.Is(err, service.ErrTenantRequired) {
		t.Errorf("期望 ErrTenantRequired，实际: %v", err)
	}
}

func TestController_NoDateSelected(t *testing.T) {
	c, _ := setupTestController(t)
	ctx := context.Background()

	if _, err := c.Start(ctx); !errors.Is(err, ErrNoDateSelected) {
		t.Errorf("Start 期望 ErrNoDateSelected，实际: %v", err)
	}
	if _, err := c.Cancel(ctx); !errors.Is(err, ErrNoDateSelected) {
		t.Errorf("Cancel 期望 ErrNoDateSelected，实际: %v", err)
	}
	if _, err := c.ChangeStatus(ctx, "A", model.StatusLate); !errors.Is(err, ErrNoDateSelected) {
		t.Errorf("ChangeStatus 期望 ErrNoDateSelected，实际: %v", err)
	}
}

func TestController_StartWhenOpen(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)
	_, _ = c.Start(ctx)
	_, _ = c.ChangeStatus(ctx, "A", model.StatusLate)

	if _, err := c.Start(ctx); !errors.Is(err, service.ErrAlreadyStarted) {
		t.Fatalf("期望 ErrAlreadyStarted，实际: %v", err)
	}
	records, _ := store.ListForDay(ctx, tenantT, day)
	if records["A"] != model.StatusLate {
		t.Error("重复开始不应改变已有记录")
	}
}

func TestController_StartRacedByOtherSession(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)

	// 其他会话在本会话看到之前已开始
	_ = store.StartDay(ctx, tenantT, day, []string{"A", "B"}, model.StatusAbsent, "")

	if _, err := c.Start(ctx); !errors.Is(err, service.ErrAlreadyStarted) {
		t.Fatalf("期望 ErrAlreadyStarted，实际: %v", err)
	}
	p, _ := c.Snapshot()
	if !p.Open || p.Records["A"] != model.StatusAbsent {
		t.Errorf("冲突后视图应刷新为存储中的状态，实际=%+v", p)
	}
}

func TestController_ChangesRequireOpenDay(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)

	if _, err := c.ChangeStatus(ctx, "A", model.StatusPresent); !errors.Is(err, ErrDayNotOpen) {
		t.Errorf("ChangeStatus 期望 ErrDayNotOpen，实际: %v", err)
	}
	if _, err := c.ChangeObservation(ctx, "x"); !errors.Is(err, ErrDayNotOpen) {
		t.Errorf("ChangeObservation 期望 ErrDayNotOpen，实际: %v", err)
	}
	if open, _ := store.IsOpen(ctx, tenantT, day); open {
		t.Error("未开始的日期不应因修改操作而被隐式开始")
	}
}

func TestController_CancelOnNoDayIsNoop(t *testing.T) {
	c, _ := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)

	for i := 0; i < 2; i++ {
		p, err := c.Cancel(ctx)
		if err != nil {
			t.Fatalf("第 %d 次 Cancel 应为无操作成功: %v", i+1, err)
		}
		if p.Open {
			t.Error("NoDay 上取消后仍应为 NoDay")
		}
	}
}

// ── 失败时保留原视图 ──

func TestController_FailureKeepsPreviousProjection(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)
	_, _ = c.Start(ctx)
	before, _ := c.Snapshot()

	var updates int
	c.OnUpdate(func(Projection) { updates++ })

	store.writeErr = errors.New("connection refused")
	_, err := c.ChangeStatus(ctx, "A", model.StatusPresent)
	if !pkgerrors.IsPersistence(err) {
		t.Fatalf("期望 PersistenceError，实际: %v", err)
	}

	after, _ := c.Snapshot()
	if after.Records["A"] != before.Records["A"] {
		t.Error("失败后不应保留乐观更新")
	}
	if updates != 0 {
		t.Errorf("失败时不应推送视图，实际推送 %d 次", updates)
	}
}

func TestController_ObservationTooLong(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)
	_, _ = c.Start(ctx)

	_, err := c.ChangeObservation(ctx, strings.Repeat("x", 101))
	if !pkgerrors.IsValidation(err) {
		t.Fatalf("期望 ValidationError，实际: %v", err)
	}
	if text, _ := store.Get(ctx, tenantT, day); text != nil {
		t.Error("超长备注不应被保存")
	}
}

func TestController_SelectDateFailureKeepsSelection(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)

	store.readErr = errors.New("timeout")
	if _, err := c.SelectDate(ctx, "2024-03-11"); err == nil {
		t.Fatal("读取失败时 SelectDate 应返回错误")
	}
	if c.Selected() != day {
		t.Errorf("失败后应保留原选择 %s，实际=%s", day, c.Selected())
	}
	if _, err := c.SelectDate(ctx, "2024-3-11"); !errors.Is(err, service.ErrInvalidDateKey) {
		t.Errorf("非法日期期望 ErrInvalidDateKey，实际: %v", err)
	}
}

// ── SyncLag ──

func TestController_SyncLagRetriesOnce(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)
	_, _ = c.Start(ctx)

	store.frozen = map[string]model.AttendanceStatus{"A": "", "B": ""}
	store.lagReads = 1
	p, err := c.ChangeStatus(ctx, "A", model.StatusAbsent)
	if err != nil {
		t.Fatalf("ChangeStatus 应成功: %v", err)
	}
	if p.SyncLag || p.Records["A"] != model.StatusAbsent {
		t.Errorf("第二次拉取应得到一致视图，实际=%+v", p)
	}
}

func TestController_SyncLagFlaggedAfterSecondMismatch(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c, store := setupTestController(t, WithLogger(zap.New(core)))
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)
	_, _ = c.Start(ctx)

	store.frozen = map[string]model.AttendanceStatus{"A": "", "B": ""}
	store.lagReads = 2
	calls := store.listCalls

	p, err := c.ChangeStatus(ctx, "A", model.StatusAbsent)
	if err != nil {
		t.Fatalf("SyncLag 不是错误: %v", err)
	}
	if !p.SyncLag {
		t.Error("两次拉取都不一致时应标记 SyncLag")
	}
	if n := store.listCalls - calls; n != 2 {
		t.Errorf("应恰好重新拉取 2 次，实际=%d", n)
	}
	if logs.FilterMessage("写入后拉取的视图与写入不一致，等待实时通知").Len() != 1 {
		t.Error("SyncLag 应记录告警")
	}
}

// ── 实时同步 ──

func TestController_TwoSessionsPropagate(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	store := newFakeStore()
	store.hub = hub
	store.roster[tenantT] = []string{"A", "B"}
	ctx := context.Background()

	s1, _ := NewController(store, store, tenantT)
	s2, _ := NewController(store, store, tenantT)
	b1 := realtime.NewBridge(hub, realtime.WithDebounce(10*time.Millisecond))
	b2 := realtime.NewBridge(hub, realtime.WithDebounce(10*time.Millisecond))
	if err := s1.Bind(ctx, b1); err != nil {
		t.Fatalf("s1 Bind 应成功: %v", err)
	}
	if err := s2.Bind(ctx, b2); err != nil {
		t.Fatalf("s2 Bind 应成功: %v", err)
	}
	defer s1.Close()
	defer s2.Close()

	_, _ = s1.SelectDate(ctx, day)
	_, _ = s2.SelectDate(ctx, day)

	updates := make(chan Projection, 16)
	s2.OnUpdate(func(p Projection) { updates <- p })

	if _, err := s1.Start(ctx); err != nil {
		t.Fatalf("s1 Start 应成功: %v", err)
	}
	if _, err := s1.ChangeStatus(ctx, "A", model.StatusLate); err != nil {
		t.Fatalf("s1 ChangeStatus 应成功: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-updates:
			if p.Records["A"] == model.StatusLate {
				snap, _ := s2.Snapshot()
				if snap.Records["A"] != model.StatusLate {
					t.Errorf("s2 快照应为 A=late，实际=%v", snap.Records)
				}
				return
			}
		case <-deadline:
			snap, _ := s2.Snapshot()
			t.Fatalf("s2 未收到 A=late，当前视图=%v", snap.Records)
		}
	}
}

func TestController_RemoteChangeForOtherDateIgnored(t *testing.T) {
	c, store := setupTestController(t)
	ctx := context.Background()
	_, _ = c.SelectDate(ctx, day)
	calls := store.listCalls

	c.handleRemoteChange("2024-03-11")
	if store.listCalls != calls {
		t.Error("非当前日期的变更不应触发拉取")
	}

	c.handleRemoteChange(day)
	if store.listCalls != calls+1 {
		t.Error("当前日期的变更应触发一次拉取")
	}
}

func TestController_CloseReleasesSubscription(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	c, _ := setupTestController(t)
	b := realtime.NewBridge(hub)

	if err := c.Bind(context.Background(), b); err != nil {
		t.Fatalf("Bind 应成功: %v", err)
	}
	if err := c.Bind(context.Background(), b); !errors.Is(err, realtime.ErrAlreadySubscribed) {
		t.Errorf("重复 Bind 期望 ErrAlreadySubscribed，实际: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close 应成功: %v", err)
	}
	if hub.Subscribers(tenantT) != 0 {
		t.Error("Close 后应释放订阅")
	}
	if b.State() != realtime.Disconnected {
		t.Error("Close 后 Bridge 应为 Disconnected")
	}
}
