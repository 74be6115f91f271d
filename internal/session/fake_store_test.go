package session

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/datekey"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/realtime"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/service"
	pkgerrors "github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/errors"
)

// fakeStore 同时实现 AttendanceService 与 ObservationService 的内存存储。
// 配置了 hub 时，每次写入都会像数据库触发器一样发布变更事件。
type fakeStore struct {
	mu           sync.Mutex
	records      map[string]map[string]map[string]model.AttendanceStatus // company → date → student → status
	observations map[string]map[string]string                           // company → date → text
	roster       map[string][]string

	hub *realtime.Hub

	writeErr error // 注入写入失败
	readErr  error // 注入读取失败

	// lagReads > 0 时 ListForDay 返回 frozen 并递减，模拟复制延迟
	lagReads int
	frozen   map[string]model.AttendanceStatus

	listCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:      make(map[string]map[string]map[string]model.AttendanceStatus),
		observations: make(map[string]map[string]string),
		roster:       make(map[string][]string),
	}
}

func (f *fakeStore) notify(table, op, companyID string, key datekey.Key) {
	if f.hub == nil {
		return
	}
	_ = f.hub.Publish(context.Background(), realtime.ChangeEvent{
		Table: table, Op: op, CompanyID: companyID, DateKey: key.String(),
	})
}

func (f *fakeStore) day(companyID string, key datekey.Key) map[string]model.AttendanceStatus {
	if f.records[companyID] == nil {
		f.records[companyID] = make(map[string]map[string]model.AttendanceStatus)
	}
	if f.records[companyID][key.String()] == nil {
		f.records[companyID][key.String()] = make(map[string]model.AttendanceStatus)
	}
	return f.records[companyID][key.String()]
}

// ── AttendanceService ──

func (f *fakeStore) ListDays(_ context.Context, companyID string) ([]datekey.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []datekey.Key
	for k, day := range f.records[companyID] {
		if len(day) > 0 {
			keys = append(keys, datekey.Key(k))
		}
	}
	return keys, nil
}

func (f *fakeStore) IsOpen(_ context.Context, companyID string, key datekey.Key) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[companyID][key.String()]) > 0, nil
}

func (f *fakeStore) ListForDay(_ context.Context, companyID string, key datekey.Key) (map[string]model.AttendanceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.readErr != nil {
		return nil, pkgerrors.WrapPersistence("list_for_day", f.readErr)
	}
	src := f.records[companyID][key.String()]
	if f.lagReads > 0 {
		f.lagReads--
		src = f.frozen
	}
	out := make(map[string]model.AttendanceStatus, len(src))
	for id, s := range src {
		out[id] = s
	}
	return out, nil
}

func (f *fakeStore) UpsertStatus(_ context.Context, companyID string, key datekey.Key, studentID string, status model.AttendanceStatus, _ string) error {
	if !status.Valid() {
		return service.ErrInvalidStatus
	}
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return pkgerrors.WrapPersistence("upsert_status", f.writeErr)
	}
	f.day(companyID, key)[studentID] = status
	f.mu.Unlock()

	f.notify(realtime.TableAttendanceRecords, "UPDATE", companyID, key)
	return nil
}

func (f *fakeStore) StartDay(_ context.Context, companyID string, key datekey.Key, studentIDs []string, defaultStatus model.AttendanceStatus, _ string) error {
	if len(studentIDs) == 0 {
		return service.ErrEmptyRoster
	}
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return pkgerrors.WrapPersistence("start_day", f.writeErr)
	}
	day := f.day(companyID, key)
	if len(day) > 0 {
		f.mu.Unlock()
		return service.ErrAlreadyStarted
	}
	for _, id := range studentIDs {
		day[id] = defaultStatus
	}
	f.mu.Unlock()

	f.notify(realtime.TableAttendanceRecords, "INSERT", companyID, key)
	return nil
}

func (f *fakeStore) CancelDay(_ context.Context, companyID string, key datekey.Key) (bool, error) {
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return false, pkgerrors.WrapPersistence("cancel_day", f.writeErr)
	}
	wasOpen := len(f.records[companyID][key.String()]) > 0
	delete(f.records[companyID], key.String())
	delete(f.observations[companyID], key.String())
	f.mu.Unlock()

	if wasOpen {
		f.notify(realtime.TableAttendanceRecords, "DELETE", companyID, key)
	}
	return wasOpen, nil
}

func (f *fakeStore) Roster(_ context.Context, companyID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.roster[companyID]...), nil
}

// ── ObservationService ──

func (f *fakeStore) Get(_ context.Context, companyID string, key datekey.Key) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, pkgerrors.WrapPersistence("get_observation", f.readErr)
	}
	text, ok := f.observations[companyID][key.String()]
	if !ok {
		return nil, nil
	}
	return &text, nil
}

func (f *fakeStore) Upsert(_ context.Context, companyID string, key datekey.Key, text, _ string) error {
	if utf8.RuneCountInString(text) > model.ObservationMaxLen {
		return service.ErrObservationTooLong
	}
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return pkgerrors.WrapPersistence("upsert_observation", f.writeErr)
	}
	if f.observations[companyID] == nil {
		f.observations[companyID] = make(map[string]string)
	}
	f.observations[companyID][key.String()] = text
	f.mu.Unlock()

	f.notify(realtime.TableAttendanceObservations, "UPDATE", companyID, key)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, companyID string, key datekey.Key) error {
	f.mu.Lock()
	delete(f.observations[companyID], key.String())
	f.mu.Unlock()
	f.notify(realtime.TableAttendanceObservations, "DELETE", companyID, key)
	return nil
}

var (
	_ service.AttendanceService  = (*fakeStore)(nil)
	_ service.ObservationService = (*fakeStore)(nil)
)
