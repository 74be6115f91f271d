// Package realtime 点名数据变更的实时推送：
// 数据库通知经 Relay 转发到 Publisher，Bridge 从 Feed 订阅本租户的变更并按日期合并回调。
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/datekey"
)

// 被监听的表
const (
	TableAttendanceRecords      = "attendance_records"
	TableAttendanceObservations = "attendance_observations"
)

// ErrMalformedEvent 通知负载无法解析或字段缺失
var ErrMalformedEvent = errors.New("变更通知格式错误")

// ChangeEvent 一次行级变更；与数据库触发器 notify_attendance_change 的负载一致
type ChangeEvent struct {
	Table     string `json:"table"`
	Op        string `json:"op"` // INSERT | UPDATE | DELETE
	CompanyID string `json:"company_id"`
	DateKey   string `json:"date_key"`
}

// Key 变更所属日期
func (e ChangeEvent) Key() datekey.Key { return datekey.Key(e.DateKey) }

// Validate 检查事件是否可投递
func (e ChangeEvent) Validate() error {
	switch e.Table {
	case TableAttendanceRecords, TableAttendanceObservations:
	default:
		return fmt.Errorf("%w: 未知表 %q", ErrMalformedEvent, e.Table)
	}
	switch e.Op {
	case "INSERT", "UPDATE", "DELETE":
	default:
		return fmt.Errorf("%w: 未知操作 %q", ErrMalformedEvent, e.Op)
	}
	if e.CompanyID == "" {
		return fmt.Errorf("%w: 缺少 company_id", ErrMalformedEvent)
	}
	if !e.Key().Valid() {
		return fmt.Errorf("%w: 非法 date_key %q", ErrMalformedEvent, e.DateKey)
	}
	return nil
}

// DecodeEvent 解析并校验 JSON 负载
func DecodeEvent(payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := ev.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return ev, nil
}

// Encode 序列化为 JSON 负载
func (e ChangeEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
