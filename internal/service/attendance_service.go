package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/datekey"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/repository"
	pkgerrors "github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/errors"
)

// ── 点名模块业务错误 ──

var (
	ErrTenantRequired = errors.New("缺少租户信息")
	ErrAlreadyStarted = errors.New("该日期已开始点名")
	ErrEmptyRoster    = pkgerrors.NewValidation("roster", "名册为空，无法开始点名")
	ErrInvalidStatus  = pkgerrors.NewValidation("status", "必须为 present、absent、late、justified 或空")
	ErrInvalidDateKey = pkgerrors.NewValidation("date", "日期格式无效")
	ErrStudentMissing = pkgerrors.NewValidation("student_id", "不能为空")
)

// AttendanceService 点名日索引与点名记录业务接口
type AttendanceService interface {
	// 已开始点名的日期集合（无序）
	ListDays(ctx context.Context, companyID string) ([]datekey.Key, error)
	IsOpen(ctx context.Context, companyID string, key datekey.Key) (bool, error)
	// studentID → status；不在映射中表示没有记录，空状态表示已开始未标记
	ListForDay(ctx context.Context, companyID string, key datekey.Key) (map[string]model.AttendanceStatus, error)
	UpsertStatus(ctx context.Context, companyID string, key datekey.Key, studentID string, status model.AttendanceStatus, callerID string) error
	// 已开始的日期返回 ErrAlreadyStarted；要么全部写入，要么一条都不写
	StartDay(ctx context.Context, companyID string, key datekey.Key, studentIDs []string, defaultStatus model.AttendanceStatus, callerID string) error
	// 删除该日全部记录与备注；未开始的日期直接成功。返回值表示该日此前是否已开始
	CancelDay(ctx context.Context, companyID string, key datekey.Key) (bool, error)
	Roster(ctx context.Context, companyID string) ([]string, error)
}

type attendanceService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewAttendanceService 创建 AttendanceService 实例
func NewAttendanceService(repo *repository.Repository, logger *zap.Logger) AttendanceService {
	return &attendanceService{repo: repo, logger: logger}
}

// ────────────────────── 点名日索引 ──────────────────────

func (s *attendanceService) ListDays(ctx context.Context, companyID string) ([]datekey.Key, error) {
	if companyID == "" {
		return nil, ErrTenantRequired
	}

	raw, err := s.repo.Attendance.ListDayKeys(ctx, companyID)
	if err != nil {
		s.logger.Error("查询点名日期失败", zap.String("company_id", companyID), zap.Error(err))
		return nil, pkgerrors.WrapPersistence("list_days", err)
	}

	keys := make([]datekey.Key, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, datekey.Key(k))
	}
	return keys, nil
}

func (s *attendanceService) IsOpen(ctx context.Context, companyID string, key datekey.Key) (bool, error) {
	if err := checkScope(companyID, key); err != nil {
		return false, err
	}

	open, err := s.repo.Attendance.ExistsForDay(ctx, companyID, key.String())
	if err != nil {
		s.logger.Error("查询点名日状态失败", zap.String("company_id", companyID), zap.String("date_key", key.String()), zap.Error(err))
		return false, pkgerrors.WrapPersistence("is_open", err)
	}
	return open, nil
}

// ────────────────────── 点名记录 ──────────────────────

func (s *attendanceService) ListForDay(ctx context.Context, companyID string, key datekey.Key) (map[string]model.AttendanceStatus, error) {
	if err := checkScope(companyID, key); err != nil {
		return nil, err
	}

	records, err := s.repo.Attendance.ListByDay(ctx, companyID, key.String())
	if err != nil {
		s.logger.Error("查询点名记录失败", zap.String("company_id", companyID), zap.String("date_key", key.String()), zap.Error(err))
		return nil, pkgerrors.WrapPersistence("list_for_day", err)
	}

	result := make(map[string]model.AttendanceStatus, len(records))
	for _, r := range records {
		result[r.StudentID] = r.Status
	}
	return result, nil
}

func (s *attendanceService) UpsertStatus(ctx context.Context, companyID string, key datekey.Key, studentID string, status model.AttendanceStatus, callerID string) error {
	if err := checkScope(companyID, key); err != nil {
		return err
	}
	if studentID == "" {
		return ErrStudentMissing
	}
	if !status.Valid() {
		return ErrInvalidStatus
	}

	record := &model.AttendanceRecord{
		CompanyID: companyID,
		StudentID: studentID,
		DateKey:   key.String(),
		Status:    status,
	}
	record.CreatedBy = optionalID(callerID)
	record.UpdatedBy = optionalID(callerID)

	if err := s.repo.Attendance.Upsert(ctx, record); err != nil {
		s.logger.Error("更新点名状态失败",
			zap.String("company_id", companyID),
			zap.String("date_key", key.String()),
			zap.String("student_id", studentID),
			zap.Error(err),
		)
		return pkgerrors.WrapPersistence("upsert_status", err)
	}
	return nil
}

// ────────────────────── 开始 / 取消 ──────────────────────

func (s *attendanceService) StartDay(ctx context.Context, companyID string, key datekey.Key, studentIDs []string, defaultStatus model.AttendanceStatus, callerID string) error {
	if err := checkScope(companyID, key); err != nil {
		return err
	}
	if !defaultStatus.Valid() {
		return ErrInvalidStatus
	}

	ids := dedupe(studentIDs)
	if len(ids) == 0 {
		return ErrEmptyRoster
	}

	records := make([]model.AttendanceRecord, 0, len(ids))
	for _, id := range ids {
		r := model.AttendanceRecord{
			CompanyID: companyID,
			StudentID: id,
			DateKey:   key.String(),
			Status:    defaultStatus,
		}
		r.CreatedBy = optionalID(callerID)
		r.UpdatedBy = optionalID(callerID)
		records = append(records, r)
	}

	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		open, err := tx.Attendance.ExistsForDay(ctx, companyID, key.String())
		if err != nil {
			return err
		}
		if open {
			return ErrAlreadyStarted
		}
		return tx.Attendance.BatchCreate(ctx, records)
	})

	switch {
	case err == nil:
		s.logger.Info("开始点名",
			zap.String("company_id", companyID),
			zap.String("date_key", key.String()),
			zap.Int("students", len(records)),
		)
		return nil
	case errors.Is(err, ErrAlreadyStarted), errors.Is(err, gorm.ErrDuplicatedKey):
		// 并发开始时后到者会撞上唯一约束
		return ErrAlreadyStarted
	default:
		s.logger.Error("开始点名失败", zap.String("company_id", companyID), zap.String("date_key", key.String()), zap.Error(err))
		return pkgerrors.WrapPersistence("start_day", err)
	}
}

func (s *attendanceService) CancelDay(ctx context.Context, companyID string, key datekey.Key) (bool, error) {
	if err := checkScope(companyID, key); err != nil {
		return false, err
	}

	var removed int64
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		n, err := tx.Attendance.DeleteByDay(ctx, companyID, key.String())
		if err != nil {
			return err
		}
		removed = n
		return tx.Observation.DeleteByDay(ctx, companyID, key.String())
	})
	if err != nil {
		s.logger.Error("取消点名失败", zap.String("company_id", companyID), zap.String("date_key", key.String()), zap.Error(err))
		return false, pkgerrors.WrapPersistence("cancel_day", err)
	}

	if removed > 0 {
		s.logger.Info("取消点名",
			zap.String("company_id", companyID),
			zap.String("date_key", key.String()),
			zap.Int64("records", removed),
		)
	}
	return removed > 0, nil
}

// ────────────────────── 名册 ──────────────────────

func (s *attendanceService) Roster(ctx context.Context, companyID string) ([]string, error) {
	if companyID == "" {
		return nil, ErrTenantRequired
	}
	ids, err := s.repo.Student.ListActiveIDs(ctx, companyID)
	if err != nil {
		s.logger.Error("查询名册失败", zap.String("company_id", companyID), zap.Error(err))
		return nil, pkgerrors.WrapPersistence("roster", err)
	}
	return ids, nil
}

// ── 内部辅助方法 ──

func checkScope(companyID string, key datekey.Key) error {
	if companyID == "" {
		return ErrTenantRequired
	}
	if !key.Valid() {
		return ErrInvalidDateKey
	}
	return nil
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
