package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
)

// AttendanceRecordRepository 点名记录数据访问接口
type AttendanceRecordRepository interface {
	// 某租户所有存在记录的日期（无序）
	ListDayKeys(ctx context.Context, companyID string) ([]string, error)
	ExistsForDay(ctx context.Context, companyID, dateKey string) (bool, error)
	ListByDay(ctx context.Context, companyID, dateKey string) ([]model.AttendanceRecord, error)
	// 按 (company_id, student_id, date_key) 插入或覆盖状态
	Upsert(ctx context.Context, record *model.AttendanceRecord) error
	// 普通批量插入；唯一键冲突返回 gorm.ErrDuplicatedKey
	BatchCreate(ctx context.Context, records []model.AttendanceRecord) error
	DeleteByDay(ctx context.Context, companyID, dateKey string) (int64, error)
}

type attendanceRecordRepo struct {
	db *gorm.DB
}

// NewAttendanceRecordRepo 创建 AttendanceRecordRepository 实例
func NewAttendanceRecordRepo(db *gorm.DB) AttendanceRecordRepository {
	return &attendanceRecordRepo{db: db}
}

func (r *attendanceRecordRepo) ListDayKeys(ctx context.Context, companyID string) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).
		Model(&model.AttendanceRecord{}).
		Where("company_id = ?", companyID).
		Distinct("date_key").
		Pluck("date_key", &keys).Error
	return keys, err
}

func (r *attendanceRecordRepo) ExistsForDay(ctx context.Context, companyID, dateKey string) (bool, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.AttendanceRecord{}).
		Where("company_id = ? AND date_key = ?", companyID, dateKey).
		Limit(1).
		Pluck("record_id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *attendanceRecordRepo) ListByDay(ctx context.Context, companyID, dateKey string) ([]model.AttendanceRecord, error) {
	var records []model.AttendanceRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND date_key = ?", companyID, dateKey).
		Order("student_id ASC").
		Find(&records).Error
	return records, err
}

func (r *attendanceRecordRepo) Upsert(ctx context.Context, record *model.AttendanceRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "company_id"},
				{Name: "student_id"},
				{Name: "date_key"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":     record.Status,
				"updated_by": record.UpdatedBy,
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(record).Error
}

func (r *attendanceRecordRepo) BatchCreate(ctx context.Context, records []model.AttendanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&records, 500).Error
}

func (r *attendanceRecordRepo) DeleteByDay(ctx context.Context, companyID, dateKey string) (int64, error) {
	// 硬删除：取消点名后该日不应再被视为已开始
	result := r.db.WithContext(ctx).
		Where("company_id = ? AND date_key = ?", companyID, dateKey).
		Delete(&model.AttendanceRecord{})
	return result.RowsAffected, result.Error
}
