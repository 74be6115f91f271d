package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Attendance  AttendanceRecordRepository
	Observation ObservationRepository
	Student     StudentRepository

	db *gorm.DB
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		Attendance:  NewAttendanceRecordRepo(db),
		Observation: NewObservationRepo(db),
		Student:     NewStudentRepo(db),
		db:          db,
	}
}

// WithTx 返回绑定到事务 tx 的 Repository 聚合
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return NewRepository(tx)
}

// Transaction 在单个数据库事务中执行 fn；fn 返回错误时整体回滚。
// 未绑定数据库（测试中直接装配 mock）时在当前聚合上直接执行。
func (r *Repository) Transaction(ctx context.Context, fn func(txRepo *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}
