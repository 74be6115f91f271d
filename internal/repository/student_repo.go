package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
)

// StudentRepository 名册只读访问接口
type StudentRepository interface {
	ListActiveIDs(ctx context.Context, companyID string) ([]string, error)
}

type studentRepo struct {
	db *gorm.DB
}

// NewStudentRepo 创建 StudentRepository 实例
func NewStudentRepo(db *gorm.DB) StudentRepository {
	return &studentRepo{db: db}
}

func (r *studentRepo) ListActiveIDs(ctx context.Context, companyID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.Student{}).
		Where("company_id = ? AND is_active = ?", companyID, true).
		Order("name ASC").
		Pluck("student_id", &ids).Error
	return ids, err
}
