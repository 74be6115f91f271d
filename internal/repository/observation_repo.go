package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
)

// ObservationRepository 点名备注数据访问接口
type ObservationRepository interface {
	// 不存在时返回 gorm.ErrRecordNotFound
	GetByDay(ctx context.Context, companyID, dateKey string) (*model.Observation, error)
	Upsert(ctx context.Context, obs *model.Observation) error
	DeleteByDay(ctx context.Context, companyID, dateKey string) error
}

type observationRepo struct {
	db *gorm.DB
}

// NewObservationRepo 创建 ObservationRepository 实例
func NewObservationRepo(db *gorm.DB) ObservationRepository {
	return &observationRepo{db: db}
}

func (r *observationRepo) GetByDay(ctx context.Context, companyID, dateKey string) (*model.Observation, error) {
	var obs model.Observation
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND date_key = ?", companyID, dateKey).
		First(&obs).Error
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

func (r *observationRepo) Upsert(ctx context.Context, obs *model.Observation) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "company_id"}, {Name: "date_key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"text":       obs.Text,
				"updated_by": obs.UpdatedBy,
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(obs).Error
}

func (r *observationRepo) DeleteByDay(ctx context.Context, companyID, dateKey string) error {
	return r.db.WithContext(ctx).
		Where("company_id = ? AND date_key = ?", companyID, dateKey).
		Delete(&model.Observation{}).Error
}
