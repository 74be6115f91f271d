package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/datekey"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/repository"
	pkgerrors "github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/errors"
)

// ErrObservationTooLong 备注超长；不截断，不写入
var ErrObservationTooLong = pkgerrors.NewValidation("text", fmt.Sprintf("不能超过 %d 个字符", model.ObservationMaxLen))

// ObservationService 点名备注业务接口
type ObservationService interface {
	// 不存在时返回 nil
	Get(ctx context.Context, companyID string, key datekey.Key) (*string, error)
	Upsert(ctx context.Context, companyID string, key datekey.Key, text, callerID string) error
	Delete(ctx context.Context, companyID string, key datekey.Key) error
}

type observationService struct {
	repo     *repository.Repository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewObservationService 创建 ObservationService 实例
func NewObservationService(repo *repository.Repository, logger *zap.Logger) ObservationService {
	return &observationService{repo: repo, validate: validator.New(), logger: logger}
}

func (s *observationService) Get(ctx context.Context, companyID string, key datekey.Key) (*string, error) {
	if err := checkScope(companyID, key); err != nil {
		return nil, err
	}

	obs, err := s.repo.Observation.GetByDay(ctx, companyID, key.String())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		s.logger.Error("查询点名备注失败", zap.String("company_id", companyID), zap.String("date_key", key.String()), zap.Error(err))
		return nil, pkgerrors.WrapPersistence("get_observation", err)
	}
	text := obs.Text
	return &text, nil
}

func (s *observationService) Upsert(ctx context.Context, companyID string, key datekey.Key, text, callerID string) error {
	if err := checkScope(companyID, key); err != nil {
		return err
	}
	// validator 的 max 对字符串按 rune 计数
	if err := s.validate.Var(text, fmt.Sprintf("max=%d", model.ObservationMaxLen)); err != nil {
		return ErrObservationTooLong
	}

	obs := &model.Observation{
		CompanyID: companyID,
		DateKey:   key.String(),
		Text:      text,
	}
	obs.CreatedBy = optionalID(callerID)
	obs.UpdatedBy = optionalID(callerID)

	if err := s.repo.Observation.Upsert(ctx, obs); err != nil {
		s.logger.Error("保存点名备注失败", zap.String("company_id", companyID), zap.String("date_key", key.String()), zap.Error(err))
		return pkgerrors.WrapPersistence("upsert_observation", err)
	}
	return nil
}

func (s *observationService) Delete(ctx context.Context, companyID string, key datekey.Key) error {
	if err := checkScope(companyID, key); err != nil {
		return err
	}
	if err := s.repo.Observation.DeleteByDay(ctx, companyID, key.String()); err != nil {
		s.logger.Error("删除点名备注失败", zap.String("company_id", companyID), zap.String("date_key", key.String()), zap.Error(err))
		return pkgerrors.WrapPersistence("delete_observation", err)
	}
	return nil
}
