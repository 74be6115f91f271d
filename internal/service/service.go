package service

import (
	"go.uber.org/zap"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Attendance  AttendanceService
	Observation ObservationService
}

// NewService 创建 Service 聚合
func NewService(repo *repository.Repository, logger *zap.Logger) *Service {
	return &Service{
		Attendance:  NewAttendanceService(repo, logger.Named("attendance")),
		Observation: NewObservationService(repo, logger.Named("observation")),
	}
}
