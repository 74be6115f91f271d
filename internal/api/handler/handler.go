package handler

import (
	"go.uber.org/zap"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/config"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/realtime"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Attendance *AttendanceHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(cfg *config.Config, svc *service.Service, feed realtime.Feed, logger *zap.Logger) *Handler {
	return &Handler{
		Attendance: NewAttendanceHandler(svc.Attendance, svc.Observation, feed, AttendanceOptions{
			DefaultStatus: model.AttendanceStatus(cfg.Attendance.DefaultStatus),
			Debounce:      cfg.Realtime.Debounce,
			Heartbeat:     cfg.Realtime.Heartbeat,
		}, logger.Named("attendance_handler")),
	}
}
