package handler

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/datekey"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/dto"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/model"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/realtime"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/service"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/internal/session"
	pkgerrors "github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/errors"
	"github.com/lucasgod464/gerenciamento-de-alunos-sub001/pkg/response"
)

// defaultHeartbeat SSE 心跳间隔
const defaultHeartbeat = 25 * time.Second

// AttendanceOptions 点名处理器配置
type AttendanceOptions struct {
	DefaultStatus model.AttendanceStatus
	Debounce      time.Duration
	Heartbeat     time.Duration
}

// AttendanceHandler 点名模块 HTTP 处理器。
// 每个请求（或每条 SSE 连接）对应一个 session.Controller。
type AttendanceHandler struct {
	attendanceSvc  service.AttendanceService
	observationSvc service.ObservationService
	feed           realtime.Feed
	opts           AttendanceOptions
	logger         *zap.Logger
}

// NewAttendanceHandler 创建 AttendanceHandler
func NewAttendanceHandler(attendanceSvc service.AttendanceService, observationSvc service.ObservationService, feed realtime.Feed, opts AttendanceOptions, logger *zap.Logger) *AttendanceHandler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	return &AttendanceHandler{
		attendanceSvc:  attendanceSvc,
		observationSvc: observationSvc,
		feed:           feed,
		opts:           opts,
		logger:         logger,
	}
}

// ListDays 已开始点名的日期（升序）
// GET /api/v1/attendance/days
func (h *AttendanceHandler) ListDays(c *gin.Context) {
	companyID, ok := MustGetCompanyID(c)
	if !ok {
		return
	}

	keys, err := h.attendanceSvc.ListDays(c.Request.Context(), companyID)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}

	days := make([]string, 0, len(keys))
	for _, k := range keys {
		days = append(days, k.String())
	}
	sort.Strings(days)

	response.OKList(c, days, len(days))
}

// GetDay 选择日期并返回当日视图
// GET /api/v1/attendance/days/:date
func (h *AttendanceHandler) GetDay(c *gin.Context) {
	ctrl, key, ok := h.openSession(c)
	if !ok {
		return
	}
	defer ctrl.Close()

	p, err := ctrl.SelectDate(c.Request.Context(), key)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OK(c, toProjectionResponse(p))
}

// Start 为当前名册开始点名
// POST /api/v1/attendance/days/:date/start
func (h *AttendanceHandler) Start(c *gin.Context) {
	var req dto.StartAttendanceRequest
	// 请求体可省略（含分块传输的空请求体）
	if !bindOptionalJSON(c, &req) {
		return
	}

	ctrl, key, ok := h.openSession(c)
	if !ok {
		return
	}
	defer ctrl.Close()

	ctx := c.Request.Context()
	if _, err := ctrl.SelectDate(ctx, key); err != nil {
		h.handleAttendanceError(c, err)
		return
	}

	status := h.opts.DefaultStatus
	if req.DefaultStatus != nil {
		status = model.AttendanceStatus(*req.DefaultStatus)
		if status != model.StatusUnmarked && status != model.StatusPresent {
			response.BadRequest(c, 20001, "default_status 只能为空或 present")
			return
		}
	}

	p, err := ctrl.StartWith(ctx, status)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OK(c, toProjectionResponse(p))
}

// Cancel 取消当日点名（未开始时为空操作）
// POST /api/v1/attendance/days/:date/cancel
func (h *AttendanceHandler) Cancel(c *gin.Context) {
	ctrl, key, ok := h.openSession(c)
	if !ok {
		return
	}
	defer ctrl.Close()

	ctx := c.Request.Context()
	if _, err := ctrl.SelectDate(ctx, key); err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	p, err := ctrl.Cancel(ctx)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OK(c, toProjectionResponse(p))
}

// UpdateStatus 修改某人当日状态
// PUT /api/v1/attendance/days/:date/records/:student_id
func (h *AttendanceHandler) UpdateStatus(c *gin.Context) {
	studentID := c.Param("student_id")
	if _, err := uuid.Parse(studentID); err != nil {
		response.BadRequest(c, 20001, "student_id 格式无效")
		return
	}

	var req dto.UpdateStatusRequest
	if !bindJSON(c, &req) {
		return
	}

	ctrl, key, ok := h.openSession(c)
	if !ok {
		return
	}
	defer ctrl.Close()

	ctx := c.Request.Context()
	if _, err := ctrl.SelectDate(ctx, key); err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	p, err := ctrl.ChangeStatus(ctx, studentID, model.AttendanceStatus(req.Status))
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OK(c, toProjectionResponse(p))
}

// UpdateObservation 修改当日备注
// PUT /api/v1/attendance/days/:date/observation
func (h *AttendanceHandler) UpdateObservation(c *gin.Context) {
	var req dto.UpdateObservationRequest
	if !bindJSON(c, &req) {
		return
	}

	ctrl, key, ok := h.openSession(c)
	if !ok {
		return
	}
	defer ctrl.Close()

	ctx := c.Request.Context()
	if _, err := ctrl.SelectDate(ctx, key); err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	p, err := ctrl.ChangeObservation(ctx, req.Text)
	if err != nil {
		h.handleAttendanceError(c, err)
		return
	}
	response.OK(c, toProjectionResponse(p))
}

// Stream 以 SSE 推送当日视图：先推送当前视图，之后每次重新拉取推送一次
// GET /api/v1/attendance/days/:date/stream
func (h *AttendanceHandler) Stream(c *gin.Context) {
	ctrl, key, ok := h.openSession(c)
	if !ok {
		return
	}
	defer ctrl.Close()

	ctx := c.Request.Context()
	updates := newLatestProjection()
	ctrl.OnUpdate(updates.put)

	// 先订阅再拉取，避免两者之间的变更丢失
	bridge := realtime.NewBridge(h.feed,
		realtime.WithDebounce(h.opts.Debounce),
		realtime.WithBridgeLogger(h.logger),
	)
	if err := ctrl.Bind(ctx, bridge); err != nil {
		h.logger.Error("建立实时订阅失败", zap.Error(err))
		response.ServiceUnavailable(c, 20005, "实时通道不可用")
		return
	}
	if _, err := ctrl.SelectDate(ctx, key); err != nil {
		h.handleAttendanceError(c, err)
		return
	}

	// 长连接不受服务器写超时限制
	if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("无法清除写超时", zap.Error(err))
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.opts.Heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-bridge.Done():
			c.SSEvent("error", gin.H{"message": "实时通道中断"})
			return false
		case p := <-updates.ch:
			c.SSEvent("projection", toProjectionResponse(p))
			return true
		case t := <-heartbeat.C:
			c.SSEvent("heartbeat", t.UTC().Format(time.RFC3339))
			return true
		}
	})
}

// ── 内部辅助方法 ──

// openSession 解析租户与日期并创建控制器；失败时已写入响应
func (h *AttendanceHandler) openSession(c *gin.Context) (*session.Controller, datekey.Key, bool) {
	companyID, ok := MustGetCompanyID(c)
	if !ok {
		return nil, "", false
	}
	key, err := datekey.Parse(c.Param("date"))
	if err != nil {
		response.BadRequest(c, 10001, "日期格式无效，应为 YYYY-MM-DD")
		return nil, "", false
	}

	opts := []session.Option{
		session.WithDefaultStatus(h.opts.DefaultStatus),
		session.WithLogger(h.logger),
	}
	if userID, exists := c.Get("user_id"); exists {
		if s, ok := userID.(string); ok {
			opts = append(opts, session.WithCaller(s))
		}
	}

	ctrl, err := session.NewController(h.attendanceSvc, h.observationSvc, companyID, opts...)
	if err != nil {
		h.handleAttendanceError(c, err)
		return nil, "", false
	}
	return ctrl, key, true
}

func bindJSON(c *gin.Context, req interface{}) bool {
	return handleBindError(c, c.ShouldBindJSON(req))
}

// bindOptionalJSON 请求体为空时保留零值
func bindOptionalJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if errors.Is(err, io.EOF) {
		return true
	}
	return handleBindError(c, err)
}

func handleBindError(c *gin.Context, err error) bool {
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
			return false
		}
		response.ErrorWithDetails(c, http.StatusBadRequest, 20001, "参数校验失败", err.Error())
		return false
	}
	return true
}

func (h *AttendanceHandler) handleAttendanceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTenantRequired):
		response.Unauthorized(c, 10002, "未认证")
	case errors.Is(err, service.ErrAlreadyStarted):
		response.Conflict(c, 20002, "该日期已开始点名")
	case errors.Is(err, session.ErrDayNotOpen):
		response.Conflict(c, 20003, "该日期尚未开始点名")
	case pkgerrors.IsValidation(err):
		response.ErrorWithDetails(c, http.StatusBadRequest, 20001, "参数校验失败", err.Error())
	case pkgerrors.IsPersistence(err):
		response.ServiceUnavailable(c, 20004, "存储暂不可用，请稍后重试")
	default:
		h.logger.Error("未预期的点名错误", zap.Error(err))
		response.InternalError(c)
	}
}

func toProjectionResponse(p session.Projection) dto.ProjectionResponse {
	records := make([]dto.RecordResponse, 0, len(p.Records))
	for id, s := range p.Records {
		records = append(records, dto.RecordResponse{StudentID: id, Status: string(s)})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StudentID < records[j].StudentID })

	return dto.ProjectionResponse{
		Date:        p.DateKey.String(),
		State:       p.State().String(),
		Records:     records,
		Observation: p.Observation,
		SyncLag:     p.SyncLag,
	}
}

// latestProjection 容量为 1 的通道，写满时用最新视图替换旧视图
type latestProjection struct {
	ch chan session.Projection
}

func newLatestProjection() *latestProjection {
	return &latestProjection{ch: make(chan session.Projection, 1)}
}

func (l *latestProjection) put(p session.Projection) {
	for {
		select {
		case l.ch <- p:
			return
		default:
			select {
			case <-l.ch:
			default:
			}
		}
	}
}
