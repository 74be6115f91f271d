package dto

// ── 点名模块请求 ──

// StartAttendanceRequest 开始点名；DefaultStatus 为空指针时使用配置的默认状态，
// 显式的空字符串表示"已开始未标记"；取值由处理器校验（"" 或 present）
type StartAttendanceRequest struct {
	DefaultStatus *string `json:"default_status"`
}

// UpdateStatusRequest 修改某人当日状态；空字符串表示取消标记
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"omitempty,oneof=present absent late justified"`
}

// UpdateObservationRequest 修改当日备注（最多 100 个字符）
type UpdateObservationRequest struct {
	Text string `json:"text" binding:"max=100"`
}

// ── 点名模块响应 ──

// RecordResponse 单人点名记录
type RecordResponse struct {
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
}

// ProjectionResponse 某日点名视图
type ProjectionResponse struct {
	Date        string           `json:"date"`
	State       string           `json:"state"` // open | no_day
	Records     []RecordResponse `json:"records"`
	Observation *string          `json:"observation"`
	SyncLag     bool             `json:"sync_lag,omitempty"`
}
