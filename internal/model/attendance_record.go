package model

// AttendanceStatus 点名状态
type AttendanceStatus string

const (
	StatusUnmarked  AttendanceStatus = "" // 已开始点名但尚未标记
	StatusPresent   AttendanceStatus = "present"
	StatusAbsent    AttendanceStatus = "absent"
	StatusLate      AttendanceStatus = "late"
	StatusJustified AttendanceStatus = "justified"
)

// Valid 是否为合法状态（含未标记）
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusUnmarked, StatusPresent, StatusAbsent, StatusLate, StatusJustified:
		return true
	}
	return false
}

// AttendanceRecord 点名记录表 — 对应 attendance_records
// 唯一键 (company_id, student_id, date_key)；某日存在至少一条记录即视为已开始点名
type AttendanceRecord struct {
	RecordID  string           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"                  json:"record_id"`
	CompanyID string           `gorm:"type:uuid;not null;uniqueIndex:uq_attendance_records_company_student_date,priority:1" json:"company_id"`
	StudentID string           `gorm:"type:uuid;not null;uniqueIndex:uq_attendance_records_company_student_date,priority:2" json:"student_id"`
	DateKey   string           `gorm:"type:varchar(10);not null;uniqueIndex:uq_attendance_records_company_student_date,priority:3" json:"date_key"`
	Status    AttendanceStatus `gorm:"type:varchar(16);not null;default:''"                            json:"status"`
	BaseModel
}

// TableName 指定表名
func (AttendanceRecord) TableName() string { return "attendance_records" }
