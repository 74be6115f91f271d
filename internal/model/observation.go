package model

// ObservationMaxLen 备注最大字符数（按 Unicode 字符计）
const ObservationMaxLen = 100

// Observation 点名备注表 — 对应 attendance_observations，每个 (company_id, date_key) 至多一条
type Observation struct {
	ObservationID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"                                    json:"observation_id"`
	CompanyID     string `gorm:"type:uuid;not null;uniqueIndex:uq_attendance_observations_company_date,priority:1"  json:"company_id"`
	DateKey       string `gorm:"type:varchar(10);not null;uniqueIndex:uq_attendance_observations_company_date,priority:2" json:"date_key"`
	Text          string `gorm:"type:varchar(100);not null"                                                        json:"text"`
	BaseModel
}

// TableName 指定表名
func (Observation) TableName() string { return "attendance_observations" }
