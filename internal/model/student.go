package model

// Student 学生表 — 对应 students（只读，点名名册来源）
type Student struct {
	StudentID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"student_id"`
	CompanyID string `gorm:"type:uuid;not null;index"                       json:"company_id"`
	Name      string `gorm:"type:varchar(120);not null"                     json:"name"`
	IsActive  bool   `gorm:"not null;default:true"                          json:"is_active"`
	SoftDeleteModel
}

// TableName 指定表名
func (Student) TableName() string { return "students" }
