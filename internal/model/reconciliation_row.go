package model

import "time"

// RowStatus 对账行状态
type RowStatus string

const (
	RowStatusOKAutomatic RowStatus = "ok_automatic" // 两侧一致，无需人工
	RowStatusOKManual    RowStatus = "ok_manual"    // 人工选定一侧
	RowStatusIncomplete  RowStatus = "incomplete"   // 某一侧缺失当天记录
	RowStatusWarning     RowStatus = "warning"      // 两侧不一致
	RowStatusPending     RowStatus = "pending"      // 尚未判定
	RowStatusError       RowStatus = "error"        // 判定失败
)

// Terminal 是否为流程终态（无需辅助修正）
func (s RowStatus) Terminal() bool {
	return s == RowStatusOKAutomatic || s == RowStatusOKManual
}

// Valid 是否为已知状态
func (s RowStatus) Valid() bool {
	switch s {
	case RowStatusOKAutomatic, RowStatusOKManual, RowStatusIncomplete,
		RowStatusWarning, RowStatusPending, RowStatusError:
		return true
	}
	return false
}

// Resolution 人工对账选择
type Resolution string

const (
	ResolutionNone   Resolution = ""
	ResolutionSystem Resolution = "system" // 采用系统工时
	ResolutionSheet  Resolution = "sheet"  // 采用表格工时
)

// ReconciliationRow 对账行，对应 reconciliation_rows
// 一个工人一天一行，同时携带系统侧与表格侧工时。行只追加修正记录，从不删除。
type ReconciliationRow struct {
	RowID      string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"row_id"`
	WorkDate   time.Time `gorm:"type:date;not null"                             json:"work_date"`
	WorkerID   string    `gorm:"type:varchar(64);not null;default:''"           json:"worker_id"`
	WorkerName string    `gorm:"type:varchar(120);not null;default:''"          json:"worker_name"`
	DNI        string    `gorm:"column:dni;type:varchar(20);not null"           json:"dni"`

	SystemHours      HourSet `gorm:"embedded;embeddedPrefix:system_" json:"system_hours"`
	SystemLicenseDay bool    `gorm:"not null;default:false"          json:"system_license_day"`
	HasSystemRecord  bool    `gorm:"not null;default:false"          json:"has_system_record"`

	SheetHours      HourSet `gorm:"embedded;embeddedPrefix:sheet_" json:"sheet_hours"`
	SheetLicenseDay bool    `gorm:"not null;default:false"         json:"sheet_license_day"`
	HasSheetRecord  bool    `gorm:"not null;default:false"         json:"has_sheet_record"`

	Status      RowStatus  `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Observation string     `gorm:"type:text;not null;default:''"               json:"observation"`
	Resolution  Resolution `gorm:"type:varchar(10);not null;default:''"        json:"resolution,omitempty"`
	ResolvedBy  *string    `gorm:"type:uuid"                                   json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`

	BaseModel
	Version int `gorm:"not null;default:1" json:"version"`

	// 关联
	Evidence []Evidence `gorm:"foreignKey:RowID;references:RowID" json:"evidence,omitempty"`
}

// TableName 指定表名
func (ReconciliationRow) TableName() string { return "reconciliation_rows" }

// EvidenceType 凭证类型，与条目类型同名
type EvidenceType string

const (
	EvidenceParte    EvidenceType = "parte"
	EvidenceLicencia EvidenceType = "licencia"
	EvidenceHoras    EvidenceType = "horas"
)

// Evidence 对账行凭证，对应 row_evidence，核心逻辑只读
type Evidence struct {
	EvidenceID string       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"evidence_id"`
	RowID      string       `gorm:"type:uuid;not null"                             json:"row_id"`
	Type       EvidenceType `gorm:"type:varchar(20);not null"                      json:"type"`
	URL        string       `gorm:"column:url;type:text;not null"                  json:"url"`
	FileName   string       `gorm:"type:varchar(255);not null;default:''"          json:"file_name"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
}

// TableName 指定表名
func (Evidence) TableName() string { return "row_evidence" }
