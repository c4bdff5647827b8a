package model

import (
	"database/sql/driver"
	"time"
)

// ItemKind 待入库文档类型
type ItemKind string

const (
	KindParte    ItemKind = "parte"    // 工作日报（系统侧来源）
	KindLicencia ItemKind = "licencia" // 请假申请
	KindHoras    ItemKind = "horas"    // 工时表（表格侧来源）
)

// Valid 是否为已知类型
func (k ItemKind) Valid() bool {
	return k == KindParte || k == KindLicencia || k == KindHoras
}

// ItemStatus 待入库文档状态
type ItemStatus string

const (
	ItemIncompleto ItemStatus = "incompleto"
	ItemError      ItemStatus = "error"
	ItemDuplicado  ItemStatus = "duplicado"
	ItemOK         ItemStatus = "ok"
)

// DetectedFields 识别服务给出的候选字段，按类型取用。
// Hours 保留原始值，数值化统一走 reconcile.HoursFromRaw。
type DetectedFields struct {
	DocumentNumber string                 `json:"document_number,omitempty"`
	WorkerID       string                 `json:"worker_id,omitempty"`
	DNI            string                 `json:"dni,omitempty"`
	WorkerName     string                 `json:"worker_name,omitempty"`
	Date           *time.Time             `json:"date,omitempty"`
	LicenseStart   *time.Time             `json:"license_start,omitempty"`
	LicenseEnd     *time.Time             `json:"license_end,omitempty"`
	LicenseType    string                 `json:"license_type,omitempty"`
	IsLicenseDay   bool                   `json:"is_license_day,omitempty"`
	Hours          map[string]interface{} `json:"hours,omitempty"`
	FileURL        string                 `json:"file_url,omitempty"`
	FileName       string                 `json:"file_name,omitempty"`
}

// Scan 实现 sql.Scanner
func (d *DetectedFields) Scan(src interface{}) error { return scanJSON(src, d) }

// Value 实现 driver.Valuer
func (d DetectedFields) Value() (driver.Value, error) { return valueJSON(d) }

// DuplicateInfo 重复信息：仅在两个条目被判为同一簇时存在
type DuplicateInfo struct {
	ExistingItemID string         `json:"existing_item_id"`
	ExistingSide   DetectedFields `json:"existing_side"`
	NewSide        DetectedFields `json:"new_side"`
	Message        string         `json:"message,omitempty"`
}

// Scan 实现 sql.Scanner
func (d *DuplicateInfo) Scan(src interface{}) error { return scanJSON(src, d) }

// Value 实现 driver.Valuer
func (d DuplicateInfo) Value() (driver.Value, error) { return valueJSON(d) }

// IngestionItem 待入库文档，对应 ingestion_items
// 成功处理后记录 resolved_at（转入对账行时同时记录 row_id）；被舍弃的一方软删除。
type IngestionItem struct {
	ItemID         string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"item_id"`
	Kind           ItemKind       `gorm:"type:varchar(20);not null"                      json:"kind"`
	Status         ItemStatus     `gorm:"type:varchar(20);not null"                      json:"status"`
	DetectedFields DetectedFields `gorm:"type:jsonb;not null;default:'{}'"               json:"detected_fields"`
	DuplicateInfo  *DuplicateInfo `gorm:"type:jsonb"                                     json:"duplicate_info,omitempty"`
	RowID          *string        `gorm:"type:uuid"                                      json:"row_id,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     *string        `gorm:"type:uuid"                                      json:"resolved_by,omitempty"`
	VersionedModel
}

// TableName 指定表名
func (IngestionItem) TableName() string { return "ingestion_items" }

// HasDuplicate 是否携带有效的重复信息
func (i *IngestionItem) HasDuplicate() bool {
	return i.DuplicateInfo != nil && i.DuplicateInfo.ExistingItemID != ""
}

// Resolved 是否已处理（入库或被舍弃）
func (i *IngestionItem) Resolved() bool {
	return i.ResolvedAt != nil || i.DeletedAt.Valid
}
