package dto

import (
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/reconcile"
)

// ── 对账行模块 DTO ──

// RowListRequest 对账行列表查询
type RowListRequest struct {
	PaginationRequest
	Status   string `form:"status"` // 逗号分隔，例如 warning,incomplete
	WorkerID string `form:"worker_id"`
	DNI      string `form:"dni"`
	From     string `form:"from"` // "2026-03-01"
	To       string `form:"to"`
	Search   string `form:"q"      binding:"omitempty,max=100"`
	Sort     string `form:"sort"   binding:"omitempty,oneof=work_date -work_date worker_name -worker_name status -status"`
}

// RowResponse 对账行响应，附带左右对比视图
type RowResponse struct {
	ID               string               `json:"id"`
	WorkDate         string               `json:"work_date"`
	WorkerID         string               `json:"worker_id"`
	WorkerName       string               `json:"worker_name"`
	DNI              string               `json:"dni"`
	SystemHours      model.HourSet        `json:"system_hours"`
	SystemLicenseDay bool                 `json:"system_license_day"`
	HasSystemRecord  bool                 `json:"has_system_record"`
	SheetHours       model.HourSet        `json:"sheet_hours"`
	SheetLicenseDay  bool                 `json:"sheet_license_day"`
	HasSheetRecord   bool                 `json:"has_sheet_record"`
	Status           string               `json:"status"`
	Observation      string               `json:"observation,omitempty"`
	Resolution       string               `json:"resolution,omitempty"`
	ResolvedBy       string               `json:"resolved_by,omitempty"`
	ResolvedAt       string               `json:"resolved_at,omitempty"`
	Version          int                  `json:"version"`
	Comparison       reconcile.Comparison `json:"comparison"`
	Evidence         []EvidenceResponse   `json:"evidence,omitempty"`
}

// EvidenceResponse 凭证链接
type EvidenceResponse struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	FileName string `json:"file_name"`
}

// UpdateRowRequest 人工修改系统侧工时；status 只接受 pending（撤销人工确认），人工确认走对账处理接口
type UpdateRowRequest struct {
	Hours        *model.HourSet `json:"hours"`
	IsLicenseDay *bool          `json:"is_license_day"`
	Status       *string        `json:"status"      binding:"omitempty,oneof=pending"`
	Observation  *string        `json:"observation" binding:"omitempty,max=500"`
	Version      int            `json:"version"     binding:"required,min=1"`
}

// SheetPayloadRequest “采用表格工时”的提交内容；原始值非数字时按 0 处理
type SheetPayloadRequest struct {
	Hours        map[string]interface{} `json:"hours"`
	IsLicenseDay bool                   `json:"is_license_day"`
}

// ResolveRowRequest 单行人工对账
type ResolveRowRequest struct {
	Source  string               `json:"source"  binding:"required,oneof=system sheet"`
	Payload *SheetPayloadRequest `json:"payload"` // 仅 sheet；缺省时取行的表格侧
}

// BulkSheetItem 批量采用表格工时的单行内容
type BulkSheetItem struct {
	RowID   string               `json:"row_id"  binding:"required"`
	Payload *SheetPayloadRequest `json:"payload"`
}

// BulkResolveRequest 批量人工对账：system 用 row_ids，sheet 用 items
type BulkResolveRequest struct {
	Source string          `json:"source"  binding:"required,oneof=system sheet"`
	RowIDs []string        `json:"row_ids" binding:"omitempty,max=500"`
	Items  []BulkSheetItem `json:"items"   binding:"omitempty,max=500,dive"`
}

// BulkFailure 批量操作中失败的一行
type BulkFailure struct {
	RowID  string `json:"row_id"`
	Kind   string `json:"kind"` // validation | conflict | transport | not_found | internal
	Reason string `json:"reason"`
}

// BulkResultResponse 批量操作结果，失败逐行归因
type BulkResultResponse struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// ReclassifyRequest 重新判定请求
type ReclassifyRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	All  bool   `json:"all"` // false 时仅判定非终态行
}

// ReclassifyResponse 重新判定结果
type ReclassifyResponse struct {
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

// SummaryResponse 各状态计数
type SummaryResponse struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// ImportRowError 表格导入中被拒绝的一行
type ImportRowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ImportResultResponse 表格导入结果
type ImportResultResponse struct {
	Processed int              `json:"processed"`
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Skipped   int              `json:"skipped"`
	Errors    []ImportRowError `json:"errors,omitempty"`
}
