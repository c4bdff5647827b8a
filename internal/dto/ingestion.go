package dto

import "workday-reconcile/backend/internal/model"

// ── 待入库条目模块 DTO ──

// ItemListRequest 条目列表查询
type ItemListRequest struct {
	PaginationRequest
	Kind       string `form:"kind"       binding:"omitempty,oneof=parte licencia horas"`
	Status     string `form:"status"     binding:"omitempty,oneof=incompleto error duplicado ok"`
	Unresolved bool   `form:"unresolved"`
	Duplicates bool   `form:"duplicates"`
	From       string `form:"from"` // 按入库时间，"2026-03-01"
	To         string `form:"to"`
	Search     string `form:"q"          binding:"omitempty,max=100"`
}

// ItemResponse 条目响应
type ItemResponse struct {
	ID             string               `json:"id"`
	Kind           string               `json:"kind"`
	Status         string               `json:"status"`
	Path           string               `json:"path"` // duplicate | license | report | none
	DetectedFields model.DetectedFields `json:"detected_fields"`
	DuplicateInfo  *model.DuplicateInfo `json:"duplicate_info,omitempty"`
	RowID          string               `json:"row_id,omitempty"`
	ResolvedAt     string               `json:"resolved_at,omitempty"`
	CreatedAt      string               `json:"created_at"`
	Version        int                  `json:"version"`
}

// DetectDuplicatesResponse 重复检测结果
type DetectDuplicatesResponse struct {
	Scanned  int        `json:"scanned"`
	Flagged  []string   `json:"flagged"`
	Clusters [][]string `json:"clusters"`
	Attached int        `json:"attached"` // 新写入 duplicate_info 的条目数
}

// ManualPatchRequest 保留已有记录时附带的人工修正
type ManualPatchRequest struct {
	Hours        model.HourSet `json:"hours"`
	IsLicenseDay bool          `json:"is_license_day"`
}

// DecisionRequest 操作员给出的答案。
// 具体字段按条目的处理路径取用：
//
//	duplicate: action, manual_patch
//	license:   worker_id, dni, worker_name, start, end, license_type
//	report:    worker_id, dni, worker_name, date, hours, is_license_day, document_number
type DecisionRequest struct {
	Action         string                 `json:"action"`
	ManualPatch    *ManualPatchRequest    `json:"manual_patch"`
	WorkerID       string                 `json:"worker_id"`
	DNI            string                 `json:"dni"`
	WorkerName     string                 `json:"worker_name"`
	Start          string                 `json:"start"`
	End            string                 `json:"end"`
	LicenseType    string                 `json:"license_type"`
	Date           string                 `json:"date"`
	Hours          map[string]interface{} `json:"hours"`
	IsLicenseDay   bool                   `json:"is_license_day"`
	DocumentNumber string                 `json:"document_number"`
}
