package reconcile

import (
	"fmt"

	"workday-reconcile/backend/internal/model"
)

// ClassifyInput 判定所需的全部输入
type ClassifyInput struct {
	WorkerID       string
	System         model.HourSet
	Sheet          model.HourSet
	HasSystem      bool
	HasSheet       bool
	ManualOverride bool
}

// Classification 判定结果；Status 为 error 时 Reason 说明原因
type Classification struct {
	Status model.RowStatus `json:"status"`
	Reason string          `json:"reason,omitempty"`
}

// Classify 判定对账行状态，纯函数，不返回错误也不 panic：
//
//	人工已确认 → ok_manual（不被自动判定覆盖）
//	缺少工人或存在负值 → error
//	任一侧缺少当天记录 → incomplete
//	两侧逐字段相等 → ok_automatic
//	其他 → warning
func Classify(in ClassifyInput) (out Classification) {
	defer func() {
		if r := recover(); r != nil {
			out = Classification{Status: model.RowStatusError, Reason: fmt.Sprintf("判定异常: %v", r)}
		}
	}()

	if in.ManualOverride {
		return Classification{Status: model.RowStatusOKManual}
	}
	if in.WorkerID == "" {
		return Classification{Status: model.RowStatusError, Reason: "缺少工人引用"}
	}
	if f, ok := firstNegative(in.System); ok {
		return Classification{Status: model.RowStatusError, Reason: fmt.Sprintf("系统工时 %s 为负值", f)}
	}
	if f, ok := firstNegative(in.Sheet); ok {
		return Classification{Status: model.RowStatusError, Reason: fmt.Sprintf("表格工时 %s 为负值", f)}
	}
	if !in.HasSystem || !in.HasSheet {
		return Classification{Status: model.RowStatusIncomplete}
	}
	if Equal(in.System, in.Sheet) {
		return Classification{Status: model.RowStatusOKAutomatic}
	}
	return Classification{Status: model.RowStatusWarning}
}

// ClassifyRow 对一行做判定，已由人工确认的行保持 ok_manual
func ClassifyRow(row *model.ReconciliationRow) Classification {
	if row == nil {
		return Classification{Status: model.RowStatusError, Reason: "空行"}
	}
	return Classify(ClassifyInput{
		WorkerID:       row.WorkerID,
		System:         row.SystemHours,
		Sheet:          row.SheetHours,
		HasSystem:      row.HasSystemRecord,
		HasSheet:       row.HasSheetRecord,
		ManualOverride: row.Status == model.RowStatusOKManual,
	})
}

// Comparison 左右对比视图：每侧只列非零类别
type Comparison struct {
	System      []FieldValue      `json:"system"`
	Sheet       []FieldValue      `json:"sheet"`
	Differences []model.HourField `json:"differences"`
	LicenseDiff bool              `json:"license_diff"`
}

// Compare 生成对比视图
func Compare(row *model.ReconciliationRow) Comparison {
	return Comparison{
		System:      NonZero(row.SystemHours),
		Sheet:       NonZero(row.SheetHours),
		Differences: Diff(row.SystemHours, row.SheetHours),
		LicenseDiff: row.SystemLicenseDay != row.SheetLicenseDay,
	}
}
