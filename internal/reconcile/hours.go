// Package reconcile 对账核心：工时比较与状态判定、重复检测、辅助修正状态机。
// 本包不访问存储，所有提交都委托给调用方注入的实现。
package reconcile

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"workday-reconcile/backend/internal/model"
)

// Coerce 把任意原始工时值转成数值，nil、空串与非数字一律为 0。
// 分类器与表格工时换算都只走这一个入口。
func Coerce(v interface{}) decimal.Decimal {
	switch x := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return x
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero
		}
		return *x
	case decimal.NullDecimal:
		if !x.Valid {
			return decimal.Zero
		}
		return x.Decimal
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(x)
	case float32:
		return Coerce(float64(x))
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case int32:
		return decimal.NewFromInt(int64(x))
	case json.Number:
		return Coerce(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero
		}
		// 表格常用逗号作小数点
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			s = strings.Replace(s, ",", ".", 1)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero
		}
		return d
	}
	return decimal.Zero
}

// HoursFromRaw 由识别服务或表格给出的原始字段构造 HourSet
func HoursFromRaw(raw map[string]interface{}) model.HourSet {
	var h model.HourSet
	for _, f := range model.HourFields {
		h.Set(f, Coerce(raw[string(f)]))
	}
	return h
}

// HoursToRaw HourSet 转回原始字段（用于写回 detected_fields）
func HoursToRaw(h model.HourSet) map[string]interface{} {
	raw := make(map[string]interface{}, len(model.HourFields))
	for _, f := range model.HourFields {
		raw[string(f)] = h.Get(f).String()
	}
	return raw
}

// Equal 逐字段精确比较
func Equal(a, b model.HourSet) bool {
	for _, f := range model.HourFields {
		if !a.Get(f).Equal(b.Get(f)) {
			return false
		}
	}
	return true
}

// Diff 返回不一致的类别，顺序同 model.HourFields
func Diff(a, b model.HourSet) []model.HourField {
	var out []model.HourField
	for _, f := range model.HourFields {
		if !a.Get(f).Equal(b.Get(f)) {
			out = append(out, f)
		}
	}
	return out
}

// Total 全部类别之和
func Total(h model.HourSet) decimal.Decimal {
	sum := decimal.Zero
	for _, f := range model.HourFields {
		sum = sum.Add(h.Get(f))
	}
	return sum
}

// FieldValue 单个类别的取值
type FieldValue struct {
	Field model.HourField `json:"field"`
	Value decimal.Decimal `json:"value"`
}

// NonZero 仅返回非零类别，供对比视图展示；底层数据不受影响
func NonZero(h model.HourSet) []FieldValue {
	var out []FieldValue
	for _, f := range model.HourFields {
		if v := h.Get(f); !v.IsZero() {
			out = append(out, FieldValue{Field: f, Value: v})
		}
	}
	return out
}

// firstNegative 返回第一个负值类别
func firstNegative(h model.HourSet) (model.HourField, bool) {
	for _, f := range model.HourFields {
		if h.Get(f).IsNegative() {
			return f, true
		}
	}
	return "", false
}

// ── 表格工时换算 ──

// SheetFields 表格侧可采用的六个类别，夜班类别表格不提供
var SheetFields = []model.HourField{
	model.HourNormal, model.HourExtra50, model.HourExtra100,
	model.HourAltitude, model.HourConcrete, model.HourTrench,
}

// SheetPayload “采用表格工时”提交内容
type SheetPayload struct {
	Hours        map[model.HourField]decimal.Decimal `json:"hours"`
	IsLicenseDay bool                                `json:"is_license_day"`
}

// SheetPayloadFor 从行的表格侧构造提交内容
func SheetPayloadFor(row *model.ReconciliationRow) SheetPayload {
	p := SheetPayload{
		Hours:        make(map[model.HourField]decimal.Decimal, len(SheetFields)),
		IsLicenseDay: row.SheetLicenseDay,
	}
	for _, f := range SheetFields {
		p.Hours[f] = Coerce(row.SheetHours.Get(f))
	}
	return p
}

// ApplySheetPayload 把提交内容写入系统侧工时，缺失类别按 0，夜班类别保持不变
func ApplySheetPayload(system model.HourSet, p SheetPayload) model.HourSet {
	out := system
	for _, f := range SheetFields {
		out.Set(f, Coerce(p.Hours[f]))
	}
	return out
}
