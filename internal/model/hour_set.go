package model

import "github.com/shopspring/decimal"

// HourSet 一天内各类工时，系统侧与表格侧使用相同结构。
// 各字段非负；缺失按 0 处理（见 reconcile.Coerce）。
type HourSet struct {
	Normal   decimal.Decimal `gorm:"column:normal;type:numeric(6,2);not null;default:0"   json:"normal"`
	Extra50  decimal.Decimal `gorm:"column:extra50;type:numeric(6,2);not null;default:0"  json:"extra50"`
	Extra100 decimal.Decimal `gorm:"column:extra100;type:numeric(6,2);not null;default:0" json:"extra100"`
	Altitude decimal.Decimal `gorm:"column:altitude;type:numeric(6,2);not null;default:0" json:"altitude"`
	Concrete decimal.Decimal `gorm:"column:concrete;type:numeric(6,2);not null;default:0" json:"concrete"`
	Trench   decimal.Decimal `gorm:"column:trench;type:numeric(6,2);not null;default:0"   json:"trench"`
	Night    decimal.Decimal `gorm:"column:night;type:numeric(6,2);not null;default:0"    json:"night"`
	Night50  decimal.Decimal `gorm:"column:night50;type:numeric(6,2);not null;default:0"  json:"night50"`
	Night100 decimal.Decimal `gorm:"column:night100;type:numeric(6,2);not null;default:0" json:"night100"`
}

// HourField 工时类别名，与 JSON 字段名一致
type HourField string

const (
	HourNormal   HourField = "normal"
	HourExtra50  HourField = "extra50"
	HourExtra100 HourField = "extra100"
	HourAltitude HourField = "altitude"
	HourConcrete HourField = "concrete"
	HourTrench   HourField = "trench"
	HourNight    HourField = "night"
	HourNight50  HourField = "night50"
	HourNight100 HourField = "night100"
)

// HourFields 固定顺序的全部工时类别
var HourFields = []HourField{
	HourNormal, HourExtra50, HourExtra100,
	HourAltitude, HourConcrete, HourTrench,
	HourNight, HourNight50, HourNight100,
}

// Get 按类别取值
func (h HourSet) Get(f HourField) decimal.Decimal {
	switch f {
	case HourNormal:
		return h.Normal
	case HourExtra50:
		return h.Extra50
	case HourExtra100:
		return h.Extra100
	case HourAltitude:
		return h.Altitude
	case HourConcrete:
		return h.Concrete
	case HourTrench:
		return h.Trench
	case HourNight:
		return h.Night
	case HourNight50:
		return h.Night50
	case HourNight100:
		return h.Night100
	}
	return decimal.Zero
}

// Set 按类别赋值，未知类别忽略
func (h *HourSet) Set(f HourField, v decimal.Decimal) {
	switch f {
	case HourNormal:
		h.Normal = v
	case HourExtra50:
		h.Extra50 = v
	case HourExtra100:
		h.Extra100 = v
	case HourAltitude:
		h.Altitude = v
	case HourConcrete:
		h.Concrete = v
	case HourTrench:
		h.Trench = v
	case HourNight:
		h.Night = v
	case HourNight50:
		h.Night50 = v
	case HourNight100:
		h.Night100 = v
	}
}
