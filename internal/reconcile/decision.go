package reconcile

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"workday-reconcile/backend/internal/model"
	pkgerrors "workday-reconcile/backend/pkg/errors"
)

var validate = validator.New()

// Decision 操作员针对一个条目给出的答案，按路径区分具体类型
type Decision interface {
	Path() PathTag
	Validate() error
}

// DuplicateAction 重复处理的两种答案
type DuplicateAction string

const (
	KeepExisting DuplicateAction = "keep_existing" // 保留已有记录，舍弃新条目
	ApplyNew     DuplicateAction = "apply_new"     // 以新条目为准，舍弃已有记录
)

// ManualPatch 保留已有记录时可附带的人工修正，取自已有行当前工时与请假标记
type ManualPatch struct {
	Hours        model.HourSet `json:"hours"`
	IsLicenseDay bool          `json:"is_license_day"`
}

// DuplicateDecision 重复处理答案
type DuplicateDecision struct {
	Action      DuplicateAction `validate:"required,oneof=keep_existing apply_new"`
	ManualPatch *ManualPatch
}

func (DuplicateDecision) Path() PathTag { return PathDuplicate }

func (d DuplicateDecision) Validate() error {
	if err := validate.Struct(d); err != nil {
		return pkgerrors.Validation("重复处理动作无效: %s", describe(err))
	}
	if d.Action == ApplyNew && d.ManualPatch != nil {
		return pkgerrors.Validation("apply_new 不接受人工修正")
	}
	if d.ManualPatch != nil {
		if f, ok := firstNegative(d.ManualPatch.Hours); ok {
			return pkgerrors.Validation("人工修正 %s 为负值", f)
		}
	}
	return nil
}

// LicenseDecision 请假处理答案，日期区间为闭区间
type LicenseDecision struct {
	WorkerID    string    `validate:"required"`
	DNI         string    `validate:"required"`
	WorkerName  string
	Start       time.Time `validate:"required"`
	End         time.Time `validate:"required,gtefield=Start"`
	LicenseType string    `validate:"max=50"`
}

func (LicenseDecision) Path() PathTag { return PathLicense }

func (d LicenseDecision) Validate() error {
	if err := validate.Struct(d); err != nil {
		return pkgerrors.Validation("请假信息无效: %s", describe(err))
	}
	if DaysInRange(d.Start, d.End) > 366 {
		return pkgerrors.Validation("请假区间超过一年")
	}
	return nil
}

// ReportDecision 日报/工时表补录答案
type ReportDecision struct {
	WorkerID       string    `validate:"required"`
	DNI            string    `validate:"required"`
	WorkerName     string
	Date           time.Time `validate:"required"`
	Hours          model.HourSet
	IsLicenseDay   bool
	DocumentNumber string `validate:"max=64"`
}

func (ReportDecision) Path() PathTag { return PathReport }

func (d ReportDecision) Validate() error {
	if err := validate.Struct(d); err != nil {
		return pkgerrors.Validation("补录信息无效: %s", describe(err))
	}
	if f, ok := firstNegative(d.Hours); ok {
		return pkgerrors.Validation("工时 %s 为负值", f)
	}
	return nil
}

// describe 把 validator 错误压成 "字段:规则" 列表
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+":"+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
