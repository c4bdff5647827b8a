package reconcile

import "workday-reconcile/backend/internal/model"

// PathTag 条目所需的处理路径
type PathTag int

const (
	PathNone      PathTag = iota // 无需处理，不进入队列
	PathDuplicate                // 重复处理
	PathLicense                  // 请假处理
	PathReport                   // 日报/工时表补录
)

func (p PathTag) String() string {
	switch p {
	case PathDuplicate:
		return "duplicate"
	case PathLicense:
		return "license"
	case PathReport:
		return "report"
	default:
		return "none"
	}
}

// ResolutionPathFor 判定条目的处理路径：
// 有重复信息时优先走重复处理；请假走请假处理；
// 日报或工时表处于 incompleto/error 时走补录；其余组合返回 PathNone。
func ResolutionPathFor(item *model.IngestionItem) PathTag {
	if item == nil || item.Resolved() {
		return PathNone
	}
	if item.HasDuplicate() {
		return PathDuplicate
	}
	switch item.Kind {
	case model.KindLicencia:
		return PathLicense
	case model.KindParte, model.KindHoras:
		switch item.Status {
		case model.ItemIncompleto, model.ItemError:
			return PathReport
		}
	}
	return PathNone
}
