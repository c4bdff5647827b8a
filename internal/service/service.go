package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/reconcile"
	"workday-reconcile/backend/internal/repository"
	pkgerrors "workday-reconcile/backend/pkg/errors"
	"workday-reconcile/backend/pkg/jwt"
	applogger "workday-reconcile/backend/pkg/logger"
	"workday-reconcile/backend/pkg/redis"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Auth           AuthService
	Reconciliation ReconciliationService
	Resolution     ResolutionService
	Ingestion      IngestionService
	Correction     CorrectionService
	Sheet          SheetService
}

// NewService 创建 Service 聚合；rdb 为 nil 时黑名单与处理锁降级
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	rdb *redis.Client,
	logger *zap.Logger,
) *Service {
	var (
		locker    Locker
		blacklist TokenBlacklist
	)
	if rdb != nil {
		locker = rdb
		blacklist = rdb
	}

	resolution := NewResolutionService(&cfg.Reconcile, repo, locker, applogger.Component(logger, "resolution"))
	ingestion := NewIngestionService(repo, resolution, applogger.Component(logger, "ingestion"))

	return &Service{
		Auth:           NewAuthService(cfg, repo, jwtMgr, blacklist, applogger.Component(logger, "auth")),
		Reconciliation: NewReconciliationService(repo, applogger.Component(logger, "reconciliation")),
		Resolution:     resolution,
		Ingestion:      ingestion,
		Correction:     NewCorrectionService(&cfg.Reconcile, ingestion, resolution, applogger.Component(logger, "correction")),
		Sheet:          NewSheetService(&cfg.Reconcile, repo, applogger.Component(logger, "sheet")),
	}
}

// ── 对账行共用操作 ──

const dateLayout = "2006-01-02"

// parseDate 解析 "2006-01-02"，空串返回 nil
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return nil, pkgerrors.Validation("日期格式应为 YYYY-MM-DD: %s", s)
	}
	return &t, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func setSystemSide(row *model.ReconciliationRow, h model.HourSet, licenseDay bool) {
	row.SystemHours = h
	row.SystemLicenseDay = licenseDay
	row.HasSystemRecord = true
}

func setSheetSide(row *model.ReconciliationRow, h model.HourSet, licenseDay bool) {
	row.SheetHours = h
	row.SheetLicenseDay = licenseDay
	row.HasSheetRecord = true
}

// classifyInto 重新判定并写回状态；人工确认的行保持 ok_manual。
// 进入 error 时把原因追加到备注。
func classifyInto(row *model.ReconciliationRow) bool {
	c := reconcile.ClassifyRow(row)
	changed := row.Status != c.Status
	if changed && c.Status == model.RowStatusError {
		appendObservation(row, time.Now(), "", "判定为 error: "+c.Reason)
	}
	row.Status = c.Status
	return changed
}

// appendObservation 备注只追加不覆盖，每条一行：[时间 操作员] 内容
func appendObservation(row *model.ReconciliationRow, at time.Time, operatorID, note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	stamp := at.UTC().Format("2006-01-02 15:04")
	if operatorID != "" {
		stamp += " " + operatorID
	}
	entry := "[" + stamp + "] " + note
	if row.Observation == "" {
		row.Observation = entry
		return
	}
	row.Observation += "\n" + entry
}

// upsertRow 取出或新建某工人某天的对账行，应用 mutate 后重新判定并保存。
// worker_id 缺失时按 DNI 查工人目录补齐。
func upsertRow(
	ctx context.Context,
	repo *repository.Repository,
	workerID, dni, name string,
	day time.Time,
	operatorID string,
	mutate func(row *model.ReconciliationRow),
) (*model.ReconciliationRow, error) {
	day = dayOf(day)
	if workerID == "" || name == "" {
		w, err := repo.Worker.GetByDNI(ctx, dni)
		switch {
		case err == nil:
			if workerID == "" {
				workerID = w.WorkerID
			}
			if name == "" {
				name = w.Name
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
	}

	row, err := repo.Row.GetByDNIDate(ctx, dni, day)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		row = &model.ReconciliationRow{
			WorkDate:   day,
			WorkerID:   workerID,
			WorkerName: name,
			DNI:        dni,
			Status:     model.RowStatusPending,
		}
		row.CreatedBy = nilIfEmpty(operatorID)
		mutate(row)
		classifyInto(row)
		if err := repo.Row.Create(ctx, row); err != nil {
			return nil, err
		}
		return row, nil
	}

	if row.WorkerID == "" {
		row.WorkerID = workerID
	}
	if row.WorkerName == "" {
		row.WorkerName = name
	}
	mutate(row)
	classifyInto(row)
	row.UpdatedBy = nilIfEmpty(operatorID)
	if err := repo.Row.Update(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ── 错误分类 ──

// ErrorKind 把错误归为对外的类别名，批量结果与日志共用
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, pkgerrors.ErrValidation):
		return "validation"
	case errors.Is(err, pkgerrors.ErrConflict):
		return "conflict"
	case errors.Is(err, pkgerrors.ErrTransport):
		return "transport"
	case errors.Is(err, ErrRowNotFound), errors.Is(err, ErrItemNotFound):
		return "not_found"
	}
	return "internal"
}

// isExpected 业务上可预期的错误不记 Error 日志
func isExpected(err error) bool {
	k := ErrorKind(err)
	return k == "validation" || k == "conflict" || k == "not_found"
}

// ── 响应转换 ──

func toRowResponse(row *model.ReconciliationRow) dto.RowResponse {
	resp := dto.RowResponse{
		ID:               row.RowID,
		WorkDate:         row.WorkDate.Format(dateLayout),
		WorkerID:         row.WorkerID,
		WorkerName:       row.WorkerName,
		DNI:              row.DNI,
		SystemHours:      row.SystemHours,
		SystemLicenseDay: row.SystemLicenseDay,
		HasSystemRecord:  row.HasSystemRecord,
		SheetHours:       row.SheetHours,
		SheetLicenseDay:  row.SheetLicenseDay,
		HasSheetRecord:   row.HasSheetRecord,
		Status:           string(row.Status),
		Observation:      row.Observation,
		Resolution:       string(row.Resolution),
		ResolvedBy:       derefString(row.ResolvedBy),
		ResolvedAt:       formatTime(row.ResolvedAt),
		Version:          row.Version,
		Comparison:       reconcile.Compare(row),
	}
	for _, ev := range row.Evidence {
		resp.Evidence = append(resp.Evidence, dto.EvidenceResponse{
			Type:     string(ev.Type),
			URL:      ev.URL,
			FileName: ev.FileName,
		})
	}
	return resp
}

func toItemResponse(item *model.IngestionItem) dto.ItemResponse {
	return dto.ItemResponse{
		ID:             item.ItemID,
		Kind:           string(item.Kind),
		Status:         string(item.Status),
		Path:           reconcile.ResolutionPathFor(item).String(),
		DetectedFields: item.DetectedFields,
		DuplicateInfo:  item.DuplicateInfo,
		RowID:          derefString(item.RowID),
		ResolvedAt:     formatTime(item.ResolvedAt),
		CreatedAt:      item.CreatedAt.Format(time.RFC3339),
		Version:        item.Version,
	}
}
