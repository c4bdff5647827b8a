package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/reconcile"
	"workday-reconcile/backend/internal/repository"
	pkgerrors "workday-reconcile/backend/pkg/errors"
	"workday-reconcile/backend/pkg/redis"
)

// ── 对账处理模块业务错误 ──

var (
	ErrRowNotFound  = errors.New("对账行不存在")
	ErrItemNotFound = errors.New("待入库条目不存在")
	ErrEmptyBatch   = errors.New("批量操作未指定任何行")
)

// Locker 跨操作员的条目处理锁
type Locker interface {
	ObtainLock(ctx context.Context, targetID string, ttl time.Duration) (*redis.Lock, error)
}

// ResolutionService 人工对账与条目处理。
// 每次提交是一个独立事务，只涉及一行或一个条目；重复提交同一答案是无副作用的成功。
type ResolutionService interface {
	ResolveWithSystemHours(ctx context.Context, rowID, operatorID string) (*model.ReconciliationRow, error)
	ResolveWithSheetHours(ctx context.Context, rowID string, payload *reconcile.SheetPayload, operatorID string) (*model.ReconciliationRow, error)
	BulkResolve(ctx context.Context, req *dto.BulkResolveRequest, operatorID string) (*dto.BulkResultResponse, error)

	// Resolve 实现 reconcile.Resolver，按答案类型分派到重复/请假/补录处理
	Resolve(ctx context.Context, operatorID string, item *model.IngestionItem, d reconcile.Decision) error
}

type resolutionService struct {
	cfg    *config.ReconcileConfig
	repo   *repository.Repository
	locker Locker
	logger *zap.Logger
	now    func() time.Time
}

// NewResolutionService 创建 ResolutionService 实例；locker 为 nil 时只依赖数据库行锁
func NewResolutionService(cfg *config.ReconcileConfig, repo *repository.Repository, locker Locker, logger *zap.Logger) ResolutionService {
	return &resolutionService{
		cfg:    cfg,
		repo:   repo,
		locker: locker,
		logger: logger,
		now:    time.Now,
	}
}

// ────────────────────── 采用系统工时 ──────────────────────

func (s *resolutionService) ResolveWithSystemHours(ctx context.Context, rowID, operatorID string) (*model.ReconciliationRow, error) {
	var out *model.ReconciliationRow
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		row, err := s.lockRow(ctx, tx, rowID)
		if err != nil {
			return err
		}
		out = row

		if row.Status == model.RowStatusOKManual {
			if row.Resolution == model.ResolutionSystem {
				return nil
			}
			return pkgerrors.Conflict("该行已按 %s 人工确认", row.Resolution)
		}

		s.markManual(row, model.ResolutionSystem, operatorID)
		return tx.Row.Update(ctx, row)
	})
	if err != nil {
		return nil, s.rowError(rowID, "采用系统工时失败", err)
	}
	return out, nil
}

// ────────────────────── 采用表格工时 ──────────────────────

func (s *resolutionService) ResolveWithSheetHours(ctx context.Context, rowID string, payload *reconcile.SheetPayload, operatorID string) (*model.ReconciliationRow, error) {
	var out *model.ReconciliationRow
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		row, err := s.lockRow(ctx, tx, rowID)
		if err != nil {
			return err
		}
		out = row

		p := reconcile.SheetPayloadFor(row)
		if payload != nil {
			p = *payload
		}
		for _, f := range reconcile.SheetFields {
			if reconcile.Coerce(p.Hours[f]).IsNegative() {
				return pkgerrors.Validation("工时 %s 为负值", f)
			}
		}
		hours := reconcile.ApplySheetPayload(row.SystemHours, p)

		if row.Status == model.RowStatusOKManual {
			if row.Resolution == model.ResolutionSheet &&
				reconcile.Equal(row.SystemHours, hours) &&
				row.SystemLicenseDay == p.IsLicenseDay {
				return nil
			}
			return pkgerrors.Conflict("该行已按 %s 人工确认", row.Resolution)
		}

		row.SystemHours = hours
		row.SystemLicenseDay = p.IsLicenseDay
		row.HasSystemRecord = true
		s.markManual(row, model.ResolutionSheet, operatorID)
		return tx.Row.Update(ctx, row)
	})
	if err != nil {
		return nil, s.rowError(rowID, "采用表格工时失败", err)
	}
	return out, nil
}

// ────────────────────── 批量 ──────────────────────

// BulkResolve 同一答案作用于多行：按行 ID 去重，每行至多提交一次，
// 失败逐行归因，不影响其他行。
func (s *resolutionService) BulkResolve(ctx context.Context, req *dto.BulkResolveRequest, operatorID string) (*dto.BulkResultResponse, error) {
	type job struct {
		rowID   string
		payload *reconcile.SheetPayload
	}

	var jobs []job
	seen := make(map[string]bool)
	add := func(id string, p *reconcile.SheetPayload) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		jobs = append(jobs, job{rowID: id, payload: p})
	}

	switch req.Source {
	case string(model.ResolutionSystem):
		for _, id := range req.RowIDs {
			add(id, nil)
		}
	case string(model.ResolutionSheet):
		for _, it := range req.Items {
			add(it.RowID, SheetPayloadFromRequest(it.Payload))
		}
		for _, id := range req.RowIDs {
			add(id, nil)
		}
	default:
		return nil, pkgerrors.Validation("未知的来源 %q", req.Source)
	}
	if len(jobs) == 0 {
		return nil, ErrEmptyBatch
	}

	var (
		mu       sync.Mutex
		failures = make(map[string]error)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkLimit())
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			var err error
			if req.Source == string(model.ResolutionSystem) {
				_, err = s.ResolveWithSystemHours(gctx, j.rowID, operatorID)
			} else {
				_, err = s.ResolveWithSheetHours(gctx, j.rowID, j.payload, operatorID)
			}
			if err != nil {
				mu.Lock()
				failures[j.rowID] = err
				mu.Unlock()
			}
			// 单行失败不取消其他行
			return nil
		})
	}
	_ = g.Wait()

	res := &dto.BulkResultResponse{Succeeded: []string{}, Failed: []dto.BulkFailure{}}
	for _, j := range jobs {
		if err, failed := failures[j.rowID]; failed {
			res.Failed = append(res.Failed, dto.BulkFailure{
				RowID:  j.rowID,
				Kind:   ErrorKind(err),
				Reason: err.Error(),
			})
			continue
		}
		res.Succeeded = append(res.Succeeded, j.rowID)
	}

	s.logger.Info("批量人工对账完成",
		zap.String("source", req.Source),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)),
		zap.String("operator_id", operatorID),
	)
	return res, nil
}

func (s *resolutionService) bulkLimit() int {
	if s.cfg == nil || s.cfg.BulkConcurrency <= 0 {
		return 4
	}
	return s.cfg.BulkConcurrency
}

// ────────────────────── 条目处理 ──────────────────────

func (s *resolutionService) Resolve(ctx context.Context, operatorID string, item *model.IngestionItem, d reconcile.Decision) error {
	if item == nil {
		return ErrItemNotFound
	}
	if err := d.Validate(); err != nil {
		return pkgerrors.WithTarget(item.ItemID, err)
	}

	release, err := s.obtainLock(ctx, item.ItemID)
	if err != nil {
		return pkgerrors.WithTarget(item.ItemID, err)
	}
	defer release()

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		fresh, err := tx.Ingestion.GetByIDForUpdate(ctx, item.ItemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrItemNotFound
			}
			return err
		}
		if fresh.Resolved() {
			return pkgerrors.Conflict("条目已被处理")
		}
		if got := reconcile.ResolutionPathFor(fresh); got != d.Path() {
			if d.Path() == reconcile.PathDuplicate && !fresh.HasDuplicate() {
				return pkgerrors.Validation("条目没有重复信息，不能按重复处理")
			}
			return pkgerrors.Conflict("条目处理路径已变为 %s", got)
		}

		switch dec := d.(type) {
		case reconcile.DuplicateDecision:
			return s.resolveDuplicate(ctx, tx, fresh, dec, operatorID)
		case reconcile.LicenseDecision:
			return s.resolveLicense(ctx, tx, fresh, dec, operatorID)
		case reconcile.ReportDecision:
			return s.resolveReport(ctx, tx, fresh, dec, operatorID)
		}
		return pkgerrors.Validation("不支持的答案类型 %T", d)
	})
	if err != nil {
		err = pkgerrors.Translate(err)
		if !isExpected(err) {
			s.logger.Error("条目处理失败", zap.String("item_id", item.ItemID), zap.Error(err))
		}
		return pkgerrors.WithTarget(item.ItemID, err)
	}

	s.logger.Info("条目处理完成",
		zap.String("item_id", item.ItemID),
		zap.String("path", d.Path().String()),
		zap.String("operator_id", operatorID),
	)
	return nil
}

// obtainLock Redis 不可用时降级为仅依赖数据库行锁
func (s *resolutionService) obtainLock(ctx context.Context, itemID string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	lock, err := s.locker.ObtainLock(ctx, itemID, s.lockTTL())
	if errors.Is(err, redis.ErrLockNotObtained) {
		return nil, pkgerrors.Conflict("条目正在被其他操作员处理")
	}
	if err != nil {
		s.logger.Warn("获取处理锁失败，降级为数据库行锁", zap.String("item_id", itemID), zap.Error(err))
		return noop, nil
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil {
			s.logger.Warn("释放处理锁失败", zap.String("item_id", itemID), zap.Error(err))
		}
	}, nil
}

func (s *resolutionService) lockTTL() time.Duration {
	if s.cfg == nil || s.cfg.LockTTL <= 0 {
		return 30 * time.Second
	}
	return s.cfg.LockTTL
}

// ── 重复处理 ──

func (s *resolutionService) resolveDuplicate(ctx context.Context, tx *repository.Repository, item *model.IngestionItem, d reconcile.DuplicateDecision, operatorID string) error {
	existing, err := tx.Ingestion.GetByIDForUpdate(ctx, item.DuplicateInfo.ExistingItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.WithTarget(item.DuplicateInfo.ExistingItemID, ErrItemNotFound)
		}
		return err
	}
	if existing.DeletedAt.Valid {
		return pkgerrors.Conflict("已有记录已被舍弃")
	}

	switch d.Action {
	case reconcile.KeepExisting:
		if err := tx.Ingestion.Discard(ctx, item, operatorID); err != nil {
			return err
		}
		if d.ManualPatch != nil {
			return s.patchExisting(ctx, tx, existing, d.ManualPatch, operatorID)
		}
		return nil

	case reconcile.ApplyNew:
		if err := tx.Ingestion.Discard(ctx, existing, operatorID); err != nil {
			return err
		}
		item.DuplicateInfo = nil
		item.UpdatedBy = &operatorID
		rowID, promoted, err := s.promote(ctx, tx, item, operatorID)
		if err != nil {
			return err
		}
		if promoted {
			s.consume(item, rowID, operatorID)
		} else {
			// 字段不完整时只清除重复信息，条目回到请假/补录路径
			item.Status = model.ItemIncompleto
		}
		return tx.Ingestion.Update(ctx, item)
	}
	return pkgerrors.Validation("未知的重复处理动作 %q", d.Action)
}

// patchExisting 人工修正写入已有记录：已入账的写回对账行，未入账的写回识别字段
func (s *resolutionService) patchExisting(ctx context.Context, tx *repository.Repository, existing *model.IngestionItem, patch *reconcile.ManualPatch, operatorID string) error {
	if existing.RowID == nil || *existing.RowID == "" {
		existing.DetectedFields.Hours = reconcile.HoursToRaw(patch.Hours)
		existing.DetectedFields.IsLicenseDay = patch.IsLicenseDay
		existing.UpdatedBy = &operatorID
		return tx.Ingestion.Update(ctx, existing)
	}

	row, err := s.lockRow(ctx, tx, *existing.RowID)
	if err != nil {
		return err
	}
	if existing.Kind == model.KindHoras {
		setSheetSide(row, patch.Hours, patch.IsLicenseDay)
	} else {
		setSystemSide(row, patch.Hours, patch.IsLicenseDay)
	}
	classifyInto(row)
	row.UpdatedBy = &operatorID
	return tx.Row.Update(ctx, row)
}

// promote 识别字段完整时把条目写入对账行，返回是否已入账
func (s *resolutionService) promote(ctx context.Context, tx *repository.Repository, item *model.IngestionItem, operatorID string) (string, bool, error) {
	f := item.DetectedFields
	if f.DNI == "" {
		return "", false, nil
	}
	switch item.Kind {
	case model.KindLicencia:
		if f.LicenseStart == nil || f.LicenseEnd == nil || f.LicenseEnd.Before(*f.LicenseStart) {
			return "", false, nil
		}
		rowID, err := s.applyLicenseDays(ctx, tx, f.WorkerID, f.DNI, f.WorkerName, *f.LicenseStart, *f.LicenseEnd, item, operatorID)
		return rowID, err == nil, err
	case model.KindParte, model.KindHoras:
		if f.Date == nil {
			return "", false, nil
		}
		row, err := upsertRow(ctx, tx, f.WorkerID, f.DNI, f.WorkerName, *f.Date, operatorID, func(row *model.ReconciliationRow) {
			hours := reconcile.HoursFromRaw(f.Hours)
			if item.Kind == model.KindHoras {
				setSheetSide(row, hours, f.IsLicenseDay)
			} else {
				setSystemSide(row, hours, f.IsLicenseDay)
			}
		})
		if err != nil {
			return "", false, err
		}
		if err := s.attachEvidence(ctx, tx, row.RowID, item); err != nil {
			return "", false, err
		}
		return row.RowID, true, nil
	}
	return "", false, nil
}

// ── 请假处理 ──

func (s *resolutionService) resolveLicense(ctx context.Context, tx *repository.Repository, item *model.IngestionItem, d reconcile.LicenseDecision, operatorID string) error {
	rowID, err := s.applyLicenseDays(ctx, tx, d.WorkerID, d.DNI, d.WorkerName, d.Start, d.End, item, operatorID)
	if err != nil {
		return err
	}

	start, end := d.Start, d.End
	item.DetectedFields.WorkerID = d.WorkerID
	item.DetectedFields.DNI = d.DNI
	item.DetectedFields.WorkerName = d.WorkerName
	item.DetectedFields.LicenseStart = &start
	item.DetectedFields.LicenseEnd = &end
	if d.LicenseType != "" {
		item.DetectedFields.LicenseType = d.LicenseType
	}
	s.consume(item, rowID, operatorID)
	return tx.Ingestion.Update(ctx, item)
}

// applyLicenseDays 区间内每天在系统侧标记请假，缺行时补建；返回第一天的行 ID
func (s *resolutionService) applyLicenseDays(ctx context.Context, tx *repository.Repository, workerID, dni, name string, start, end time.Time, item *model.IngestionItem, operatorID string) (string, error) {
	var first string
	days := reconcile.DaysInRange(start, end)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		row, err := upsertRow(ctx, tx, workerID, dni, name, day, operatorID, func(row *model.ReconciliationRow) {
			row.SystemLicenseDay = true
			row.HasSystemRecord = true
		})
		if err != nil {
			return "", err
		}
		if err := s.attachEvidence(ctx, tx, row.RowID, item); err != nil {
			return "", err
		}
		if first == "" {
			first = row.RowID
		}
	}
	return first, nil
}

// ── 补录处理 ──

func (s *resolutionService) resolveReport(ctx context.Context, tx *repository.Repository, item *model.IngestionItem, d reconcile.ReportDecision, operatorID string) error {
	row, err := upsertRow(ctx, tx, d.WorkerID, d.DNI, d.WorkerName, d.Date, operatorID, func(row *model.ReconciliationRow) {
		if item.Kind == model.KindHoras {
			setSheetSide(row, d.Hours, d.IsLicenseDay)
		} else {
			setSystemSide(row, d.Hours, d.IsLicenseDay)
		}
	})
	if err != nil {
		return err
	}
	if err := s.attachEvidence(ctx, tx, row.RowID, item); err != nil {
		return err
	}

	date := d.Date
	item.DetectedFields.WorkerID = d.WorkerID
	item.DetectedFields.DNI = d.DNI
	item.DetectedFields.WorkerName = d.WorkerName
	item.DetectedFields.Date = &date
	item.DetectedFields.Hours = reconcile.HoursToRaw(d.Hours)
	item.DetectedFields.IsLicenseDay = d.IsLicenseDay
	if d.DocumentNumber != "" {
		item.DetectedFields.DocumentNumber = d.DocumentNumber
	}
	s.consume(item, row.RowID, operatorID)
	return tx.Ingestion.Update(ctx, item)
}

// ── 共用 ──

func (s *resolutionService) attachEvidence(ctx context.Context, tx *repository.Repository, rowID string, item *model.IngestionItem) error {
	if item.DetectedFields.FileURL == "" {
		return nil
	}
	return tx.Row.AddEvidence(ctx, &model.Evidence{
		RowID:    rowID,
		Type:     model.EvidenceType(item.Kind),
		URL:      item.DetectedFields.FileURL,
		FileName: item.DetectedFields.FileName,
	})
}

func (s *resolutionService) consume(item *model.IngestionItem, rowID, operatorID string) {
	now := s.now()
	item.Status = model.ItemOK
	item.ResolvedAt = &now
	item.ResolvedBy = &operatorID
	item.UpdatedBy = &operatorID
	item.DuplicateInfo = nil
	if rowID != "" {
		item.RowID = &rowID
	}
}

func (s *resolutionService) lockRow(ctx context.Context, tx *repository.Repository, rowID string) (*model.ReconciliationRow, error) {
	row, err := tx.Row.GetByIDForUpdate(ctx, rowID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRowNotFound
		}
		return nil, err
	}
	return row, nil
}

func (s *resolutionService) markManual(row *model.ReconciliationRow, res model.Resolution, operatorID string) {
	now := s.now()
	row.Status = model.RowStatusOKManual
	row.Resolution = res
	row.ResolvedBy = &operatorID
	row.ResolvedAt = &now
	row.UpdatedBy = &operatorID
	appendObservation(row, now, operatorID, resolutionNote(res))
}

func resolutionNote(res model.Resolution) string {
	if res == model.ResolutionSheet {
		return "人工确认：采用表格工时"
	}
	return "人工确认：采用系统工时"
}

func (s *resolutionService) rowError(rowID, msg string, err error) error {
	err = pkgerrors.Translate(err)
	if !isExpected(err) {
		s.logger.Error(msg, zap.String("row_id", rowID), zap.Error(err))
	}
	return pkgerrors.WithTarget(rowID, err)
}

// SheetPayloadFromRequest 请求中的表格工时转换为提交内容；nil 表示取行的表格侧
func SheetPayloadFromRequest(req *dto.SheetPayloadRequest) *reconcile.SheetPayload {
	if req == nil {
		return nil
	}
	p := &reconcile.SheetPayload{
		Hours:        make(map[model.HourField]decimal.Decimal, len(reconcile.SheetFields)),
		IsLicenseDay: req.IsLicenseDay,
	}
	for _, f := range reconcile.SheetFields {
		p.Hours[f] = reconcile.Coerce(req.Hours[string(f)])
	}
	return p
}
