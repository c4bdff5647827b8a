package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/repository"
	pkgerrors "workday-reconcile/backend/pkg/errors"
)

// ReconciliationService 对账行查询、人工修改与重新判定
type ReconciliationService interface {
	List(ctx context.Context, req *dto.RowListRequest) ([]dto.RowResponse, int64, error)
	Get(ctx context.Context, id string) (*dto.RowResponse, error)
	Update(ctx context.Context, id string, req *dto.UpdateRowRequest, operatorID string) (*dto.RowResponse, error)
	Reclassify(ctx context.Context, req *dto.ReclassifyRequest, operatorID string) (*dto.ReclassifyResponse, error)
	Summary(ctx context.Context, req *dto.RowListRequest) (*dto.SummaryResponse, error)
}

type reconciliationService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewReconciliationService 创建 ReconciliationService 实例
func NewReconciliationService(repo *repository.Repository, logger *zap.Logger) ReconciliationService {
	return &reconciliationService{repo: repo, logger: logger}
}

// RowFilterFromRequest 列表请求转为存储层过滤条件
func RowFilterFromRequest(req *dto.RowListRequest) (repository.RowFilter, error) {
	f := repository.RowFilter{
		WorkerID: req.WorkerID,
		DNI:      req.DNI,
		Search:   strings.TrimSpace(req.Search),
		Sort:     req.Sort,
	}
	if req.Status != "" {
		for _, s := range strings.Split(req.Status, ",") {
			st := model.RowStatus(strings.TrimSpace(s))
			if !st.Valid() {
				return f, pkgerrors.Validation("未知的状态 %q", s)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	var err error
	if f.From, err = parseDate(req.From); err != nil {
		return f, err
	}
	if f.To, err = parseDate(req.To); err != nil {
		return f, err
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, pkgerrors.Validation("结束日期早于开始日期")
	}
	return f, nil
}

// ────────────────────── List ──────────────────────

func (s *reconciliationService) List(ctx context.Context, req *dto.RowListRequest) ([]dto.RowResponse, int64, error) {
	filter, err := RowFilterFromRequest(req)
	if err != nil {
		return nil, 0, err
	}

	rows, total, err := s.repo.Row.List(ctx, filter, req.GetOffset(), req.GetLimit())
	if err != nil {
		s.logger.Error("查询对账行失败", zap.Error(err))
		return nil, 0, pkgerrors.Translate(err)
	}

	list := make([]dto.RowResponse, 0, len(rows))
	for i := range rows {
		list = append(list, toRowResponse(&rows[i]))
	}
	return list, total, nil
}

// ────────────────────── Get ──────────────────────

func (s *reconciliationService) Get(ctx context.Context, id string) (*dto.RowResponse, error) {
	row, err := s.repo.Row.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRowNotFound
		}
		s.logger.Error("查询对账行失败", zap.String("row_id", id), zap.Error(err))
		return nil, pkgerrors.Translate(err)
	}
	resp := toRowResponse(row)
	return &resp, nil
}

// ────────────────────── Update ──────────────────────

// Update 人工修改系统侧工时/请假标记并追加备注，受 version 乐观锁保护。
// 状态只能撤销为 pending；人工确认必须经 ResolutionService。
func (s *reconciliationService) Update(ctx context.Context, id string, req *dto.UpdateRowRequest, operatorID string) (*dto.RowResponse, error) {
	reopen := false
	if req.Status != nil {
		if model.RowStatus(*req.Status) != model.RowStatusPending {
			return nil, pkgerrors.WithTarget(id, pkgerrors.Validation("状态只能改为 pending，人工确认请使用对账处理"))
		}
		reopen = true
	}
	if req.Hours != nil {
		for _, f := range model.HourFields {
			if req.Hours.Get(f).IsNegative() {
				return nil, pkgerrors.WithTarget(id, pkgerrors.Validation("工时 %s 为负值", f))
			}
		}
	}

	var out *model.ReconciliationRow
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		row, err := tx.Row.GetByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRowNotFound
			}
			return err
		}
		if row.Version != req.Version {
			return pkgerrors.ErrOptimisticLock
		}

		manual := row.Status == model.RowStatusOKManual
		if manual && !reopen && (req.Hours != nil || req.IsLicenseDay != nil) {
			return pkgerrors.Conflict("该行已按 %s 人工确认，修改工时前需先撤销", row.Resolution)
		}

		now := time.Now()
		if reopen && manual {
			row.Status = model.RowStatusPending
			row.Resolution = model.ResolutionNone
			row.ResolvedBy = nil
			row.ResolvedAt = nil
			appendObservation(row, now, operatorID, "撤销人工确认")
		}
		if req.Hours != nil {
			row.SystemHours = *req.Hours
			row.HasSystemRecord = true
		}
		if req.IsLicenseDay != nil {
			row.SystemLicenseDay = *req.IsLicenseDay
			row.HasSystemRecord = true
		}
		if req.Observation != nil {
			appendObservation(row, now, operatorID, *req.Observation)
		}
		classifyInto(row)
		row.UpdatedBy = &operatorID

		out = row
		return tx.Row.Update(ctx, row)
	})
	if err != nil {
		err = pkgerrors.Translate(err)
		if !isExpected(err) {
			s.logger.Error("修改对账行失败", zap.String("row_id", id), zap.Error(err))
		}
		return nil, pkgerrors.WithTarget(id, err)
	}

	resp := toRowResponse(out)
	return &resp, nil
}

// ────────────────────── Reclassify ──────────────────────

// Reclassify 重新判定区间内的行；默认跳过终态行。逐行提交，冲突只计数不中断。
func (s *reconciliationService) Reclassify(ctx context.Context, req *dto.ReclassifyRequest, operatorID string) (*dto.ReclassifyResponse, error) {
	filter, err := RowFilterFromRequest(&dto.RowListRequest{From: req.From, To: req.To})
	if err != nil {
		return nil, err
	}
	if !req.All {
		filter.Statuses = []model.RowStatus{
			model.RowStatusPending, model.RowStatusIncomplete,
			model.RowStatusWarning, model.RowStatusError,
		}
	}

	rows, _, err := s.repo.Row.List(ctx, filter, 0, 0)
	if err != nil {
		s.logger.Error("查询对账行失败", zap.Error(err))
		return nil, pkgerrors.Translate(err)
	}

	resp := &dto.ReclassifyResponse{Scanned: len(rows)}
	for i := range rows {
		row := &rows[i]
		if !classifyInto(row) {
			continue
		}
		row.UpdatedBy = nilIfEmpty(operatorID)
		if err := s.repo.Row.Update(ctx, row); err != nil {
			resp.Failed++
			s.logger.Warn("重新判定写回失败", zap.String("row_id", row.RowID), zap.Error(err))
			continue
		}
		resp.Changed++
	}

	s.logger.Info("重新判定完成",
		zap.Int("scanned", resp.Scanned),
		zap.Int("changed", resp.Changed),
		zap.Int("failed", resp.Failed),
	)
	return resp, nil
}

// ────────────────────── Summary ──────────────────────

func (s *reconciliationService) Summary(ctx context.Context, req *dto.RowListRequest) (*dto.SummaryResponse, error) {
	filter, err := RowFilterFromRequest(req)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.Row.CountByStatus(ctx, filter)
	if err != nil {
		s.logger.Error("统计对账行失败", zap.Error(err))
		return nil, pkgerrors.Translate(err)
	}

	resp := &dto.SummaryResponse{ByStatus: make(map[string]int64, len(counts))}
	for st, n := range counts {
		resp.ByStatus[string(st)] = n
		resp.Total += n
	}
	return resp, nil
}
