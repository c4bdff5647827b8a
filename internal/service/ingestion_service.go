package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/reconcile"
	"workday-reconcile/backend/internal/repository"
	pkgerrors "workday-reconcile/backend/pkg/errors"
)

// ErrNothingToResolve 条目不需要人工处理
var ErrNothingToResolve = errors.New("该条目无需处理")

// IngestionService 待入库条目查询、重复检测与直接处理
type IngestionService interface {
	List(ctx context.Context, req *dto.ItemListRequest) ([]dto.ItemResponse, int64, error)
	Get(ctx context.Context, id string) (*dto.ItemResponse, error)
	DetectDuplicates(ctx context.Context, operatorID string) (*dto.DetectDuplicatesResponse, error)
	Resolve(ctx context.Context, id string, req *dto.DecisionRequest, operatorID string) (*dto.ItemResponse, error)
	// Pending 按创建时间取出未处理条目，供辅助修正会话使用
	Pending(ctx context.Context, filter repository.IngestionFilter, limit int) ([]model.IngestionItem, error)
}

type ingestionService struct {
	repo     *repository.Repository
	resolver reconcile.Resolver
	logger   *zap.Logger
}

// NewIngestionService 创建 IngestionService 实例
func NewIngestionService(repo *repository.Repository, resolver reconcile.Resolver, logger *zap.Logger) IngestionService {
	return &ingestionService{repo: repo, resolver: resolver, logger: logger}
}

// ────────────────────── List / Get ──────────────────────

func (s *ingestionService) List(ctx context.Context, req *dto.ItemListRequest) ([]dto.ItemResponse, int64, error) {
	from, err := parseDate(req.From)
	if err != nil {
		return nil, 0, err
	}
	to, err := parseDate(req.To)
	if err != nil {
		return nil, 0, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, 0, pkgerrors.Validation("结束日期早于开始日期")
	}
	filter := repository.IngestionFilter{
		Kind:           model.ItemKind(req.Kind),
		Status:         model.ItemStatus(req.Status),
		OnlyUnresolved: req.Unresolved,
		OnlyDuplicates: req.Duplicates,
		From:           from,
		To:             to,
		Search:         strings.TrimSpace(req.Search),
	}
	items, total, err := s.repo.Ingestion.List(ctx, filter, req.GetOffset(), req.GetLimit())
	if err != nil {
		s.logger.Error("查询待入库条目失败", zap.Error(err))
		return nil, 0, pkgerrors.Translate(err)
	}

	list := make([]dto.ItemResponse, 0, len(items))
	for i := range items {
		list = append(list, toItemResponse(&items[i]))
	}
	return list, total, nil
}

func (s *ingestionService) Get(ctx context.Context, id string) (*dto.ItemResponse, error) {
	item, err := s.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toItemResponse(item)
	return &resp, nil
}

func (s *ingestionService) Pending(ctx context.Context, filter repository.IngestionFilter, limit int) ([]model.IngestionItem, error) {
	filter.OnlyUnresolved = true
	items, _, err := s.repo.Ingestion.List(ctx, filter, 0, limit)
	if err != nil {
		s.logger.Error("查询待处理条目失败", zap.Error(err))
		return nil, pkgerrors.Translate(err)
	}
	return items, nil
}

func (s *ingestionService) getItem(ctx context.Context, id string) (*model.IngestionItem, error) {
	item, err := s.repo.Ingestion.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.WithTarget(id, ErrItemNotFound)
		}
		s.logger.Error("查询待入库条目失败", zap.String("item_id", id), zap.Error(err))
		return nil, pkgerrors.WithTarget(id, pkgerrors.Translate(err))
	}
	return item, nil
}

// ────────────────────── DetectDuplicates ──────────────────────

// DetectDuplicates 对全部未舍弃条目做重复检测。
// 每个簇中最早创建的条目视为已有记录，其余未处理成员附上重复信息并标为 duplicado；
// 已带重复信息的条目保持不变。
func (s *ingestionService) DetectDuplicates(ctx context.Context, operatorID string) (*dto.DetectDuplicatesResponse, error) {
	items, _, err := s.repo.Ingestion.List(ctx, repository.IngestionFilter{}, 0, 0)
	if err != nil {
		s.logger.Error("查询待入库条目失败", zap.Error(err))
		return nil, pkgerrors.Translate(err)
	}

	byID := make(map[string]*model.IngestionItem, len(items))
	cands := make([]reconcile.Candidate, 0, len(items))
	for i := range items {
		byID[items[i].ItemID] = &items[i]
		cands = append(cands, reconcile.CandidateFromItem(&items[i]))
	}
	res := reconcile.DetectDuplicates(cands)

	resp := &dto.DetectDuplicatesResponse{
		Scanned:  len(items),
		Flagged:  res.Flagged,
		Clusters: res.Clusters,
	}
	if resp.Flagged == nil {
		resp.Flagged = []string{}
	}
	if resp.Clusters == nil {
		resp.Clusters = [][]string{}
	}

	for _, cluster := range res.Clusters {
		members := make([]*model.IngestionItem, 0, len(cluster))
		for _, id := range cluster {
			members = append(members, byID[id])
		}
		sort.SliceStable(members, func(a, b int) bool {
			if !members[a].CreatedAt.Equal(members[b].CreatedAt) {
				return members[a].CreatedAt.Before(members[b].CreatedAt)
			}
			return members[a].ItemID < members[b].ItemID
		})

		existing := members[0]
		for _, m := range members[1:] {
			if m.Resolved() || m.HasDuplicate() {
				continue
			}
			m.DuplicateInfo = &model.DuplicateInfo{
				ExistingItemID: existing.ItemID,
				ExistingSide:   existing.DetectedFields,
				NewSide:        m.DetectedFields,
				Message:        duplicateMessage(existing, m),
			}
			m.Status = model.ItemDuplicado
			m.UpdatedBy = nilIfEmpty(operatorID)
			if err := s.repo.Ingestion.Update(ctx, m); err != nil {
				s.logger.Warn("写入重复信息失败", zap.String("item_id", m.ItemID), zap.Error(err))
				continue
			}
			resp.Attached++
		}
	}

	s.logger.Info("重复检测完成",
		zap.Int("scanned", resp.Scanned),
		zap.Int("flagged", len(resp.Flagged)),
		zap.Int("attached", resp.Attached),
	)
	return resp, nil
}

func duplicateMessage(existing, m *model.IngestionItem) string {
	a, b := existing.DetectedFields, m.DetectedFields
	if a.DocumentNumber != "" && b.DocumentNumber != "" && documentEqual(a.DocumentNumber, b.DocumentNumber) {
		return fmt.Sprintf("单号 %s 与已有条目相同", b.DocumentNumber)
	}
	return "金额与日期与已有条目相同"
}

func documentEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ────────────────────── Resolve ──────────────────────

// Resolve 不经会话直接处理单个条目
func (s *ingestionService) Resolve(ctx context.Context, id string, req *dto.DecisionRequest, operatorID string) (*dto.ItemResponse, error) {
	item, err := s.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Resolved() {
		return nil, pkgerrors.WithTarget(id, pkgerrors.Conflict("条目已被处理"))
	}
	path := reconcile.ResolutionPathFor(item)
	if path == reconcile.PathNone {
		return nil, pkgerrors.WithTarget(id, ErrNothingToResolve)
	}

	d, err := DecisionFromRequest(path, item, req)
	if err != nil {
		return nil, pkgerrors.WithTarget(id, err)
	}
	if err := s.resolver.Resolve(ctx, operatorID, item, d); err != nil {
		return nil, err
	}

	fresh, err := s.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toItemResponse(fresh)
	return &resp, nil
}

// DecisionFromRequest 按处理路径把请求转为答案；请求未给的字段取自识别结果
func DecisionFromRequest(path reconcile.PathTag, item *model.IngestionItem, req *dto.DecisionRequest) (reconcile.Decision, error) {
	f := item.DetectedFields
	pick := func(v, fallback string) string {
		if v != "" {
			return v
		}
		return fallback
	}

	switch path {
	case reconcile.PathDuplicate:
		d := reconcile.DuplicateDecision{Action: reconcile.DuplicateAction(req.Action)}
		if req.ManualPatch != nil {
			d.ManualPatch = &reconcile.ManualPatch{
				Hours:        req.ManualPatch.Hours,
				IsLicenseDay: req.ManualPatch.IsLicenseDay,
			}
		}
		return d, nil

	case reconcile.PathLicense:
		start, err := dateOr(req.Start, f.LicenseStart)
		if err != nil {
			return nil, err
		}
		end, err := dateOr(req.End, f.LicenseEnd)
		if err != nil {
			return nil, err
		}
		return reconcile.LicenseDecision{
			WorkerID:    pick(req.WorkerID, f.WorkerID),
			DNI:         pick(req.DNI, f.DNI),
			WorkerName:  pick(req.WorkerName, f.WorkerName),
			Start:       start,
			End:         end,
			LicenseType: pick(req.LicenseType, f.LicenseType),
		}, nil

	case reconcile.PathReport:
		date, err := dateOr(req.Date, f.Date)
		if err != nil {
			return nil, err
		}
		raw := req.Hours
		if raw == nil {
			raw = f.Hours
		}
		return reconcile.ReportDecision{
			WorkerID:       pick(req.WorkerID, f.WorkerID),
			DNI:            pick(req.DNI, f.DNI),
			WorkerName:     pick(req.WorkerName, f.WorkerName),
			Date:           date,
			Hours:          reconcile.HoursFromRaw(raw),
			IsLicenseDay:   req.IsLicenseDay || (req.Hours == nil && f.IsLicenseDay),
			DocumentNumber: pick(req.DocumentNumber, f.DocumentNumber),
		}, nil
	}
	return nil, ErrNothingToResolve
}

func dateOr(s string, fallback *time.Time) (time.Time, error) {
	t, err := parseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	if t != nil {
		return *t, nil
	}
	if fallback != nil {
		return dayOf(*fallback), nil
	}
	return time.Time{}, nil
}
