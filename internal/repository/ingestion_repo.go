package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"workday-reconcile/backend/internal/model"
	pkgerrors "workday-reconcile/backend/pkg/errors"
)

// IngestionFilter 待入库条目查询条件
type IngestionFilter struct {
	Kind           model.ItemKind
	Status         model.ItemStatus
	OnlyUnresolved bool
	OnlyDuplicates bool
	From           *time.Time // created_at 下界（含）
	To             *time.Time // created_at 上界（不含当天之后）
	Search         string     // 文档编号 / DNI / 姓名模糊匹配
}

// IngestionRepository 待入库条目数据访问接口
type IngestionRepository interface {
	Create(ctx context.Context, item *model.IngestionItem) error
	// GetByID 包含已软删除的条目，调用方据此识别“已被处理”
	GetByID(ctx context.Context, id string) (*model.IngestionItem, error)
	GetByIDForUpdate(ctx context.Context, id string) (*model.IngestionItem, error)
	List(ctx context.Context, filter IngestionFilter, offset, limit int) ([]model.IngestionItem, int64, error)
	Update(ctx context.Context, item *model.IngestionItem) error
	Discard(ctx context.Context, item *model.IngestionItem, deletedBy string) error
}

type ingestionRepo struct {
	db *gorm.DB
}

// NewIngestionRepo 创建 IngestionRepository 实例
func NewIngestionRepo(db *gorm.DB) IngestionRepository {
	return &ingestionRepo{db: db}
}

func (r *ingestionRepo) Create(ctx context.Context, item *model.IngestionItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *ingestionRepo) GetByID(ctx context.Context, id string) (*model.IngestionItem, error) {
	var item model.IngestionItem
	err := r.db.WithContext(ctx).
		Unscoped().
		Where("item_id = ?", id).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetByIDForUpdate 行级锁读取，必须在事务内调用
func (r *ingestionRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.IngestionItem, error) {
	var item model.IngestionItem
	err := r.db.WithContext(ctx).
		Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("item_id = ?", id).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// List 按创建时间正序，limit <= 0 时不分页
func (r *ingestionRepo) List(ctx context.Context, filter IngestionFilter, offset, limit int) ([]model.IngestionItem, int64, error) {
	var items []model.IngestionItem
	var total int64

	db := r.db.WithContext(ctx).Model(&model.IngestionItem{})
	if filter.Kind != "" {
		db = db.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.OnlyUnresolved {
		db = db.Where("resolved_at IS NULL")
	}
	if filter.OnlyDuplicates {
		db = db.Where("duplicate_info IS NOT NULL")
	}
	if filter.From != nil {
		db = db.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		db = db.Where("created_at < ?", filter.To.AddDate(0, 0, 1))
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		db = db.Where(
			"detected_fields->>'document_number' ILIKE ? OR detected_fields->>'dni' ILIKE ? OR detected_fields->>'worker_name' ILIKE ?",
			like, like, like,
		)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := db.Order("created_at ASC, item_id ASC")
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update 乐观锁更新
func (r *ingestionRepo) Update(ctx context.Context, item *model.IngestionItem) error {
	oldVersion := item.Version
	result := r.db.WithContext(ctx).
		Model(&model.IngestionItem{}).
		Where("item_id = ? AND version = ?", item.ItemID, oldVersion).
		Updates(map[string]interface{}{
			"status":          item.Status,
			"detected_fields": item.DetectedFields,
			"duplicate_info":  item.DuplicateInfo,
			"row_id":          item.RowID,
			"resolved_at":     item.ResolvedAt,
			"resolved_by":     item.ResolvedBy,
			"updated_by":      item.UpdatedBy,
			"version":         oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	item.Version = oldVersion + 1
	return nil
}

// Discard 软删除被舍弃的条目，同样受乐观锁保护
func (r *ingestionRepo) Discard(ctx context.Context, item *model.IngestionItem, deletedBy string) error {
	oldVersion := item.Version
	now := time.Now()
	var by *string
	if deletedBy != "" {
		by = &deletedBy
	}
	result := r.db.WithContext(ctx).
		Model(&model.IngestionItem{}).
		Where("item_id = ? AND version = ?", item.ItemID, oldVersion).
		Updates(map[string]interface{}{
			"deleted_by": by,
			"deleted_at": now,
			"version":    oldVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	item.Version = oldVersion + 1
	item.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
	item.DeletedBy = &deletedBy
	return nil
}
