package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"workday-reconcile/backend/internal/model"
	pkgerrors "workday-reconcile/backend/pkg/errors"
)

// RowFilter 对账行查询条件，零值字段不参与过滤
type RowFilter struct {
	Statuses []model.RowStatus
	WorkerID string
	DNI      string
	From     *time.Time
	To       *time.Time
	Search   string // 姓名或 DNI 模糊匹配
	Sort     string // work_date | worker_name | status，前缀 - 表示倒序
}

// RowRepository 对账行数据访问接口
type RowRepository interface {
	Create(ctx context.Context, row *model.ReconciliationRow) error
	GetByID(ctx context.Context, id string) (*model.ReconciliationRow, error)
	GetByIDForUpdate(ctx context.Context, id string) (*model.ReconciliationRow, error)
	GetByDNIDate(ctx context.Context, dni string, date time.Time) (*model.ReconciliationRow, error)
	List(ctx context.Context, filter RowFilter, offset, limit int) ([]model.ReconciliationRow, int64, error)
	CountByStatus(ctx context.Context, filter RowFilter) (map[model.RowStatus]int64, error)
	Update(ctx context.Context, row *model.ReconciliationRow) error
	AddEvidence(ctx context.Context, ev *model.Evidence) error
}

type rowRepo struct {
	db *gorm.DB
}

// NewRowRepo 创建 RowRepository 实例
func NewRowRepo(db *gorm.DB) RowRepository {
	return &rowRepo{db: db}
}

func (r *rowRepo) Create(ctx context.Context, row *model.ReconciliationRow) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *rowRepo) GetByID(ctx context.Context, id string) (*model.ReconciliationRow, error) {
	var row model.ReconciliationRow
	err := r.db.WithContext(ctx).
		Preload("Evidence").
		Where("row_id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetByIDForUpdate 行级锁读取，必须在事务内调用
func (r *rowRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.ReconciliationRow, error) {
	var row model.ReconciliationRow
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("row_id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *rowRepo) GetByDNIDate(ctx context.Context, dni string, date time.Time) (*model.ReconciliationRow, error) {
	var row model.ReconciliationRow
	err := r.db.WithContext(ctx).
		Where("dni = ? AND work_date = ?", dni, date.Format("2006-01-02")).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *rowRepo) applyFilter(db *gorm.DB, f RowFilter) *gorm.DB {
	if len(f.Statuses) > 0 {
		db = db.Where("status IN ?", f.Statuses)
	}
	if f.WorkerID != "" {
		db = db.Where("worker_id = ?", f.WorkerID)
	}
	if f.DNI != "" {
		db = db.Where("dni = ?", f.DNI)
	}
	if f.From != nil {
		db = db.Where("work_date >= ?", f.From.Format("2006-01-02"))
	}
	if f.To != nil {
		db = db.Where("work_date <= ?", f.To.Format("2006-01-02"))
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		db = db.Where("(worker_name ILIKE ? OR dni ILIKE ?)", like, like)
	}
	return db
}

var rowSortColumns = map[string]string{
	"work_date":   "work_date",
	"worker_name": "worker_name",
	"status":      "status",
}

func rowOrder(sort string) string {
	desc := false
	if len(sort) > 0 && sort[0] == '-' {
		desc, sort = true, sort[1:]
	}
	col, ok := rowSortColumns[sort]
	if !ok {
		return "work_date DESC, worker_name ASC"
	}
	if desc {
		return col + " DESC, row_id ASC"
	}
	return col + " ASC, row_id ASC"
}

// List limit <= 0 时不分页（导出用）
func (r *rowRepo) List(ctx context.Context, filter RowFilter, offset, limit int) ([]model.ReconciliationRow, int64, error) {
	var rows []model.ReconciliationRow
	var total int64

	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.ReconciliationRow{}), filter)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := db.Order(rowOrder(filter.Sort))
	if limit > 0 {
		q = q.Offset(offset).Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *rowRepo) CountByStatus(ctx context.Context, filter RowFilter) (map[model.RowStatus]int64, error) {
	var counts []struct {
		Status model.RowStatus
		Count  int64
	}
	db := r.applyFilter(r.db.WithContext(ctx).Model(&model.ReconciliationRow{}), filter)
	if err := db.Select("status, COUNT(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	out := make(map[model.RowStatus]int64, len(counts))
	for _, c := range counts {
		out[c.Status] = c.Count
	}
	return out, nil
}

// hourColumns 把 HourSet 展开成带前缀的列更新
func hourColumns(prefix string, h model.HourSet, into map[string]interface{}) {
	for _, f := range model.HourFields {
		into[prefix+string(f)] = h.Get(f)
	}
}

// Update 乐观锁更新整行可变字段
func (r *rowRepo) Update(ctx context.Context, row *model.ReconciliationRow) error {
	oldVersion := row.Version
	updates := map[string]interface{}{
		"worker_id":          row.WorkerID,
		"worker_name":        row.WorkerName,
		"system_license_day": row.SystemLicenseDay,
		"has_system_record":  row.HasSystemRecord,
		"sheet_license_day":  row.SheetLicenseDay,
		"has_sheet_record":   row.HasSheetRecord,
		"status":             row.Status,
		"observation":        row.Observation,
		"resolution":         row.Resolution,
		"resolved_by":        row.ResolvedBy,
		"resolved_at":        row.ResolvedAt,
		"updated_by":         row.UpdatedBy,
		"version":            oldVersion + 1,
	}
	hourColumns("system_", row.SystemHours, updates)
	hourColumns("sheet_", row.SheetHours, updates)

	result := r.db.WithContext(ctx).
		Model(&model.ReconciliationRow{}).
		Where("row_id = ? AND version = ?", row.RowID, oldVersion).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	row.Version = oldVersion + 1
	return nil
}

func (r *rowRepo) AddEvidence(ctx context.Context, ev *model.Evidence) error {
	return r.db.WithContext(ctx).Create(ev).Error
}
