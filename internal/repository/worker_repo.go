package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"workday-reconcile/backend/internal/model"
)

// WorkerRepository 工人目录数据访问接口
type WorkerRepository interface {
	GetByID(ctx context.Context, id string) (*model.Worker, error)
	GetByDNI(ctx context.Context, dni string) (*model.Worker, error)
	Upsert(ctx context.Context, worker *model.Worker) error
}

type workerRepo struct {
	db *gorm.DB
}

// NewWorkerRepo 创建 WorkerRepository 实例
func NewWorkerRepo(db *gorm.DB) WorkerRepository {
	return &workerRepo{db: db}
}

func (r *workerRepo) GetByID(ctx context.Context, id string) (*model.Worker, error) {
	var w model.Worker
	if err := r.db.WithContext(ctx).Where("worker_id = ?", id).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *workerRepo) GetByDNI(ctx context.Context, dni string) (*model.Worker, error) {
	var w model.Worker
	if err := r.db.WithContext(ctx).Where("dni = ?", dni).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// Upsert 按 worker_id 插入或更新姓名与 DNI
func (r *workerRepo) Upsert(ctx context.Context, worker *model.Worker) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "worker_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"dni", "name", "updated_at"}),
		}).
		Create(worker).Error
}
