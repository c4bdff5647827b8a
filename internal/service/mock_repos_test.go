package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/repository"
	pkgerrors "workday-reconcile/backend/pkg/errors"
	"workday-reconcile/backend/pkg/redis"
)

// 所有 mock 都以副本读写，行为接近真实存储：调用方修改返回值不影响已保存的数据，
// Update/Discard 按 version 做乐观锁检查。

// ── Mock RowRepository ──

type mockRowRepo struct {
	mu   sync.Mutex
	rows map[string]*model.ReconciliationRow
	seq  int
	err  error // 非 nil 时所有读操作返回该错误，模拟存储故障
}

func newMockRowRepo() *mockRowRepo {
	return &mockRowRepo{rows: make(map[string]*model.ReconciliationRow)}
}

func cloneRow(r *model.ReconciliationRow) *model.ReconciliationRow {
	c := *r
	c.Evidence = append([]model.Evidence(nil), r.Evidence...)
	return &c
}

func (m *mockRowRepo) Create(_ context.Context, row *model.ReconciliationRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.RowID == "" {
		m.seq++
		row.RowID = fmt.Sprintf("row-%d", m.seq)
	}
	if row.Version == 0 {
		row.Version = 1
	}
	m.rows[row.RowID] = cloneRow(row)
	return nil
}

func (m *mockRowRepo) GetByID(_ context.Context, id string) (*model.ReconciliationRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.rows[id]; ok {
		return cloneRow(r), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockRowRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.ReconciliationRow, error) {
	return m.GetByID(ctx, id)
}

func (m *mockRowRepo) GetByDNIDate(_ context.Context, dni string, date time.Time) (*model.ReconciliationRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, r := range m.rows {
		if r.DNI == dni && r.WorkDate.Equal(dayOf(date)) {
			return cloneRow(r), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockRowRepo) match(r *model.ReconciliationRow, f repository.RowFilter) bool {
	if len(f.Statuses) > 0 {
		hit := false
		for _, st := range f.Statuses {
			if r.Status == st {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if f.WorkerID != "" && r.WorkerID != f.WorkerID {
		return false
	}
	if f.DNI != "" && r.DNI != f.DNI {
		return false
	}
	if f.From != nil && r.WorkDate.Before(*f.From) {
		return false
	}
	if f.To != nil && r.WorkDate.After(*f.To) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(r.WorkerName), q) &&
			!strings.Contains(r.DNI, q) && !strings.Contains(strings.ToLower(r.WorkerID), q) {
			return false
		}
	}
	return true
}

func (m *mockRowRepo) List(_ context.Context, filter repository.RowFilter, offset, limit int) ([]model.ReconciliationRow, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var out []model.ReconciliationRow
	for _, r := range m.rows {
		if m.match(r, filter) {
			out = append(out, *cloneRow(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WorkDate.Equal(out[j].WorkDate) {
			return out[i].WorkDate.Before(out[j].WorkDate)
		}
		return out[i].RowID < out[j].RowID
	})
	total := int64(len(out))
	if limit > 0 {
		if offset > len(out) {
			offset = len(out)
		}
		end := offset + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[offset:end]
	}
	return out, total, nil
}

func (m *mockRowRepo) CountByStatus(_ context.Context, filter repository.RowFilter) (map[model.RowStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	counts := make(map[model.RowStatus]int64)
	for _, r := range m.rows {
		if m.match(r, filter) {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (m *mockRowRepo) Update(_ context.Context, row *model.ReconciliationRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[row.RowID]
	if !ok || stored.Version != row.Version {
		return pkgerrors.ErrOptimisticLock
	}
	row.Version++
	c := cloneRow(row)
	c.Evidence = stored.Evidence
	m.rows[row.RowID] = c
	return nil
}

func (m *mockRowRepo) AddEvidence(_ context.Context, ev *model.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[ev.RowID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.Evidence = append(stored.Evidence, *ev)
	return nil
}

// get 测试断言用，直接读取已保存的数据
func (m *mockRowRepo) get(id string) *model.ReconciliationRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		return cloneRow(r)
	}
	return nil
}

func (m *mockRowRepo) findByDNIDate(dni string, day time.Time) *model.ReconciliationRow {
	r, err := m.GetByDNIDate(context.Background(), dni, day)
	if err != nil {
		return nil
	}
	return r
}

func (m *mockRowRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// ── Mock IngestionRepository ──

type mockIngestionRepo struct {
	mu    sync.Mutex
	items map[string]*model.IngestionItem
}

func newMockIngestionRepo() *mockIngestionRepo {
	return &mockIngestionRepo{items: make(map[string]*model.IngestionItem)}
}

func cloneItem(i *model.IngestionItem) *model.IngestionItem {
	c := *i
	return &c
}

func (m *mockIngestionRepo) Create(_ context.Context, item *model.IngestionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ItemID == "" {
		item.ItemID = fmt.Sprintf("item-%d", len(m.items)+1)
	}
	if item.Version == 0 {
		item.Version = 1
	}
	m.items[item.ItemID] = cloneItem(item)
	return nil
}

func (m *mockIngestionRepo) GetByID(_ context.Context, id string) (*model.IngestionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.items[id]; ok {
		return cloneItem(i), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockIngestionRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.IngestionItem, error) {
	return m.GetByID(ctx, id)
}

func (m *mockIngestionRepo) List(_ context.Context, filter repository.IngestionFilter, offset, limit int) ([]model.IngestionItem, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.IngestionItem
	for _, i := range m.items {
		if i.DeletedAt.Valid {
			continue
		}
		if filter.Kind != "" && i.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && i.Status != filter.Status {
			continue
		}
		if filter.OnlyUnresolved && i.ResolvedAt != nil {
			continue
		}
		if filter.OnlyDuplicates && i.DuplicateInfo == nil {
			continue
		}
		if filter.From != nil && i.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !i.CreatedAt.Before(filter.To.AddDate(0, 0, 1)) {
			continue
		}
		if q := strings.ToLower(filter.Search); q != "" {
			f := i.DetectedFields
			hay := strings.ToLower(f.DocumentNumber + " " + f.DNI + " " + f.WorkerName)
			if !strings.Contains(hay, q) {
				continue
			}
		}
		out = append(out, *cloneItem(i))
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ItemID < out[b].ItemID
	})
	total := int64(len(out))
	if limit > 0 {
		if offset > len(out) {
			offset = len(out)
		}
		end := offset + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[offset:end]
	}
	return out, total, nil
}

func (m *mockIngestionRepo) Update(_ context.Context, item *model.IngestionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[item.ItemID]
	if !ok || stored.Version != item.Version {
		return pkgerrors.ErrOptimisticLock
	}
	item.Version++
	m.items[item.ItemID] = cloneItem(item)
	return nil
}

func (m *mockIngestionRepo) Discard(_ context.Context, item *model.IngestionItem, deletedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[item.ItemID]
	if !ok || stored.Version != item.Version {
		return pkgerrors.ErrOptimisticLock
	}
	item.Version++
	item.DeletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	item.DeletedBy = &deletedBy
	m.items[item.ItemID] = cloneItem(item)
	return nil
}

func (m *mockIngestionRepo) get(id string) *model.IngestionItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.items[id]; ok {
		return cloneItem(i)
	}
	return nil
}

// ── Mock WorkerRepository ──

type mockWorkerRepo struct {
	mu      sync.Mutex
	workers map[string]*model.Worker
}

func newMockWorkerRepo() *mockWorkerRepo {
	return &mockWorkerRepo{workers: make(map[string]*model.Worker)}
}

func (m *mockWorkerRepo) GetByID(_ context.Context, id string) (*model.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[id]; ok {
		c := *w
		return &c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockWorkerRepo) GetByDNI(_ context.Context, dni string) (*model.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.workers {
		if w.DNI == dni {
			c := *w
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockWorkerRepo) Upsert(_ context.Context, w *model.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *w
	m.workers[w.WorkerID] = &c
	return nil
}

// ── Mock OperatorRepository ──

type mockOperatorRepo struct {
	operators map[string]*model.Operator
}

func newMockOperatorRepo() *mockOperatorRepo {
	return &mockOperatorRepo{operators: make(map[string]*model.Operator)}
}

func (m *mockOperatorRepo) Create(_ context.Context, op *model.Operator) error {
	if op.OperatorID == "" {
		op.OperatorID = "op-" + op.Email
	}
	m.operators[op.OperatorID] = op
	return nil
}

func (m *mockOperatorRepo) GetByID(_ context.Context, id string) (*model.Operator, error) {
	if op, ok := m.operators[id]; ok {
		return op, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockOperatorRepo) GetByEmail(_ context.Context, email string) (*model.Operator, error) {
	for _, op := range m.operators {
		if op.Email == email {
			return op, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock Locker ──

type mockLocker struct {
	err   error
	calls int32
}

func (m *mockLocker) ObtainLock(_ context.Context, _ string, _ time.Duration) (*redis.Lock, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return nil, m.err
	}
	return &redis.Lock{}, nil
}

// ── 组装 ──

type mockStore struct {
	rows      *mockRowRepo
	items     *mockIngestionRepo
	workers   *mockWorkerRepo
	operators *mockOperatorRepo
}

// newMockRepository 未绑定数据库的 Repository，事务直接在 mock 上执行
func newMockRepository() (*repository.Repository, *mockStore) {
	st := &mockStore{
		rows:      newMockRowRepo(),
		items:     newMockIngestionRepo(),
		workers:   newMockWorkerRepo(),
		operators: newMockOperatorRepo(),
	}
	repo := &repository.Repository{
		Row:       st.rows,
		Ingestion: st.items,
		Worker:    st.workers,
		Operator:  st.operators,
	}
	return repo, st
}

var testDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func hoursOf(normal int64) model.HourSet {
	var h model.HourSet
	h.Normal = decimal.NewFromInt(normal)
	return h
}

// seedRow 写入一行两侧都有记录的对账行
func (st *mockStore) seedRow(id, dni string, system, sheet model.HourSet) *model.ReconciliationRow {
	row := &model.ReconciliationRow{
		RowID:           id,
		WorkDate:        testDay,
		WorkerID:        "W-" + dni,
		WorkerName:      "Juan Perez",
		DNI:             dni,
		SystemHours:     system,
		HasSystemRecord: true,
		SheetHours:      sheet,
		HasSheetRecord:  true,
		Version:         1,
	}
	classifyInto(row)
	_ = st.rows.Create(context.Background(), row)
	return row
}

func (st *mockStore) seedItem(item *model.IngestionItem) {
	if item.Version == 0 {
		item.Version = 1
	}
	_ = st.items.Create(context.Background(), item)
}
