package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	pkgerrors "workday-reconcile/backend/pkg/errors"
)

func newTestCorrection() (CorrectionService, *mockStore) {
	repo, st := newMockRepository()
	cfg := &config.ReconcileConfig{SessionBatchSize: 50}
	resolution := NewResolutionService(cfg, repo, nil, zap.NewNop())
	ingestion := NewIngestionService(repo, resolution, zap.NewNop())
	return NewCorrectionService(cfg, ingestion, resolution, zap.NewNop()), st
}

// seedQueue i1 无需处理；i2 请假；i3 工时表缺 DNI
func seedQueue(st *mockStore) {
	t0 := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	items := []*model.IngestionItem{
		{ItemID: "i1", Kind: model.KindParte, Status: model.ItemOK},
		{ItemID: "i2", Kind: model.KindLicencia, Status: model.ItemIncompleto},
		{ItemID: "i3", Kind: model.KindHoras, Status: model.ItemError},
	}
	for i, item := range items {
		item.CreatedAt = t0.Add(time.Duration(i) * time.Minute)
		st.seedItem(item)
	}
}

func TestCorrection_WalksQueue(t *testing.T) {
	svc, st := newTestCorrection()
	ctx := context.Background()
	seedQueue(st)

	sess, err := svc.Start(ctx, "op-1", &dto.StartSessionRequest{})
	if err != nil {
		t.Fatalf("开始会话失败: %v", err)
	}
	if sess.State != "active" || sess.Total != 2 {
		t.Fatalf("期望 active/2，实际 %s/%d", sess.State, sess.Total)
	}
	if sess.Current == nil || sess.Current.ID != "i2" || sess.Current.Path != "license" {
		t.Fatalf("第一个条目应为请假 i2: %+v", sess.Current)
	}

	sess, err = svc.Resolve(ctx, "op-1", &dto.DecisionRequest{
		WorkerID: "W-1",
		DNI:      "30111222",
		Start:    "2026-03-02",
		End:      "2026-03-03",
	})
	if err != nil {
		t.Fatalf("提交请假失败: %v", err)
	}
	if sess.Cursor != 1 || sess.Current == nil || sess.Current.ID != "i3" {
		t.Fatalf("应前进到 i3: %+v", sess)
	}
	if st.items.get("i2").ResolvedAt == nil {
		t.Error("i2 应被处理")
	}

	// i3 缺少 DNI，提交失败时停在原地
	sess, err = svc.Resolve(ctx, "op-1", &dto.DecisionRequest{Date: "2026-03-02"})
	if !errors.Is(err, pkgerrors.ErrValidation) {
		t.Fatalf("期望校验错误，实际 %v", err)
	}
	if id, _ := pkgerrors.TargetOf(err); id != "i3" {
		t.Errorf("错误应归因到 i3，实际 %q", id)
	}
	if sess.Cursor != 1 || sess.State != "active" {
		t.Errorf("失败后游标应不变: %+v", sess)
	}

	// 跳过 i3，会话结束
	sess, err = svc.Advance("op-1")
	if err != nil {
		t.Fatalf("跳过失败: %v", err)
	}
	if sess.State != "done" || sess.Current != nil {
		t.Errorf("期望 done，实际 %+v", sess)
	}
}

func TestCorrection_NothingToCorrect(t *testing.T) {
	svc, st := newTestCorrection()
	st.seedItem(&model.IngestionItem{ItemID: "i1", Kind: model.KindParte, Status: model.ItemOK})

	sess, err := svc.Start(context.Background(), "op-1", &dto.StartSessionRequest{})
	if !errors.Is(err, ErrNothingToCorrect) {
		t.Fatalf("期望 ErrNothingToCorrect，实际 %v", err)
	}
	if sess.State != "idle" {
		t.Errorf("期望 idle，实际 %s", sess.State)
	}
}

func TestCorrection_CancelAndSessionsPerOperator(t *testing.T) {
	svc, st := newTestCorrection()
	ctx := context.Background()
	seedQueue(st)

	if _, err := svc.Start(ctx, "op-1", &dto.StartSessionRequest{}); err != nil {
		t.Fatalf("开始会话失败: %v", err)
	}
	if got := svc.Current("op-2"); got.State != "idle" {
		t.Errorf("其他操作员不应看到该会话，实际 %s", got.State)
	}

	if got := svc.Cancel("op-1"); got.State != "idle" {
		t.Errorf("取消后期望 idle，实际 %s", got.State)
	}
	if _, err := svc.Resolve(ctx, "op-1", &dto.DecisionRequest{}); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("取消后提交期望 ErrNoActiveSession，实际 %v", err)
	}
	if _, err := svc.Advance("op-1"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("取消后跳过期望 ErrNoActiveSession，实际 %v", err)
	}
	if st.items.get("i2").ResolvedAt != nil {
		t.Error("取消不应处理任何条目")
	}
}

func TestCorrection_StartFiltersByKind(t *testing.T) {
	svc, st := newTestCorrection()
	seedQueue(st)

	sess, err := svc.Start(context.Background(), "op-1", &dto.StartSessionRequest{Kind: "horas"})
	if err != nil {
		t.Fatalf("开始会话失败: %v", err)
	}
	if sess.Total != 1 || sess.Current.ID != "i3" {
		t.Errorf("期望仅 i3，实际 %+v", sess)
	}
}

func TestCorrection_StartDetectsDuplicates(t *testing.T) {
	svc, st := newTestCorrection()
	t0 := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	st.seedItem(parteItem("a", "A-001", t0, testDay, "8"))
	st.seedItem(parteItem("b", " a-001", t0.Add(time.Hour), testDay.AddDate(0, 0, 1), "6"))

	sess, err := svc.Start(context.Background(), "op-1", &dto.StartSessionRequest{})
	if err != nil {
		t.Fatalf("开始会话失败: %v", err)
	}
	if sess.Total != 2 {
		t.Fatalf("期望队列 2 条，实际 %d", sess.Total)
	}
	if sess.Current == nil || sess.Current.ID != "b" || sess.Current.Path != "duplicate" {
		t.Fatalf("第一个条目应为重复路径的 b: %+v", sess.Current)
	}
	if b := st.items.get("b"); !b.HasDuplicate() || b.DuplicateInfo.ExistingItemID != "a" {
		t.Errorf("开始会话时应写入重复信息: %+v", b.DuplicateInfo)
	}
}
