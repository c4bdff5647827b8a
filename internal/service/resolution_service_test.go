package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/reconcile"
	pkgerrors "workday-reconcile/backend/pkg/errors"
	"workday-reconcile/backend/pkg/redis"
)

func newTestResolution(locker Locker) (ResolutionService, *mockStore) {
	repo, st := newMockRepository()
	cfg := &config.ReconcileConfig{BulkConcurrency: 3, LockTTL: time.Second}
	return NewResolutionService(cfg, repo, locker, zap.NewNop()), st
}

// ── 采用系统工时 ──

func TestResolveWithSystemHours_Idempotent(t *testing.T) {
	svc, st := newTestResolution(nil)
	ctx := context.Background()
	st.seedRow("r1", "30111222", hoursOf(8), hoursOf(6))

	row, err := svc.ResolveWithSystemHours(ctx, "r1", "op-1")
	if err != nil {
		t.Fatalf("采用系统工时失败: %v", err)
	}
	if row.Status != model.RowStatusOKManual || row.Resolution != model.ResolutionSystem {
		t.Errorf("期望 ok_manual/system，实际 %s/%s", row.Status, row.Resolution)
	}
	if row.ResolvedBy == nil || *row.ResolvedBy != "op-1" {
		t.Error("应记录处理人")
	}
	version := st.rows.get("r1").Version

	// 重复提交同一答案：成功且不写库
	if _, err := svc.ResolveWithSystemHours(ctx, "r1", "op-2"); err != nil {
		t.Fatalf("重复提交应成功: %v", err)
	}
	if got := st.rows.get("r1").Version; got != version {
		t.Errorf("重复提交不应写库，version %d → %d", version, got)
	}
}

func TestResolve_KeepsObservationHistory(t *testing.T) {
	svc, st := newTestResolution(nil)
	ctx := context.Background()
	st.seedRow("r1", "30111222", hoursOf(8), hoursOf(6))
	st.seedRow("r2", "30111333", hoursOf(8), hoursOf(6))
	st.rows.rows["r1"].Observation = "revisado con capataz"
	st.rows.rows["r2"].Observation = "revisado con capataz"

	if _, err := svc.ResolveWithSystemHours(ctx, "r1", "op-1"); err != nil {
		t.Fatalf("采用系统工时失败: %v", err)
	}
	if _, err := svc.ResolveWithSheetHours(ctx, "r2", nil, "op-2"); err != nil {
		t.Fatalf("采用表格工时失败: %v", err)
	}

	cases := map[string]string{"r1": "op-1] 人工确认：采用系统工时", "r2": "op-2] 人工确认：采用表格工时"}
	for id, want := range cases {
		obs := st.rows.get(id).Observation
		if !strings.HasPrefix(obs, "revisado con capataz\n") {
			t.Errorf("%s 原有备注应保留，实际 %q", id, obs)
		}
		if !strings.HasSuffix(obs, want) {
			t.Errorf("%s 应追加处理记录 %q，实际 %q", id, want, obs)
		}
	}
}

func TestResolve_DifferentAnswerConflicts(t *testing.T) {
	svc, st := newTestResolution(nil)
	ctx := context.Background()
	st.seedRow("r1", "30111222", hoursOf(8), hoursOf(6))

	if _, err := svc.ResolveWithSystemHours(ctx, "r1", "op-1"); err != nil {
		t.Fatalf("采用系统工时失败: %v", err)
	}
	_, err := svc.ResolveWithSheetHours(ctx, "r1", nil, "op-2")
	if !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("期望冲突错误，实际 %v", err)
	}
	if id, ok := pkgerrors.TargetOf(err); !ok || id != "r1" {
		t.Errorf("冲突应归因到 r1，实际 %q", id)
	}
	if got := st.rows.get("r1"); !got.SystemHours.Normal.Equal(decimal.NewFromInt(8)) {
		t.Errorf("冲突时不应修改系统工时，实际 %s", got.SystemHours.Normal)
	}
}

func TestResolveWithSystemHours_NotFound(t *testing.T) {
	svc, _ := newTestResolution(nil)

	_, err := svc.ResolveWithSystemHours(context.Background(), "missing", "op-1")
	if !errors.Is(err, ErrRowNotFound) {
		t.Fatalf("期望 ErrRowNotFound，实际 %v", err)
	}
	if ErrorKind(err) != "not_found" {
		t.Errorf("期望 not_found，实际 %s", ErrorKind(err))
	}
}

// ── 采用表格工时 ──

func TestResolveWithSheetHours_TranslatesSixFields(t *testing.T) {
	svc, st := newTestResolution(nil)
	ctx := context.Background()

	system := hoursOf(8)
	system.Night = decimal.NewFromInt(2)
	sheet := hoursOf(6)
	sheet.Extra50 = decimal.NewFromInt(1)
	st.seedRow("r1", "30111222", system, sheet)

	row, err := svc.ResolveWithSheetHours(ctx, "r1", nil, "op-1")
	if err != nil {
		t.Fatalf("采用表格工时失败: %v", err)
	}
	if !row.SystemHours.Normal.Equal(decimal.NewFromInt(6)) {
		t.Errorf("系统 normal 应为 6，实际 %s", row.SystemHours.Normal)
	}
	if !row.SystemHours.Extra50.Equal(decimal.NewFromInt(1)) {
		t.Errorf("系统 extra50 应为 1，实际 %s", row.SystemHours.Extra50)
	}
	if !row.SystemHours.Night.Equal(decimal.NewFromInt(2)) {
		t.Errorf("夜班类别应保持 2，实际 %s", row.SystemHours.Night)
	}
	if row.Resolution != model.ResolutionSheet {
		t.Errorf("期望 resolution=sheet，实际 %s", row.Resolution)
	}

	// 同一答案再次提交：无副作用的成功
	version := st.rows.get("r1").Version
	if _, err := svc.ResolveWithSheetHours(ctx, "r1", nil, "op-1"); err != nil {
		t.Fatalf("重复提交应成功: %v", err)
	}
	if st.rows.get("r1").Version != version {
		t.Error("重复提交不应写库")
	}
}

func TestResolveWithSheetHours_ExplicitPayload(t *testing.T) {
	svc, st := newTestResolution(nil)
	st.seedRow("r1", "30111222", hoursOf(8), hoursOf(6))

	payload := SheetPayloadFromRequest(&dto.SheetPayloadRequest{
		Hours: map[string]interface{}{"normal": "7,5", "zanja": "x"},
	})
	row, err := svc.ResolveWithSheetHours(context.Background(), "r1", payload, "op-1")
	if err != nil {
		t.Fatalf("采用表格工时失败: %v", err)
	}
	if !row.SystemHours.Normal.Equal(decimal.RequireFromString("7.5")) {
		t.Errorf("normal 应为 7.5，实际 %s", row.SystemHours.Normal)
	}
}

func TestResolveWithSheetHours_NegativeRejected(t *testing.T) {
	svc, st := newTestResolution(nil)
	st.seedRow("r1", "30111222", hoursOf(8), hoursOf(6))

	payload := &reconcile.SheetPayload{Hours: map[model.HourField]decimal.Decimal{
		model.HourNormal: decimal.NewFromInt(-1),
	}}
	_, err := svc.ResolveWithSheetHours(context.Background(), "r1", payload, "op-1")
	if !errors.Is(err, pkgerrors.ErrValidation) {
		t.Fatalf("期望校验错误，实际 %v", err)
	}
	if st.rows.get("r1").Status == model.RowStatusOKManual {
		t.Error("校验失败不应确认该行")
	}
}

// ── 批量 ──

func TestBulkResolve_AttributesFailures(t *testing.T) {
	svc, st := newTestResolution(nil)
	st.seedRow("r1", "30111222", hoursOf(8), hoursOf(6))
	st.seedRow("r2", "30111333", hoursOf(4), hoursOf(5))

	res, err := svc.BulkResolve(context.Background(), &dto.BulkResolveRequest{
		Source: "system",
		RowIDs: []string{"r1", "missing", "r1", "r2"},
	}, "op-1")
	if err != nil {
		t.Fatalf("批量提交失败: %v", err)
	}

	if len(res.Succeeded) != 2 || res.Succeeded[0] != "r1" || res.Succeeded[1] != "r2" {
		t.Errorf("期望成功 [r1 r2]，实际 %v", res.Succeeded)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("期望 1 行失败，实际 %d", len(res.Failed))
	}
	if res.Failed[0].RowID != "missing" || res.Failed[0].Kind != "not_found" {
		t.Errorf("失败归因错误: %+v", res.Failed[0])
	}
	for _, id := range []string{"r1", "r2"} {
		if st.rows.get(id).Status != model.RowStatusOKManual {
			t.Errorf("%s 应为 ok_manual", id)
		}
	}
}

func TestBulkResolve_SheetItems(t *testing.T) {
	svc, st := newTestResolution(nil)
	st.seedRow("r1", "30111222", hoursOf(8), hoursOf(6))
	st.seedRow("r2", "30111333", hoursOf(8), hoursOf(7))

	res, err := svc.BulkResolve(context.Background(), &dto.BulkResolveRequest{
		Source: "sheet",
		Items: []dto.BulkSheetItem{
			{RowID: "r1", Payload: &dto.SheetPayloadRequest{Hours: map[string]interface{}{"normal": 5}}},
			{RowID: "r2"},
		},
	}, "op-1")
	if err != nil {
		t.Fatalf("批量提交失败: %v", err)
	}
	if len(res.Failed) != 0 {
		t.Fatalf("不应有失败: %+v", res.Failed)
	}
	if got := st.rows.get("r1").SystemHours.Normal; !got.Equal(decimal.NewFromInt(5)) {
		t.Errorf("r1 normal 应为 5，实际 %s", got)
	}
	if got := st.rows.get("r2").SystemHours.Normal; !got.Equal(decimal.NewFromInt(7)) {
		t.Errorf("r2 应取表格侧 7，实际 %s", got)
	}
}

func TestBulkResolve_EmptyAndUnknownSource(t *testing.T) {
	svc, _ := newTestResolution(nil)
	ctx := context.Background()

	if _, err := svc.BulkResolve(ctx, &dto.BulkResolveRequest{Source: "system"}, "op-1"); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("期望 ErrEmptyBatch，实际 %v", err)
	}
	_, err := svc.BulkResolve(ctx, &dto.BulkResolveRequest{Source: "both", RowIDs: []string{"r1"}}, "op-1")
	if !errors.Is(err, pkgerrors.ErrValidation) {
		t.Errorf("期望校验错误，实际 %v", err)
	}
}

// ── 条目处理：重复 ──

func seedDuplicatePair(st *mockStore, existing *model.IngestionItem) *model.IngestionItem {
	st.seedItem(existing)
	day := testDay
	n := &model.IngestionItem{
		ItemID: "new",
		Kind:   model.KindParte,
		Status: model.ItemDuplicado,
		DetectedFields: model.DetectedFields{
			DocumentNumber: "P-100",
			WorkerID:       "W-1",
			DNI:            "30111222",
			WorkerName:     "Juan Perez",
			Date:           &day,
			Hours:          map[string]interface{}{"normal": "8"},
			FileURL:        "https://files.example/new.pdf",
		},
		DuplicateInfo: &model.DuplicateInfo{ExistingItemID: existing.ItemID},
	}
	st.seedItem(n)
	return n
}

func TestResolveDuplicate_KeepExistingWithPatch(t *testing.T) {
	svc, st := newTestResolution(nil)
	ctx := context.Background()

	st.seedRow("r1", "30111222", hoursOf(8), hoursOf(9))
	rowID := "r1"
	now := time.Now()
	existing := &model.IngestionItem{
		ItemID:     "old",
		Kind:       model.KindParte,
		Status:     model.ItemOK,
		RowID:      &rowID,
		ResolvedAt: &now,
	}
	n := seedDuplicatePair(st, existing)

	d := reconcile.DuplicateDecision{
		Action:      reconcile.KeepExisting,
		ManualPatch: &reconcile.ManualPatch{Hours: hoursOf(9)},
	}
	if err := svc.Resolve(ctx, "op-1", n, d); err != nil {
		t.Fatalf("重复处理失败: %v", err)
	}

	if got := st.items.get("new"); !got.DeletedAt.Valid {
		t.Error("新条目应被舍弃")
	}
	if got := st.items.get("old"); got.DeletedAt.Valid {
		t.Error("已有记录不应被舍弃")
	}
	row := st.rows.get("r1")
	if !row.SystemHours.Normal.Equal(decimal.NewFromInt(9)) {
		t.Errorf("人工修正应写入系统侧，实际 %s", row.SystemHours.Normal)
	}
	if row.Status != model.RowStatusOKAutomatic {
		t.Errorf("修正后两侧一致，期望 ok_automatic，实际 %s", row.Status)
	}
}

func TestResolveDuplicate_ApplyNew(t *testing.T) {
	svc, st := newTestResolution(nil)
	ctx := context.Background()

	existing := &model.IngestionItem{ItemID: "old", Kind: model.KindParte, Status: model.ItemIncompleto}
	n := seedDuplicatePair(st, existing)

	if err := svc.Resolve(ctx, "op-1", n, reconcile.DuplicateDecision{Action: reconcile.ApplyNew}); err != nil {
		t.Fatalf("重复处理失败: %v", err)
	}

	if !st.items.get("old").DeletedAt.Valid {
		t.Error("已有记录应被舍弃")
	}
	got := st.items.get("new")
	if got.ResolvedAt == nil || got.Status != model.ItemOK || got.DuplicateInfo != nil {
		t.Fatalf("新条目应入账并清除重复信息: %+v", got)
	}
	row := st.rows.findByDNIDate("30111222", testDay)
	if row == nil {
		t.Fatal("应创建对账行")
	}
	if got.RowID == nil || *got.RowID != row.RowID {
		t.Error("条目应记录对账行 ID")
	}
	if !row.HasSystemRecord || !row.SystemHours.Normal.Equal(decimal.NewFromInt(8)) {
		t.Errorf("日报应写入系统侧 8 小时: %+v", row.SystemHours)
	}
	if row.Status != model.RowStatusIncomplete {
		t.Errorf("缺少表格侧，期望 incomplete，实际 %s", row.Status)
	}
	if len(row.Evidence) != 1 {
		t.Errorf("应附加 1 个凭证，实际 %d", len(row.Evidence))
	}
}

func TestResolveDuplicate_ApplyNewIncompleteFallsBackToReport(t *testing.T) {
	svc, st := newTestResolution(nil)
	ctx := context.Background()

	existing := &model.IngestionItem{ItemID: "old", Kind: model.KindParte, Status: model.ItemIncompleto}
	n := seedDuplicatePair(st, existing)
	stored := st.items.items["new"]
	stored.DetectedFields.Date = nil
	n.DetectedFields.Date = nil

	if err := svc.Resolve(ctx, "op-1", n, reconcile.DuplicateDecision{Action: reconcile.ApplyNew}); err != nil {
		t.Fatalf("重复处理失败: %v", err)
	}
	got := st.items.get("new")
	if got.ResolvedAt != nil {
		t.Error("字段不完整时不应入账")
	}
	if p := reconcile.ResolutionPathFor(got); p != reconcile.PathReport {
		t.Errorf("期望回到补录路径，实际 %s", p)
	}
	if st.rows.count() != 0 {
		t.Error("不应创建对账行")
	}
}

func TestResolveDuplicate_WithoutDuplicateInfo(t *testing.T) {
	svc, st := newTestResolution(nil)
	ctx := context.Background()

	item := &model.IngestionItem{ItemID: "p1", Kind: model.KindParte, Status: model.ItemIncompleto}
	st.seedItem(item)

	err := svc.Resolve(ctx, "op-1", item, reconcile.DuplicateDecision{Action: reconcile.KeepExisting})
	if !errors.Is(err, pkgerrors.ErrValidation) {
		t.Errorf("无重复信息时期望校验错误，实际 %v", err)
	}
	if id, _ := pkgerrors.TargetOf(err); id != "p1" {
		t.Errorf("错误应归因到 p1，实际 %q", id)
	}

	// 带重复信息的条目收到其他路径的答案仍是冲突
	n := seedDuplicatePair(st, &model.IngestionItem{ItemID: "old", Kind: model.KindParte, Status: model.ItemIncompleto})
	err = svc.Resolve(ctx, "op-1", n, reconcile.ReportDecision{
		WorkerID: "W-1",
		DNI:      "30111222",
		Date:     testDay,
		Hours:    hoursOf(8),
	})
	if !errors.Is(err, pkgerrors.ErrConflict) {
		t.Errorf("路径不符期望冲突错误，实际 %v", err)
	}
}

// ── 条目处理：请假 ──

func TestResolveLicense_MarksEachDay(t *testing.T) {
	svc, st := newTestResolution(nil)
	item := &model.IngestionItem{
		ItemID:         "lic",
		Kind:           model.KindLicencia,
		Status:         model.ItemIncompleto,
		DetectedFields: model.DetectedFields{FileURL: "https://files.example/lic.pdf"},
	}
	st.seedItem(item)

	d := reconcile.LicenseDecision{
		WorkerID:    "W-1",
		DNI:         "30111222",
		WorkerName:  "Juan Perez",
		Start:       testDay,
		End:         testDay.AddDate(0, 0, 2),
		LicenseType: "enfermedad",
	}
	if err := svc.Resolve(context.Background(), "op-1", item, d); err != nil {
		t.Fatalf("请假处理失败: %v", err)
	}

	if st.rows.count() != 3 {
		t.Fatalf("期望 3 行，实际 %d", st.rows.count())
	}
	for i := 0; i < 3; i++ {
		row := st.rows.findByDNIDate("30111222", testDay.AddDate(0, 0, i))
		if row == nil || !row.SystemLicenseDay || !row.HasSystemRecord {
			t.Errorf("第 %d 天应标记系统侧请假", i)
			continue
		}
		if len(row.Evidence) != 1 {
			t.Errorf("第 %d 天应附加凭证", i)
		}
	}
	got := st.items.get("lic")
	if got.ResolvedAt == nil || got.RowID == nil {
		t.Error("请假条目应被标记为已处理")
	}
	if got.DetectedFields.LicenseType != "enfermedad" {
		t.Errorf("应回写请假类型，实际 %q", got.DetectedFields.LicenseType)
	}
}

func TestResolveLicense_InvalidRange(t *testing.T) {
	svc, st := newTestResolution(nil)
	item := &model.IngestionItem{ItemID: "lic", Kind: model.KindLicencia, Status: model.ItemIncompleto}
	st.seedItem(item)

	d := reconcile.LicenseDecision{
		WorkerID: "W-1",
		DNI:      "30111222",
		Start:    testDay,
		End:      testDay.AddDate(0, 0, -1),
	}
	err := svc.Resolve(context.Background(), "op-1", item, d)
	if !errors.Is(err, pkgerrors.ErrValidation) {
		t.Fatalf("期望校验错误，实际 %v", err)
	}
	if st.rows.count() != 0 || st.items.get("lic").ResolvedAt != nil {
		t.Error("校验失败不应有任何写入")
	}
}

// ── 条目处理：补录 ──

func TestResolveReport_SheetSideForHoras(t *testing.T) {
	svc, st := newTestResolution(nil)
	item := &model.IngestionItem{ItemID: "h1", Kind: model.KindHoras, Status: model.ItemError}
	st.seedItem(item)

	d := reconcile.ReportDecision{
		WorkerID: "W-1",
		DNI:      "30111222",
		Date:     testDay,
		Hours:    hoursOf(8),
	}
	if err := svc.Resolve(context.Background(), "op-1", item, d); err != nil {
		t.Fatalf("补录失败: %v", err)
	}

	row := st.rows.findByDNIDate("30111222", testDay)
	if row == nil {
		t.Fatal("应创建对账行")
	}
	if !row.HasSheetRecord || row.HasSystemRecord {
		t.Error("工时表应写入表格侧")
	}
	if !row.SheetHours.Normal.Equal(decimal.NewFromInt(8)) {
		t.Errorf("表格 normal 应为 8，实际 %s", row.SheetHours.Normal)
	}
	got := st.items.get("h1")
	if got.Status != model.ItemOK || got.DetectedFields.Date == nil {
		t.Errorf("条目应入账并回写日期: %+v", got)
	}
}

func TestResolveReport_CompletesExistingRow(t *testing.T) {
	svc, st := newTestResolution(nil)
	st.rows.Create(context.Background(), &model.ReconciliationRow{
		RowID:          "r1",
		WorkDate:       testDay,
		WorkerID:       "W-1",
		DNI:            "30111222",
		SheetHours:     hoursOf(8),
		HasSheetRecord: true,
		Status:         model.RowStatusIncomplete,
	})
	item := &model.IngestionItem{ItemID: "p1", Kind: model.KindParte, Status: model.ItemIncompleto}
	st.seedItem(item)

	d := reconcile.ReportDecision{WorkerID: "W-1", DNI: "30111222", Date: testDay, Hours: hoursOf(8)}
	if err := svc.Resolve(context.Background(), "op-1", item, d); err != nil {
		t.Fatalf("补录失败: %v", err)
	}
	if got := st.rows.get("r1"); got.Status != model.RowStatusOKAutomatic {
		t.Errorf("两侧一致后期望 ok_automatic，实际 %s", got.Status)
	}
	if st.rows.count() != 1 {
		t.Error("不应新建行")
	}
}

// ── 条目处理：并发与前置条件 ──

func TestResolve_AlreadyResolvedConflicts(t *testing.T) {
	svc, st := newTestResolution(nil)
	now := time.Now()
	item := &model.IngestionItem{ItemID: "p1", Kind: model.KindParte, Status: model.ItemIncompleto}
	st.seedItem(item)
	st.items.items["p1"].ResolvedAt = &now

	d := reconcile.ReportDecision{WorkerID: "W-1", DNI: "30111222", Date: testDay}
	err := svc.Resolve(context.Background(), "op-1", item, d)
	if !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("期望冲突错误，实际 %v", err)
	}
	if id, _ := pkgerrors.TargetOf(err); id != "p1" {
		t.Errorf("冲突应归因到 p1，实际 %q", id)
	}
}

func TestResolve_PathChangedConflicts(t *testing.T) {
	svc, st := newTestResolution(nil)
	item := &model.IngestionItem{ItemID: "lic", Kind: model.KindLicencia, Status: model.ItemIncompleto}
	st.seedItem(item)

	d := reconcile.ReportDecision{WorkerID: "W-1", DNI: "30111222", Date: testDay}
	if err := svc.Resolve(context.Background(), "op-1", item, d); !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("期望冲突错误，实际 %v", err)
	}
}

func TestResolve_LockHeldByOtherOperator(t *testing.T) {
	locker := &mockLocker{err: redis.ErrLockNotObtained}
	svc, st := newTestResolution(locker)
	item := &model.IngestionItem{ItemID: "p1", Kind: model.KindParte, Status: model.ItemIncompleto}
	st.seedItem(item)

	d := reconcile.ReportDecision{WorkerID: "W-1", DNI: "30111222", Date: testDay, Hours: hoursOf(8)}
	err := svc.Resolve(context.Background(), "op-1", item, d)
	if !errors.Is(err, pkgerrors.ErrConflict) {
		t.Fatalf("期望冲突错误，实际 %v", err)
	}
	if st.rows.count() != 0 || st.items.get("p1").ResolvedAt != nil {
		t.Error("未取得锁时不应写入")
	}
}

func TestResolve_LockBackendDownDegrades(t *testing.T) {
	locker := &mockLocker{err: errors.New("dial tcp: connection refused")}
	svc, st := newTestResolution(locker)
	item := &model.IngestionItem{ItemID: "p1", Kind: model.KindParte, Status: model.ItemIncompleto}
	st.seedItem(item)

	d := reconcile.ReportDecision{WorkerID: "W-1", DNI: "30111222", Date: testDay, Hours: hoursOf(8)}
	if err := svc.Resolve(context.Background(), "op-1", item, d); err != nil {
		t.Fatalf("锁服务不可用时应降级继续: %v", err)
	}
	if locker.calls != 1 {
		t.Errorf("应尝试加锁 1 次，实际 %d", locker.calls)
	}
	if st.items.get("p1").ResolvedAt == nil {
		t.Error("条目应被处理")
	}
}
