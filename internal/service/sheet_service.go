package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/reconcile"
	"workday-reconcile/backend/internal/repository"
	pkgerrors "workday-reconcile/backend/pkg/errors"
)

// ── 表格导入导出模块业务错误 ──

var (
	ErrSheetUnreadable    = errors.New("无法读取 Excel 文件")
	ErrSheetMissingHeader = errors.New("表头缺少 DNI 或日期列")
	ErrSheetTooLarge      = errors.New("表格行数超过上限")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

// SheetService 表格工时导入与对账结果导出
//
//   - 导入：读取第一个工作表，按表头识别列（西语/英语/中文），每行写入表格侧工时并重新判定
//   - 导出：按列表条件导出两侧工时与状态，以 bytes.Buffer 返回，由 Handler 设置响应头
type SheetService interface {
	Import(ctx context.Context, r io.Reader, operatorID string) (*dto.ImportResultResponse, error)
	Export(ctx context.Context, req *dto.RowListRequest) (*bytes.Buffer, string, error)
}

type sheetService struct {
	cfg    *config.ReconcileConfig
	repo   *repository.Repository
	logger *zap.Logger
}

// NewSheetService 创建 SheetService 实例
func NewSheetService(cfg *config.ReconcileConfig, repo *repository.Repository, logger *zap.Logger) SheetService {
	return &sheetService{cfg: cfg, repo: repo, logger: logger}
}

// ── 表头识别 ──

type sheetColumn int

const (
	colDNI sheetColumn = iota
	colDate
	colWorkerID
	colName
	colLicense
)

var columnAliases = map[string]sheetColumn{
	"dni": colDNI, "documento": colDNI, "身份证": colDNI,
	"fecha": colDate, "date": colDate, "dia": colDate, "日期": colDate,
	"legajo": colWorkerID, "worker_id": colWorkerID, "id": colWorkerID, "工号": colWorkerID,
	"nombre": colName, "name": colName, "trabajador": colName, "worker": colName, "姓名": colName,
	"licencia": colLicense, "license": colLicense, "请假": colLicense,
}

var hourAliases = map[string]model.HourField{
	"normal": model.HourNormal, "normales": model.HourNormal, "hs normales": model.HourNormal,
	"extra50": model.HourExtra50, "extra 50": model.HourExtra50, "50%": model.HourExtra50, "extras 50": model.HourExtra50,
	"extra100": model.HourExtra100, "extra 100": model.HourExtra100, "100%": model.HourExtra100, "extras 100": model.HourExtra100,
	"altura": model.HourAltitude, "altitude": model.HourAltitude,
	"hormigon": model.HourConcrete, "hormigón": model.HourConcrete, "concrete": model.HourConcrete,
	"zanja": model.HourTrench, "trench": model.HourTrench,
}

type headerMap struct {
	cols  map[sheetColumn]int
	hours map[model.HourField]int
}

// recognizeHeader 表头大小写与首尾空白不敏感；夜班类别表格不提供，不识别
func recognizeHeader(header []string) (headerMap, bool) {
	h := headerMap{cols: make(map[sheetColumn]int), hours: make(map[model.HourField]int)}
	for i, raw := range header {
		key := strings.ToLower(strings.TrimSpace(raw))
		if f, ok := hourAliases[key]; ok {
			h.hours[f] = i
			continue
		}
		if c, ok := columnAliases[key]; ok {
			if _, dup := h.cols[c]; !dup {
				h.cols[c] = i
			}
		}
	}
	_, hasDNI := h.cols[colDNI]
	_, hasDate := h.cols[colDate]
	return h, hasDNI && hasDate
}

func (h headerMap) cell(row []string, c sheetColumn) string {
	i, ok := h.cols[c]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseSheetDate 支持 Excel 序列日期与常见文本格式
func parseSheetDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("日期为空")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := excelize.ExcelDateToTime(f, false)
		if err != nil {
			return time.Time{}, err
		}
		return dayOf(t), nil
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法识别的日期 %q", s)
}

func parseLicenseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "si", "sí", "x", "true", "yes", "是":
		return true
	}
	return false
}

// ────────────────────── Import ──────────────────────

func (s *sheetService) Import(ctx context.Context, r io.Reader, operatorID string) (*dto.ImportResultResponse, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSheetUnreadable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrSheetUnreadable
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSheetUnreadable, err)
	}
	if len(rows) == 0 {
		return nil, ErrSheetMissingHeader
	}
	header, ok := recognizeHeader(rows[0])
	if !ok {
		return nil, ErrSheetMissingHeader
	}
	if max := s.maxRows(); len(rows)-1 > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrSheetTooLarge, len(rows)-1, max)
	}

	resp := &dto.ImportResultResponse{}
	for i, cells := range rows[1:] {
		line := i + 2
		if isBlankRow(cells) {
			resp.Skipped++
			continue
		}
		resp.Processed++

		created, err := s.importRow(ctx, header, cells, operatorID)
		if err != nil {
			resp.Errors = append(resp.Errors, dto.ImportRowError{Line: line, Reason: err.Error()})
			if ErrorKind(err) == "transport" {
				s.logger.Error("表格导入中断", zap.Int("line", line), zap.Error(err))
				return resp, err
			}
			continue
		}
		if created {
			resp.Created++
		} else {
			resp.Updated++
		}
	}

	s.logger.Info("表格导入完成",
		zap.Int("processed", resp.Processed),
		zap.Int("created", resp.Created),
		zap.Int("updated", resp.Updated),
		zap.Int("errors", len(resp.Errors)),
		zap.String("operator_id", operatorID),
	)
	return resp, nil
}

// importRow 单行一个事务；返回是否新建了对账行
func (s *sheetService) importRow(ctx context.Context, h headerMap, cells []string, operatorID string) (bool, error) {
	dni := h.cell(cells, colDNI)
	if dni == "" {
		return false, pkgerrors.Validation("DNI 为空")
	}
	day, err := parseSheetDate(h.cell(cells, colDate))
	if err != nil {
		return false, pkgerrors.Validation("%v", err)
	}

	var hours model.HourSet
	for field, idx := range h.hours {
		if idx < len(cells) {
			hours.Set(field, reconcile.Coerce(cells[idx]))
		}
	}
	for _, field := range reconcile.SheetFields {
		if hours.Get(field).IsNegative() {
			return false, pkgerrors.Validation("工时 %s 为负值", field)
		}
	}
	license := parseLicenseFlag(h.cell(cells, colLicense))

	created := false
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		_, err := tx.Row.GetByDNIDate(ctx, dni, day)
		created = err != nil
		_, err = upsertRow(ctx, tx, h.cell(cells, colWorkerID), dni, h.cell(cells, colName), day, operatorID,
			func(row *model.ReconciliationRow) {
				setSheetSide(row, hours, license)
			})
		return err
	})
	if err != nil {
		return false, pkgerrors.Translate(err)
	}
	return created, nil
}

func (s *sheetService) maxRows() int {
	if s.cfg == nil || s.cfg.ImportMaxRows <= 0 {
		return 5000
	}
	return s.cfg.ImportMaxRows
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ────────────────────── Export ──────────────────────

var exportHeader = []string{"日期", "工号", "姓名", "DNI", "状态", "处理方式"}

func (s *sheetService) Export(ctx context.Context, req *dto.RowListRequest) (*bytes.Buffer, string, error) {
	filter, err := RowFilterFromRequest(req)
	if err != nil {
		return nil, "", err
	}
	rows, _, err := s.repo.Row.List(ctx, filter, 0, 0)
	if err != nil {
		s.logger.Error("查询对账行失败", zap.Error(err))
		return nil, "", pkgerrors.Translate(err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "对账"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 表头: 基本信息 | 系统侧 9 类 + 请假 | 表格侧 9 类 + 请假
	header := append([]string{}, exportHeader...)
	for _, side := range []string{"系统", "表格"} {
		for _, field := range model.HourFields {
			header = append(header, side+"_"+string(field))
		}
		header = append(header, side+"_请假")
	}
	for i, title := range header {
		f.SetCellValue(sheetName, cellAt(i+1, 1), title)
	}
	f.SetCellStyle(sheetName, cellAt(1, 1), cellAt(len(header), 1), headerStyle)
	f.SetColWidth(sheetName, "A", "D", 14)

	for r := range rows {
		row := &rows[r]
		values := []interface{}{
			row.WorkDate.Format(dateLayout),
			row.WorkerID,
			row.WorkerName,
			row.DNI,
			string(row.Status),
			string(row.Resolution),
		}
		for _, side := range []struct {
			hours   model.HourSet
			license bool
		}{{row.SystemHours, row.SystemLicenseDay}, {row.SheetHours, row.SheetLicenseDay}} {
			for _, field := range model.HourFields {
				v, _ := side.hours.Get(field).Float64()
				values = append(values, v)
			}
			values = append(values, side.license)
		}
		for c, v := range values {
			f.SetCellValue(sheetName, cellAt(c+1, r+2), v)
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("对账_%s.xlsx", time.Now().Format("20060102"))
	return buf, filename, nil
}

func cellAt(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
