package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/service"
	"workday-reconcile/backend/pkg/response"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReconciliationHandler 对账行模块 HTTP 处理器
type ReconciliationHandler struct {
	reconSvc      service.ReconciliationService
	resolutionSvc service.ResolutionService
	sheetSvc      service.SheetService
}

// NewReconciliationHandler 创建 ReconciliationHandler
func NewReconciliationHandler(
	reconSvc service.ReconciliationService,
	resolutionSvc service.ResolutionService,
	sheetSvc service.SheetService,
) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconSvc:      reconSvc,
		resolutionSvc: resolutionSvc,
		sheetSvc:      sheetSvc,
	}
}

// List 对账行列表
// GET /api/v1/reconciliation/rows
func (h *ReconciliationHandler) List(c *gin.Context) {
	var req dto.RowListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindError(c, err)
		return
	}

	list, total, err := h.reconSvc.List(c.Request.Context(), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetLimit(), req.GetOffset())
}

// Summary 各状态计数
// GET /api/v1/reconciliation/summary
func (h *ReconciliationHandler) Summary(c *gin.Context) {
	var req dto.RowListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.reconSvc.Summary(c.Request.Context(), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, result)
}

// Get 对账行详情
// GET /api/v1/reconciliation/rows/:id
func (h *ReconciliationHandler) Get(c *gin.Context) {
	row, err := h.reconSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, row)
}

// Update 人工修改系统侧工时 / 人工确认
// PUT /api/v1/reconciliation/rows/:id
func (h *ReconciliationHandler) Update(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	var req dto.UpdateRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	row, err := h.reconSvc.Update(c.Request.Context(), c.Param("id"), &req, operatorID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, row)
}

// Resolve 单行人工对账：采用系统工时或表格工时
// POST /api/v1/reconciliation/rows/:id/resolve
func (h *ReconciliationHandler) Resolve(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	var req dto.ResolveRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	id := c.Param("id")
	ctx := c.Request.Context()
	var err error
	if req.Source == "system" {
		_, err = h.resolutionSvc.ResolveWithSystemHours(ctx, id, operatorID)
	} else {
		_, err = h.resolutionSvc.ResolveWithSheetHours(ctx, id, service.SheetPayloadFromRequest(req.Payload), operatorID)
	}
	if err != nil {
		handleServiceError(c, err)
		return
	}

	row, err := h.reconSvc.Get(ctx, id)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, row)
}

// BulkResolve 批量人工对账，部分失败时返回 207
// POST /api/v1/reconciliation/bulk-resolve
func (h *ReconciliationHandler) BulkResolve(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	var req dto.BulkResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.resolutionSvc.BulkResolve(c.Request.Context(), &req, operatorID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	if len(result.Failed) > 0 {
		response.MultiStatus(c, result)
		return
	}
	response.OK(c, result)
}

// Reclassify 重新判定状态
// POST /api/v1/reconciliation/reclassify
func (h *ReconciliationHandler) Reclassify(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	var req dto.ReclassifyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	result, err := h.reconSvc.Reclassify(c.Request.Context(), &req, operatorID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, result)
}

// Import 导入工时表格（multipart 字段 file）
// POST /api/v1/reconciliation/import
func (h *ReconciliationHandler) Import(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		if IsBodyTooLarge(err) {
			response.Error(c, http.StatusRequestEntityTooLarge, 10005, "上传文件过大")
			return
		}
		response.BadRequest(c, 10001, "缺少上传文件 file")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, 21001, "无法读取上传文件")
		return
	}
	defer f.Close()

	result, err := h.sheetSvc.Import(c.Request.Context(), f, operatorID)
	if err != nil {
		h.handleSheetError(c, err)
		return
	}

	response.OK(c, result)
}

// Export 导出对账表格，筛选条件同列表
// GET /api/v1/reconciliation/export
func (h *ReconciliationHandler) Export(c *gin.Context) {
	var req dto.RowListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindError(c, err)
		return
	}

	buf, filename, err := h.sheetSvc.Export(c.Request.Context(), &req)
	if err != nil {
		h.handleSheetError(c, err)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, xlsxMIME, buf.Bytes())
}

func (h *ReconciliationHandler) handleSheetError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSheetUnreadable):
		response.BadRequest(c, 21001, "无法读取 Excel 文件")
	case errors.Is(err, service.ErrSheetMissingHeader):
		response.BadRequest(c, 21002, "表头缺少 DNI 或日期列")
	case errors.Is(err, service.ErrSheetTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, 21003, "表格行数超过上限")
	case errors.Is(err, service.ErrExportGenerateFail):
		response.InternalError(c)
	default:
		handleServiceError(c, err)
	}
}
