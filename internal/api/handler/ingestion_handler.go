package handler

import (
	"github.com/gin-gonic/gin"

	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/service"
	"workday-reconcile/backend/pkg/response"
)

// IngestionHandler 待入库条目模块 HTTP 处理器
type IngestionHandler struct {
	ingestionSvc service.IngestionService
}

// NewIngestionHandler 创建 IngestionHandler
func NewIngestionHandler(ingestionSvc service.IngestionService) *IngestionHandler {
	return &IngestionHandler{ingestionSvc: ingestionSvc}
}

// List 条目列表
// GET /api/v1/ingestion/items
func (h *IngestionHandler) List(c *gin.Context) {
	var req dto.ItemListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		bindError(c, err)
		return
	}

	list, total, err := h.ingestionSvc.List(c.Request.Context(), &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetLimit(), req.GetOffset())
}

// Get 条目详情
// GET /api/v1/ingestion/items/:id
func (h *IngestionHandler) Get(c *gin.Context) {
	item, err := h.ingestionSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, item)
}

// DetectDuplicates 对未处理条目执行重复检测
// POST /api/v1/ingestion/detect-duplicates
func (h *IngestionHandler) DetectDuplicates(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	result, err := h.ingestionSvc.DetectDuplicates(c.Request.Context(), operatorID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, result)
}

// Resolve 对单个条目提交答案
// POST /api/v1/ingestion/items/:id/resolve
func (h *IngestionHandler) Resolve(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	item, err := h.ingestionSvc.Resolve(c.Request.Context(), c.Param("id"), &req, operatorID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, item)
}
