package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/service"
	pkgerrors "workday-reconcile/backend/pkg/errors"
	"workday-reconcile/backend/pkg/response"
)

// CorrectionHandler 辅助修正模块 HTTP 处理器
// 会话按操作员隔离，操作员 ID 取自 Token
type CorrectionHandler struct {
	correctionSvc service.CorrectionService
}

// NewCorrectionHandler 创建 CorrectionHandler
func NewCorrectionHandler(correctionSvc service.CorrectionService) *CorrectionHandler {
	return &CorrectionHandler{correctionSvc: correctionSvc}
}

// Start 开始辅助修正
// POST /api/v1/corrections/session
func (h *CorrectionHandler) Start(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	var req dto.StartSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	sess, err := h.correctionSvc.Start(c.Request.Context(), operatorID, &req)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, sess)
}

// Current 当前会话进度
// GET /api/v1/corrections/session
func (h *CorrectionHandler) Current(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	response.OK(c, h.correctionSvc.Current(operatorID))
}

// Resolve 对当前条目提交答案，成功后前进到下一条
// POST /api/v1/corrections/session/resolve
func (h *CorrectionHandler) Resolve(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	sess, err := h.correctionSvc.Resolve(c.Request.Context(), operatorID, &req)
	if err != nil {
		// 校验失败时会话停在原条目，随错误一起返回进度
		if sess != nil && errors.Is(err, pkgerrors.ErrValidation) {
			c.JSON(http.StatusBadRequest, response.Response{
				Code:    10001,
				Message: "参数校验失败",
				Data:    sess,
				Details: err.Error(),
			})
			return
		}
		handleServiceError(c, err)
		return
	}

	response.OK(c, sess)
}

// Advance 跳过当前条目
// POST /api/v1/corrections/session/advance
func (h *CorrectionHandler) Advance(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	sess, err := h.correctionSvc.Advance(operatorID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, sess)
}

// Cancel 取消会话，不处理任何条目
// DELETE /api/v1/corrections/session
func (h *CorrectionHandler) Cancel(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	response.OK(c, h.correctionSvc.Cancel(operatorID))
}
