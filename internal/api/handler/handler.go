package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"workday-reconcile/backend/internal/service"
	pkgerrors "workday-reconcile/backend/pkg/errors"
	"workday-reconcile/backend/pkg/response"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Auth           *AuthHandler
	Reconciliation *ReconciliationHandler
	Ingestion      *IngestionHandler
	Correction     *CorrectionHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Auth:           NewAuthHandler(svc.Auth),
		Reconciliation: NewReconciliationHandler(svc.Reconciliation, svc.Resolution, svc.Sheet),
		Ingestion:      NewIngestionHandler(svc.Ingestion),
		Correction:     NewCorrectionHandler(svc.Correction),
	}
}

// ── 错误映射 ──

// IsBodyTooLarge 请求体超过 BodyLimit 设定的上限
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// bindError 请求体解析失败：超限返回 413，其余返回参数校验失败
func bindError(c *gin.Context, err error) {
	if IsBodyTooLarge(err) {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
		return
	}
	response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", err.Error())
}

// handleServiceError 按错误类别写响应；conflict 附带目标 ID 便于前端刷新
func handleServiceError(c *gin.Context, err error) {
	target, _ := pkgerrors.TargetOf(err)
	err = pkgerrors.Translate(err)
	switch {
	case errors.Is(err, pkgerrors.ErrValidation):
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", err.Error())
	case errors.Is(err, pkgerrors.ErrConflict):
		response.Conflict(c, 40901, "目标已被他人处理，请刷新后重试", target)
	case errors.Is(err, pkgerrors.ErrTransport):
		response.Unavailable(c, 50301, "存储暂不可用，请稍后重试")
	case errors.Is(err, service.ErrRowNotFound):
		response.NotFound(c, 20001, "对账行不存在")
	case errors.Is(err, service.ErrItemNotFound):
		response.NotFound(c, 30001, "待入库条目不存在")
	case errors.Is(err, service.ErrNothingToResolve):
		response.Conflict(c, 30002, "该条目无需处理", "")
	case errors.Is(err, service.ErrEmptyBatch):
		response.BadRequest(c, 20002, "批量操作未指定任何行")
	case errors.Is(err, service.ErrNothingToCorrect):
		response.NotFound(c, 40001, "没有需要修正的条目")
	case errors.Is(err, service.ErrNoActiveSession):
		response.Conflict(c, 40002, "当前没有进行中的辅助修正", "")
	default:
		response.InternalError(c)
	}
}
