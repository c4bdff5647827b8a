package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/service"
	"workday-reconcile/backend/pkg/response"
)

// AuthHandler 认证模块 HTTP 处理器
type AuthHandler struct {
	authSvc service.AuthService
}

// NewAuthHandler 创建 AuthHandler
func NewAuthHandler(authSvc service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Login 操作员登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.authSvc.Login(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Error(c, http.StatusUnauthorized, 11001, "邮箱或密码错误")
			return
		}
		response.InternalError(c)
		return
	}

	response.OK(c, result)
}

// Logout 登出，当前 Token 加入黑名单直到过期
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	jti, exp := tokenOf(c)
	if jti == "" {
		response.Unauthorized(c, 10002, "未认证")
		return
	}

	if err := h.authSvc.Logout(c.Request.Context(), jti, exp); err != nil {
		handleServiceError(c, err)
		return
	}

	response.OK(c, nil)
}

// Me 当前操作员信息
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	operatorID, ok := MustGetOperatorID(c)
	if !ok {
		return
	}

	result, err := h.authSvc.Me(c.Request.Context(), operatorID)
	if err != nil {
		if errors.Is(err, service.ErrOperatorNotFound) {
			response.NotFound(c, 11002, "操作员不存在")
			return
		}
		handleServiceError(c, err)
		return
	}

	response.OK(c, result)
}
