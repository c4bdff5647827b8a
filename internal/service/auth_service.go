package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/repository"
	"workday-reconcile/backend/pkg/jwt"
)

var (
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
	ErrOperatorNotFound   = errors.New("操作员不存在")
)

// TokenBlacklist 登出后作废 Token
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error
}

// AuthService 操作员认证业务接口
type AuthService interface {
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.TokenResponse, error)
	Logout(ctx context.Context, jti string, expiresAt time.Time) error
	Me(ctx context.Context, operatorID string) (*dto.OperatorResponse, error)
}

type authService struct {
	cfg       *config.Config
	repo      *repository.Repository
	jwtMgr    *jwt.Manager
	blacklist TokenBlacklist
	logger    *zap.Logger
}

// NewAuthService 创建 AuthService 实例；blacklist 为 nil 时登出只在客户端生效
func NewAuthService(
	cfg *config.Config,
	repo *repository.Repository,
	jwtMgr *jwt.Manager,
	blacklist TokenBlacklist,
	logger *zap.Logger,
) AuthService {
	return &authService{
		cfg:       cfg,
		repo:      repo,
		jwtMgr:    jwtMgr,
		blacklist: blacklist,
		logger:    logger,
	}
}

func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.TokenResponse, error) {
	// 1. 查询操作员
	op, err := s.repo.Operator.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("查询操作员失败", zap.Error(err))
		return nil, err
	}

	// 2. 验证密码 (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. 签发 Access Token
	accessToken, err := s.jwtMgr.GenerateAccessToken(op.OperatorID, op.Role)
	if err != nil {
		s.logger.Error("生成 AccessToken 失败", zap.Error(err))
		return nil, err
	}

	return &dto.TokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   int(s.jwtMgr.AccessTokenTTL().Seconds()),
		Operator:    toOperatorResponse(op),
	}, nil
}

func (s *authService) Logout(ctx context.Context, jti string, expiresAt time.Time) error {
	if s.blacklist == nil || jti == "" {
		return nil
	}
	if err := s.blacklist.BlacklistToken(ctx, jti, time.Until(expiresAt)); err != nil {
		s.logger.Warn("写入 Token 黑名单失败", zap.String("jti", jti), zap.Error(err))
		return err
	}
	return nil
}

func (s *authService) Me(ctx context.Context, operatorID string) (*dto.OperatorResponse, error) {
	op, err := s.repo.Operator.GetByID(ctx, operatorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOperatorNotFound
		}
		s.logger.Error("查询操作员失败", zap.String("operator_id", operatorID), zap.Error(err))
		return nil, err
	}
	resp := toOperatorResponse(op)
	resp.CreatedAt = op.CreatedAt.Format(time.RFC3339)
	return &resp, nil
}

func toOperatorResponse(op *model.Operator) dto.OperatorResponse {
	return dto.OperatorResponse{
		ID:    op.OperatorID,
		Name:  op.Name,
		Email: op.Email,
		Role:  op.Role,
	}
}
