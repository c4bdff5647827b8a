package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"workday-reconcile/backend/config"
	"workday-reconcile/backend/internal/dto"
	"workday-reconcile/backend/internal/model"
	"workday-reconcile/backend/internal/reconcile"
	"workday-reconcile/backend/internal/repository"
)

// ── 辅助修正模块业务错误 ──

var (
	ErrNothingToCorrect = errors.New("没有需要修正的条目")
	ErrNoActiveSession  = errors.New("当前没有进行中的辅助修正")
)

// CorrectionService 辅助修正会话：每个操作员至多一个会话，仅存于内存
type CorrectionService interface {
	Start(ctx context.Context, operatorID string, req *dto.StartSessionRequest) (*dto.SessionResponse, error)
	Current(operatorID string) *dto.SessionResponse
	Resolve(ctx context.Context, operatorID string, req *dto.DecisionRequest) (*dto.SessionResponse, error)
	Advance(operatorID string) (*dto.SessionResponse, error)
	Cancel(operatorID string) *dto.SessionResponse
}

// sessionEntry 会话及其互斥锁：提交进行中时取消会等待提交完成
type sessionEntry struct {
	mu   sync.Mutex
	sess *reconcile.Session
}

type correctionService struct {
	cfg        *config.ReconcileConfig
	ingestion  IngestionService
	controller *reconcile.Controller
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewCorrectionService 创建 CorrectionService 实例
func NewCorrectionService(
	cfg *config.ReconcileConfig,
	ingestion IngestionService,
	resolver reconcile.Resolver,
	logger *zap.Logger,
) CorrectionService {
	return &correctionService{
		cfg:        cfg,
		ingestion:  ingestion,
		controller: reconcile.NewController(resolver),
		logger:     logger,
		sessions:   make(map[string]*sessionEntry),
	}
}

func (s *correctionService) entry(operatorID string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[operatorID]
	if !ok {
		e = &sessionEntry{sess: reconcile.NewSession(operatorID)}
		s.sessions[operatorID] = e
	}
	return e
}

func (s *correctionService) batchSize() int {
	if s.cfg == nil || s.cfg.SessionBatchSize <= 0 {
		return 200
	}
	return s.cfg.SessionBatchSize
}

// ────────────────────── Start ──────────────────────

// Start 拉取未处理条目作为队列快照；已有会话会被替换。
// 批次中有条目尚未带重复信息时先做重复检测，重复条目排在队列最前。
func (s *correctionService) Start(ctx context.Context, operatorID string, req *dto.StartSessionRequest) (*dto.SessionResponse, error) {
	filter := repository.IngestionFilter{
		Kind:   model.ItemKind(req.Kind),
		Status: model.ItemStatus(req.Status),
	}
	items, err := s.ingestion.Pending(ctx, filter, s.batchSize())
	if err != nil {
		return nil, err
	}
	if needsDuplicateCheck(items) {
		if _, err := s.ingestion.DetectDuplicates(ctx, operatorID); err != nil {
			return nil, err
		}
		if items, err = s.ingestion.Pending(ctx, filter, s.batchSize()); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].HasDuplicate() && !items[b].HasDuplicate()
	})

	e := s.entry(operatorID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !s.controller.Start(e.sess, items) {
		return toSessionResponse(e.sess), ErrNothingToCorrect
	}
	s.logger.Info("辅助修正开始",
		zap.String("operator_id", operatorID),
		zap.Int("queue", e.sess.Len()),
	)
	return toSessionResponse(e.sess), nil
}

func needsDuplicateCheck(items []model.IngestionItem) bool {
	for i := range items {
		if !items[i].HasDuplicate() {
			return true
		}
	}
	return false
}

// ────────────────────── Current ──────────────────────

func (s *correctionService) Current(operatorID string) *dto.SessionResponse {
	e := s.entry(operatorID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return toSessionResponse(e.sess)
}

// ────────────────────── Resolve ──────────────────────

// Resolve 提交当前条目；失败时会话停在当前条目，操作员可重试或 Advance 跳过
func (s *correctionService) Resolve(ctx context.Context, operatorID string, req *dto.DecisionRequest) (*dto.SessionResponse, error) {
	e := s.entry(operatorID)
	e.mu.Lock()
	defer e.mu.Unlock()

	item, path, ok := e.sess.Current()
	if !ok {
		return toSessionResponse(e.sess), ErrNoActiveSession
	}
	d, err := DecisionFromRequest(path, item, req)
	if err != nil {
		return toSessionResponse(e.sess), err
	}

	if _, err := s.controller.Resolve(ctx, e.sess, d); err != nil {
		if errors.Is(err, reconcile.ErrSessionNotActive) {
			return toSessionResponse(e.sess), ErrNoActiveSession
		}
		return toSessionResponse(e.sess), err
	}
	if e.sess.State() == reconcile.StateDone {
		s.logger.Info("辅助修正完成", zap.String("operator_id", operatorID), zap.Int("queue", e.sess.Len()))
	}
	return toSessionResponse(e.sess), nil
}

// ────────────────────── Advance / Cancel ──────────────────────

func (s *correctionService) Advance(operatorID string) (*dto.SessionResponse, error) {
	e := s.entry(operatorID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.State() != reconcile.StateActive {
		return toSessionResponse(e.sess), ErrNoActiveSession
	}
	s.controller.Advance(e.sess)
	return toSessionResponse(e.sess), nil
}

func (s *correctionService) Cancel(operatorID string) *dto.SessionResponse {
	e := s.entry(operatorID)
	e.mu.Lock()
	defer e.mu.Unlock()

	s.controller.Cancel(e.sess)
	return toSessionResponse(e.sess)
}

func toSessionResponse(sess *reconcile.Session) *dto.SessionResponse {
	resp := &dto.SessionResponse{
		State: sess.State().String(),
		Total: sess.Len(),
	}
	if sess.State() == reconcile.StateIdle {
		return resp
	}
	resp.Cursor = sess.Cursor()
	resp.StartedAt = sess.StartedAt.Format(time.RFC3339)
	if item, _, ok := sess.Current(); ok {
		ir := toItemResponse(item)
		resp.Current = &ir
	}
	return resp
}
