package reconcile

import (
	"context"
	"errors"
	"time"

	"workday-reconcile/backend/internal/model"
	pkgerrors "workday-reconcile/backend/pkg/errors"
)

// ErrSessionNotActive 会话不在 Active 状态
var ErrSessionNotActive = errors.New("当前没有进行中的辅助修正")

// State 辅助修正会话状态
type State int

const (
	StateIdle State = iota
	StateActive
	StateDone
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDone:
		return "done"
	default:
		return "idle"
	}
}

// Session 一个操作员的辅助修正会话。
// 会话只属于创建它的调用方，不做并发保护，也不持久化。
type Session struct {
	OperatorID string
	StartedAt  time.Time

	queue  []model.IngestionItem
	cursor int
	state  State
}

// NewSession 创建空闲会话
func NewSession(operatorID string) *Session {
	return &Session{OperatorID: operatorID}
}

// State 当前状态
func (s *Session) State() State { return s.state }

// Cursor 当前下标，仅 Active 时有意义
func (s *Session) Cursor() int { return s.cursor }

// Len 队列长度
func (s *Session) Len() int { return len(s.queue) }

// Current 当前条目及其处理路径
func (s *Session) Current() (*model.IngestionItem, PathTag, bool) {
	if s.state != StateActive || s.cursor >= len(s.queue) {
		return nil, PathNone, false
	}
	item := &s.queue[s.cursor]
	return item, ResolutionPathFor(item), true
}

// Queue 队列快照（副本）
func (s *Session) Queue() []model.IngestionItem {
	out := make([]model.IngestionItem, len(s.queue))
	copy(out, s.queue)
	return out
}

// Resolver 实际提交答案的处理器，控制器本身从不提交
type Resolver interface {
	Resolve(ctx context.Context, operatorID string, item *model.IngestionItem, d Decision) error
}

// Controller 辅助修正控制器：选择下一条目与处理路径，提交交给 Resolver
type Controller struct {
	resolver Resolver
	now      func() time.Time
}

// NewController 创建控制器
func NewController(resolver Resolver) *Controller {
	return &Controller{resolver: resolver, now: time.Now}
}

// Start 过滤出有处理路径的条目作为队列快照。
// 队列为空时会话回到 Idle 并返回 false（无可修正条目）。
func (c *Controller) Start(s *Session, items []model.IngestionItem) bool {
	queue := make([]model.IngestionItem, 0, len(items))
	for i := range items {
		if ResolutionPathFor(&items[i]) != PathNone {
			queue = append(queue, items[i])
		}
	}
	if len(queue) == 0 {
		s.queue, s.cursor, s.state = nil, 0, StateIdle
		return false
	}
	s.queue = queue
	s.cursor = 0
	s.state = StateActive
	s.StartedAt = c.now()
	return true
}

// Advance 前进到下一条目；没有剩余条目时进入 Done 并返回 false
func (c *Controller) Advance(s *Session) (*model.IngestionItem, bool) {
	if s.state != StateActive {
		return nil, false
	}
	if s.cursor < len(s.queue)-1 {
		s.cursor++
		return &s.queue[s.cursor], true
	}
	s.state = StateDone
	return nil, false
}

// Cancel 任何状态下回到 Idle 并丢弃队列；已提交的处理不回滚
func (c *Controller) Cancel(s *Session) {
	s.queue = nil
	s.cursor = 0
	s.state = StateIdle
}

// Resolve 把答案交给 Resolver 提交当前条目。
// 仅在提交成功后前进；失败时游标与状态保持不变，操作员可重试同一条目。
// 返回下一条目（会话结束时为 nil）。
func (c *Controller) Resolve(ctx context.Context, s *Session, d Decision) (*model.IngestionItem, error) {
	item, path, ok := s.Current()
	if !ok {
		return nil, ErrSessionNotActive
	}
	if d == nil || d.Path() != path {
		return nil, pkgerrors.WithTarget(item.ItemID, pkgerrors.Validation("答案类型与处理路径 %s 不匹配", path))
	}
	if err := d.Validate(); err != nil {
		return nil, pkgerrors.WithTarget(item.ItemID, err)
	}
	if err := c.resolver.Resolve(ctx, s.OperatorID, item, d); err != nil {
		return nil, pkgerrors.WithTarget(item.ItemID, err)
	}
	next, _ := c.Advance(s)
	return next, nil
}
