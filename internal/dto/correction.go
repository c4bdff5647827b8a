package dto

// ── 辅助修正模块 DTO ──

// StartSessionRequest 开始辅助修正，可按类型/状态缩小范围
type StartSessionRequest struct {
	Kind   string `json:"kind"   binding:"omitempty,oneof=parte licencia horas"`
	Status string `json:"status" binding:"omitempty,oneof=incompleto error duplicado ok"`
}

// SessionResponse 会话进度与当前条目
type SessionResponse struct {
	State     string        `json:"state"` // idle | active | done
	Cursor    int           `json:"cursor"`
	Total     int           `json:"total"`
	StartedAt string        `json:"started_at,omitempty"`
	Current   *ItemResponse `json:"current,omitempty"`
}
