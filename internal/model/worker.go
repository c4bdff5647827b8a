package model

// Worker 工人目录，对应 workers
type Worker struct {
	WorkerID string `gorm:"type:varchar(64);primaryKey"    json:"worker_id"`
	DNI      string `gorm:"column:dni;type:varchar(20);not null" json:"dni"`
	Name     string `gorm:"type:varchar(120);not null"     json:"name"`
	Active   bool   `gorm:"not null;default:true"          json:"active"`
	BaseModel
}

// TableName 指定表名
func (Worker) TableName() string { return "workers" }
