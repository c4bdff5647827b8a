package model

// Operator 对账操作员，对应 operators
type Operator struct {
	OperatorID   string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"operator_id"`
	Name         string `gorm:"type:varchar(100);not null"                     json:"name"`
	Email        string `gorm:"type:varchar(255);not null"                     json:"email"`
	PasswordHash string `gorm:"type:varchar(255);not null"                     json:"-"`
	Role         string `gorm:"type:varchar(20);not null;default:'operator'"   json:"role"` // admin | operator
	VersionedModel
}

// TableName 指定表名
func (Operator) TableName() string { return "operators" }
