package models

import (
	"time"
)

// AuditRecord is the persisted trail of protection decisions: denials and
// raised alerts. The admin UI and compliance exports read from this table;
// the engine only appends.
type AuditRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
	Event      string    `gorm:"index" json:"event"` // denial | alert_raised
	Identifier string    `gorm:"index" json:"identifier"`
	LimitType  string    `json:"limit_type"`
	Tier       string    `json:"tier"`
	Endpoint   string    `json:"endpoint"`
	ClientIP   string    `json:"client_ip"`
	Detail     string    `json:"detail"`
}

func (AuditRecord) TableName() string {
	return "audit_records"
}
