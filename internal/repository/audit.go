package repository

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/finflow-labs/sentinel/internal/models"
	"github.com/finflow-labs/sentinel/internal/monitor"
	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/finflow-labs/sentinel/internal/storage"
)

// AuditRepository appends protection decisions to the audit trail. Writes
// are best-effort: the engine never fails a request over a missing audit
// row, so every method logs instead of returning errors.
type AuditRepository struct {
	db *storage.Postgres
}

func NewAuditRepository(db *storage.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordDenial satisfies the pipeline's AuditSink.
func (r *AuditRepository) RecordDenial(identifier string, limitType policy.LimitType, tier policy.Tier, endpoint, clientIP, detail string) {
	r.insert(models.AuditRecord{
		Timestamp:  time.Now(),
		Event:      "denial",
		Identifier: identifier,
		LimitType:  string(limitType),
		Tier:       string(tier),
		Endpoint:   endpoint,
		ClientIP:   clientIP,
		Detail:     detail,
	})
}

// Name and Send make the audit trail one of the monitor's alert channels.
func (r *AuditRepository) Name() string { return "audit" }

func (r *AuditRepository) Send(alert monitor.Alert) error {
	detail, _ := json.Marshal(alert.Details)
	r.insert(models.AuditRecord{
		Timestamp:  alert.Timestamp,
		Event:      "alert_raised",
		Identifier: alert.Identifier,
		LimitType:  alert.Type,
		Detail:     alert.Message + " " + string(detail),
	})
	return nil
}

func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	var records []models.AuditRecord
	err := r.db.DB.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error

	return records, err
}

func (r *AuditRepository) insert(record models.AuditRecord) {
	if err := r.db.DB.Create(&record).Error; err != nil {
		log.Printf("audit write failed (%s %s): %v", record.Event, record.Identifier, err)
	}
}
