package guard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chillysbabybackribs/clawdia/db/models"
	"gorm.io/gorm"
)

// GormAuditSink inserts events into gate_audit_events. It only ever
// inserts; there is no update or delete path.
type GormAuditSink struct {
	DB *gorm.DB
}

func NewGormAuditSink(db *gorm.DB) *GormAuditSink {
	return &GormAuditSink{DB: db}
}

func (s *GormAuditSink) Emit(ctx context.Context, e AuditEvent) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil audit db")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	row := models.AuditRecord{
		EventID:        e.ID,
		TsUnixMs:       e.Timestamp.UnixMilli(),
		Kind:           string(e.Kind),
		ConversationID: e.ConversationID,
		RequestID:      e.RequestID,
		ToolName:       e.ToolName,
		Risk:           string(e.Risk),
		Outcome:        string(e.Outcome),
		Payload:        string(payload),
	}
	return s.DB.WithContext(ctx).Create(&row).Error
}

// Recent returns up to limit events, newest first.
func (s *GormAuditSink) Recent(ctx context.Context, limit int) ([]AuditEvent, error) {
	if s == nil || s.DB == nil {
		return nil, fmt.Errorf("nil audit db")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	var rows []models.AuditRecord
	if err := s.DB.WithContext(ctx).Order("seq DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]AuditEvent, 0, len(rows))
	for _, r := range rows {
		var e AuditEvent
		if err := json.Unmarshal([]byte(r.Payload), &e); err != nil {
			return nil, fmt.Errorf("decode audit row %d: %w", r.Seq, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close is a no-op; the *gorm.DB is owned by the caller.
func (s *GormAuditSink) Close() error { return nil }
