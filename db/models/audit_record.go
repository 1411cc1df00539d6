package models

// AuditRecord is an append-only row. Rows are inserted and never updated.
type AuditRecord struct {
	Seq            int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	EventID        string `gorm:"column:event_id;uniqueIndex;not null"`
	TsUnixMs       int64  `gorm:"column:ts_unix_ms;index;not null"`
	Kind           string `gorm:"column:kind;index;not null"`
	ConversationID string `gorm:"column:conversation_id;index"`
	RequestID      string `gorm:"column:request_id;index"`
	ToolName       string `gorm:"column:tool_name"`
	Risk           string `gorm:"column:risk"`
	Outcome        string `gorm:"column:outcome"`
	// Payload is the full event as JSON.
	Payload string `gorm:"column:payload;not null"`
}

func (AuditRecord) TableName() string { return "gate_audit_events" }
