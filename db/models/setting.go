package models

// Setting is one key of the gate's settings store. Value holds JSON.
type Setting struct {
	Key       string `gorm:"column:key;primaryKey"`
	Value     string `gorm:"column:value;not null"`
	UpdatedAt int64  `gorm:"column:updated_at;not null"`
}

func (Setting) TableName() string { return "gate_settings" }
