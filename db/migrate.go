package db

import (
	"fmt"

	"github.com/chillysbabybackribs/clawdia/db/models"
	"gorm.io/gorm"
)

// gateModels are the gorm tables the gate owns. The approval mirror keeps
// its own table through database/sql and is not listed here.
func gateModels() []any {
	return []any{
		&models.Setting{},
		&models.AuditRecord{},
	}
}

func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("nil gorm db")
	}
	for _, m := range gateModels() {
		if err := gdb.AutoMigrate(m); err != nil {
			return fmt.Errorf("migrate %T: %w", m, err)
		}
	}
	return nil
}
