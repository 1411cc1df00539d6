package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chillysbabybackribs/clawdia/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps settings as JSON rows in gate_settings. Set is an upsert,
// so concurrent writers of the same key resolve last-writer-wins.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if s == nil || s.DB == nil {
		return false, fmt.Errorf("nil settings db")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, nil
	}
	var row models.Setting
	if err := s.DB.WithContext(ctx).Where("key = ?", key).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(row.Value), out); err != nil {
		return false, fmt.Errorf("decode setting %s: %w", key, err)
	}
	return true, nil
}

func (s *GormStore) Set(ctx context.Context, key string, value any) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("nil settings db")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("missing settings key")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	row := models.Setting{Key: key, Value: string(raw), UpdatedAt: time.Now().UTC().Unix()}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}
