package postgres

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

type SettingsRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSettingsRepository(db *gorm.DB, log *zap.Logger) ports.SettingsRepository {
	return &SettingsRepository{
		db:  db,
		log: log,
	}
}

func (r *SettingsRepository) GetAll(ctx context.Context) (map[string]string, error) {
	var rows []domain.ProxySetting
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	settings := make(map[string]string, len(rows))
	for _, row := range rows {
		settings[row.Key] = row.Value
	}
	return settings, nil
}

func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&domain.ProxySetting{Key: key, Value: value})
	if result.Error != nil {
		r.log.Error("Failed to persist setting", zap.String("key", key), zap.Error(result.Error))
	}
	return result.Error
}
