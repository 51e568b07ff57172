package postgres

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

type ChargerRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewChargerRepository(db *gorm.DB, log *zap.Logger) ports.ChargerRepository {
	return &ChargerRepository{
		db:  db,
		log: log,
	}
}

// Upsert inserts the charger row or refreshes its status and last_seen.
// max_power is deliberately left untouched on conflict: the persistent limit
// survives reconnects.
func (r *ChargerRepository) Upsert(ctx context.Context, charger *domain.Charger) error {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen", "updated_at"}),
	}).Create(charger)
	if result.Error != nil {
		r.log.Error("Failed to upsert charger", zap.String("id", charger.ID), zap.Error(result.Error))
		return result.Error
	}
	return nil
}

func (r *ChargerRepository) UpdateStatus(ctx context.Context, id string, status domain.ChargerStatus, lastSeen time.Time) error {
	result := r.db.WithContext(ctx).Model(&domain.Charger{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_seen": lastSeen})
	return result.Error
}

func (r *ChargerRepository) SetMaxPower(ctx context.Context, id string, amperes *float64) error {
	result := r.db.WithContext(ctx).Model(&domain.Charger{}).
		Where("id = ?", id).
		Update("max_power", amperes)
	if result.Error != nil {
		r.log.Error("Failed to set charger max power", zap.String("id", id), zap.Error(result.Error))
	}
	return result.Error
}

func (r *ChargerRepository) FindByID(ctx context.Context, id string) (*domain.Charger, error) {
	var charger domain.Charger
	result := r.db.WithContext(ctx).First(&charger, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &charger, nil
}

func (r *ChargerRepository) FindAll(ctx context.Context) ([]domain.Charger, error) {
	var chargers []domain.Charger
	result := r.db.WithContext(ctx).Order("id").Find(&chargers)
	if result.Error != nil {
		return nil, result.Error
	}
	return chargers, nil
}
