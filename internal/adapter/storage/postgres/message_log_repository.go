package postgres

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

type MessageLogRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewMessageLogRepository(db *gorm.DB, log *zap.Logger) ports.MessageLogRepository {
	return &MessageLogRepository{
		db:  db,
		log: log,
	}
}

func (r *MessageLogRepository) Append(ctx context.Context, record *domain.MessageLog) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *MessageLogRepository) FindByChargePoint(ctx context.Context, chargePointID string, limit int) ([]domain.MessageLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var records []domain.MessageLog
	result := r.db.WithContext(ctx).
		Where("charge_point_id = ?", chargePointID).
		Order("id DESC").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	return records, nil
}
