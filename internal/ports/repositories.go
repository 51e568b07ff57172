package ports

import (
	"context"
	"time"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
)

// ChargerRepository persists charger rows. The mediator only consults it on
// the session edges (connect, disconnect, limit writes), never per frame.
type ChargerRepository interface {
	Upsert(ctx context.Context, charger *domain.Charger) error
	UpdateStatus(ctx context.Context, id string, status domain.ChargerStatus, lastSeen time.Time) error
	SetMaxPower(ctx context.Context, id string, amperes *float64) error
	FindByID(ctx context.Context, id string) (*domain.Charger, error)
	FindAll(ctx context.Context) ([]domain.Charger, error)
}

// MessageLogRepository appends structured frame records. Appends happen on a
// background worker; failures are logged and never reach the forwarding path.
type MessageLogRepository interface {
	Append(ctx context.Context, record *domain.MessageLog) error
	FindByChargePoint(ctx context.Context, chargePointID string, limit int) ([]domain.MessageLog, error)
}

// SettingsRepository stores the dynamic proxy configuration as key/value rows.
type SettingsRepository interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

type UserRepository interface {
	Save(ctx context.Context, user *domain.User) error
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
}

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping() error
	Close() error
}
