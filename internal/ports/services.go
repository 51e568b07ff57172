package ports

import (
	"context"
	"encoding/json"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
)

type AuthService interface {
	Login(ctx context.Context, email, password string) (string, error) // token, err
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
}

// ChargerInfo is a persisted charger row decorated with live connectivity.
type ChargerInfo struct {
	domain.Charger
	Connected bool `json:"connected"`
}

type ChargerService interface {
	ListChargers(ctx context.Context) ([]ChargerInfo, error)
	GetLogs(ctx context.Context, chargePointID string, limit int) ([]domain.MessageLog, error)
}

// ControlService exposes the operator-facing mediator operations. All of them
// fail fast with an error when no live session exists for the charge point.
type ControlService interface {
	Inject(ctx context.Context, chargePointID, action string, payload json.RawMessage) (string, error)
	SetPersistentLimit(ctx context.Context, chargePointID string, amperes *float64) error
	ApplySessionLimit(ctx context.Context, chargePointID string, amperes float64, transactionID *int) (string, error)
}
