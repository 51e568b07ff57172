package mocks

import (
	"context"
	"encoding/json"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

// MockAuthService is a mock implementation of AuthService interface
type MockAuthService struct {
	LoginFunc         func(ctx context.Context, email, password string) (string, error)
	ValidateTokenFunc func(ctx context.Context, token string) (*domain.User, error)
}

func (m *MockAuthService) Login(ctx context.Context, email, password string) (string, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return "mock-token", nil
}

func (m *MockAuthService) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(ctx, token)
	}
	return &domain.User{ID: "mock-user", Role: domain.UserRoleAdmin}, nil
}

// MockChargerService is a mock implementation of ChargerService interface
type MockChargerService struct {
	ListChargersFunc func(ctx context.Context) ([]ports.ChargerInfo, error)
	GetLogsFunc      func(ctx context.Context, chargePointID string, limit int) ([]domain.MessageLog, error)
}

func (m *MockChargerService) ListChargers(ctx context.Context) ([]ports.ChargerInfo, error) {
	if m.ListChargersFunc != nil {
		return m.ListChargersFunc(ctx)
	}
	return nil, nil
}

func (m *MockChargerService) GetLogs(ctx context.Context, chargePointID string, limit int) ([]domain.MessageLog, error) {
	if m.GetLogsFunc != nil {
		return m.GetLogsFunc(ctx, chargePointID, limit)
	}
	return nil, nil
}

// MockControlService is a mock implementation of ControlService interface
type MockControlService struct {
	InjectFunc             func(ctx context.Context, chargePointID, action string, payload json.RawMessage) (string, error)
	SetPersistentLimitFunc func(ctx context.Context, chargePointID string, amperes *float64) error
	ApplySessionLimitFunc  func(ctx context.Context, chargePointID string, amperes float64, transactionID *int) (string, error)
}

func (m *MockControlService) Inject(ctx context.Context, chargePointID, action string, payload json.RawMessage) (string, error) {
	if m.InjectFunc != nil {
		return m.InjectFunc(ctx, chargePointID, action, payload)
	}
	return "mock-message-id", nil
}

func (m *MockControlService) SetPersistentLimit(ctx context.Context, chargePointID string, amperes *float64) error {
	if m.SetPersistentLimitFunc != nil {
		return m.SetPersistentLimitFunc(ctx, chargePointID, amperes)
	}
	return nil
}

func (m *MockControlService) ApplySessionLimit(ctx context.Context, chargePointID string, amperes float64, transactionID *int) (string, error) {
	if m.ApplySessionLimitFunc != nil {
		return m.ApplySessionLimitFunc(ctx, chargePointID, amperes, transactionID)
	}
	return "mock-message-id", nil
}
