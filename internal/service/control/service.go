package control

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/ports"
	"github.com/seu-repo/ocpp-bridge/internal/proxy"
)

// Service routes operator commands into live sessions through the registry.
// Every operation fails fast with ErrChargerNotConnected when no session
// exists for the target charge point.
type Service struct {
	registry *proxy.Registry
	log      *zap.Logger
}

func NewService(registry *proxy.Registry, log *zap.Logger) ports.ControlService {
	return &Service{
		registry: registry,
		log:      log,
	}
}

func (s *Service) Inject(ctx context.Context, chargePointID, action string, payload json.RawMessage) (string, error) {
	session := s.registry.Lookup(chargePointID)
	if session == nil {
		return "", proxy.ErrChargerNotConnected
	}
	return session.Inject(action, payload)
}

func (s *Service) SetPersistentLimit(ctx context.Context, chargePointID string, amperes *float64) error {
	session := s.registry.Lookup(chargePointID)
	if session == nil {
		return proxy.ErrChargerNotConnected
	}
	return session.SetPersistentLimit(ctx, amperes)
}

func (s *Service) ApplySessionLimit(ctx context.Context, chargePointID string, amperes float64, transactionID *int) (string, error) {
	session := s.registry.Lookup(chargePointID)
	if session == nil {
		return "", proxy.ErrChargerNotConnected
	}
	return session.ApplySessionLimit(amperes, transactionID)
}
