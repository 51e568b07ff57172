package charger

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
	"github.com/seu-repo/ocpp-bridge/internal/proxy"
)

const listCacheKey = "chargers:list"
const listCacheTTL = 5 * time.Second

// Service serves charger listings and message logs to the dashboard. The
// persisted rows are decorated with live connectivity from the registry;
// the short-lived cache absorbs dashboard polling.
type Service struct {
	chargers ports.ChargerRepository
	logs     ports.MessageLogRepository
	registry *proxy.Registry
	cache    ports.Cache
	log      *zap.Logger
}

func NewService(chargers ports.ChargerRepository, logs ports.MessageLogRepository, registry *proxy.Registry, cache ports.Cache, log *zap.Logger) ports.ChargerService {
	return &Service{
		chargers: chargers,
		logs:     logs,
		registry: registry,
		cache:    cache,
		log:      log,
	}
}

func (s *Service) ListChargers(ctx context.Context) ([]ports.ChargerInfo, error) {
	if cached, err := s.cache.Get(ctx, listCacheKey); err == nil && cached != "" {
		var infos []ports.ChargerInfo
		if err := json.Unmarshal([]byte(cached), &infos); err == nil {
			return infos, nil
		}
	}

	rows, err := s.chargers.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]ports.ChargerInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, ports.ChargerInfo{
			Charger:   row,
			Connected: s.registry.Lookup(row.ID) != nil,
		})
	}

	if data, err := json.Marshal(infos); err == nil {
		if err := s.cache.Set(ctx, listCacheKey, string(data), listCacheTTL); err != nil {
			s.log.Debug("Failed to cache charger list", zap.Error(err))
		}
	}
	return infos, nil
}

func (s *Service) GetLogs(ctx context.Context, chargePointID string, limit int) ([]domain.MessageLog, error) {
	return s.logs.FindByChargePoint(ctx, chargePointID, limit)
}
