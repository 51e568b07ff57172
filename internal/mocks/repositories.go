package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
)

// MockChargerRepository is a mock implementation of ChargerRepository interface
type MockChargerRepository struct {
	mu               sync.Mutex
	Chargers         map[string]*domain.Charger
	UpsertFunc       func(ctx context.Context, charger *domain.Charger) error
	UpdateStatusFunc func(ctx context.Context, id string, status domain.ChargerStatus, lastSeen time.Time) error
	SetMaxPowerFunc  func(ctx context.Context, id string, amperes *float64) error
	FindByIDFunc     func(ctx context.Context, id string) (*domain.Charger, error)
	FindAllFunc      func(ctx context.Context) ([]domain.Charger, error)
}

func NewMockChargerRepository() *MockChargerRepository {
	return &MockChargerRepository{
		Chargers: make(map[string]*domain.Charger),
	}
}

func (m *MockChargerRepository) Upsert(ctx context.Context, charger *domain.Charger) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, charger)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.Chargers[charger.ID]; ok {
		existing.Status = charger.Status
		existing.LastSeen = charger.LastSeen
		return nil
	}
	cp := *charger
	m.Chargers[charger.ID] = &cp
	return nil
}

func (m *MockChargerRepository) UpdateStatus(ctx context.Context, id string, status domain.ChargerStatus, lastSeen time.Time) error {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, lastSeen)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Chargers[id]; ok {
		c.Status = status
		c.LastSeen = lastSeen
	}
	return nil
}

func (m *MockChargerRepository) SetMaxPower(ctx context.Context, id string, amperes *float64) error {
	if m.SetMaxPowerFunc != nil {
		return m.SetMaxPowerFunc(ctx, id, amperes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Chargers[id]; ok {
		c.MaxPower = amperes
	}
	return nil
}

func (m *MockChargerRepository) FindByID(ctx context.Context, id string) (*domain.Charger, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Chargers[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *MockChargerRepository) FindAll(ctx context.Context) ([]domain.Charger, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Charger, 0, len(m.Chargers))
	for _, c := range m.Chargers {
		out = append(out, *c)
	}
	return out, nil
}

// MockMessageLogRepository is a mock implementation of MessageLogRepository interface
type MockMessageLogRepository struct {
	mu         sync.Mutex
	Records    []domain.MessageLog
	AppendFunc func(ctx context.Context, record *domain.MessageLog) error
	FindByChargePointFunc func(ctx context.Context, chargePointID string, limit int) ([]domain.MessageLog, error)
}

func NewMockMessageLogRepository() *MockMessageLogRepository {
	return &MockMessageLogRepository{}
}

func (m *MockMessageLogRepository) Append(ctx context.Context, record *domain.MessageLog) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, *record)
	return nil
}

func (m *MockMessageLogRepository) FindByChargePoint(ctx context.Context, chargePointID string, limit int) ([]domain.MessageLog, error) {
	if m.FindByChargePointFunc != nil {
		return m.FindByChargePointFunc(ctx, chargePointID, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MessageLog
	for i := len(m.Records) - 1; i >= 0; i-- {
		if m.Records[i].ChargePointID != chargePointID {
			continue
		}
		out = append(out, m.Records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// All returns a copy of every appended record, for assertions.
func (m *MockMessageLogRepository) All() []domain.MessageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MessageLog, len(m.Records))
	copy(out, m.Records)
	return out
}

// MockSettingsRepository is a mock implementation of SettingsRepository interface
type MockSettingsRepository struct {
	mu         sync.Mutex
	Values     map[string]string
	GetAllFunc func(ctx context.Context) (map[string]string, error)
	SetFunc    func(ctx context.Context, key, value string) error
}

func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{
		Values: make(map[string]string),
	}
}

func (m *MockSettingsRepository) GetAll(ctx context.Context) (map[string]string, error) {
	if m.GetAllFunc != nil {
		return m.GetAllFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		out[k] = v
	}
	return out, nil
}

func (m *MockSettingsRepository) Set(ctx context.Context, key, value string) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Values[key] = value
	return nil
}

// MockUserRepository is a mock implementation of UserRepository interface
type MockUserRepository struct {
	mu              sync.Mutex
	Users           map[string]*domain.User
	SaveFunc        func(ctx context.Context, user *domain.User) error
	FindByIDFunc    func(ctx context.Context, id string) (*domain.User, error)
	FindByEmailFunc func(ctx context.Context, email string) (*domain.User, error)
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		Users: make(map[string]*domain.User),
	}
}

func (m *MockUserRepository) Save(ctx context.Context, user *domain.User) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.Users[user.ID] = &cp
	return nil
}

func (m *MockUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.Users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.FindByEmailFunc != nil {
		return m.FindByEmailFunc(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}
