package domain

import (
	"time"
)

type ChargerStatus string

const (
	ChargerStatusOnline  ChargerStatus = "ONLINE"
	ChargerStatusOffline ChargerStatus = "OFFLINE"
)

// Charger is the persistent row for a charge point that has connected to the
// proxy at least once. MaxPower is the durable per-charger current limit in
// amperes; when set, a SetChargingProfile is injected on every new session.
type Charger struct {
	ID        string        `json:"id" gorm:"primaryKey"`
	Status    ChargerStatus `json:"status"`
	LastSeen  time.Time     `json:"last_seen"`
	MaxPower  *float64      `json:"max_power,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
