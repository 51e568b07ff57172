package proxy

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Charging-profile payloads as OCPP 1.6 SetChargingProfile expects them.

type chargingSchedulePeriod struct {
	StartPeriod int     `json:"startPeriod"`
	Limit       float64 `json:"limit"`
}

type chargingSchedule struct {
	ChargingRateUnit       string                   `json:"chargingRateUnit"`
	ChargingSchedulePeriod []chargingSchedulePeriod `json:"chargingSchedulePeriod"`
}

type chargingProfilePayload struct {
	ConnectorId            int              `json:"connectorId"`
	ChargingProfileId      int              `json:"chargingProfileId"`
	TransactionId          *int             `json:"transactionId,omitempty"`
	StackLevel             int              `json:"stackLevel"`
	ChargingProfilePurpose string           `json:"chargingProfilePurpose"`
	ChargingProfileKind    string           `json:"chargingProfileKind"`
	ChargingSchedule       chargingSchedule `json:"chargingSchedule"`
}

const (
	persistentProfileID = 1
	sessionProfileID    = 2
)

// maxProfilePayload is the profile re-asserted on every session start when a
// persistent limit is stored for the charger.
func maxProfilePayload(amperes float64) chargingProfilePayload {
	return chargingProfilePayload{
		ConnectorId:            0,
		ChargingProfileId:      persistentProfileID,
		StackLevel:             1,
		ChargingProfilePurpose: "ChargePointMaxProfile",
		ChargingProfileKind:    "Absolute",
		ChargingSchedule: chargingSchedule{
			ChargingRateUnit: "A",
			ChargingSchedulePeriod: []chargingSchedulePeriod{
				{StartPeriod: 0, Limit: amperes},
			},
		},
	}
}

func sessionProfilePayload(amperes float64, transactionID *int) chargingProfilePayload {
	purpose := "TxDefaultProfile"
	if transactionID != nil {
		purpose = "TxProfile"
	}
	return chargingProfilePayload{
		ConnectorId:            0,
		ChargingProfileId:      sessionProfileID,
		TransactionId:          transactionID,
		StackLevel:             1,
		ChargingProfilePurpose: purpose,
		ChargingProfileKind:    "Absolute",
		ChargingSchedule: chargingSchedule{
			ChargingRateUnit: "A",
			ChargingSchedulePeriod: []chargingSchedulePeriod{
				{StartPeriod: 0, Limit: amperes},
			},
		},
	}
}

// SetPersistentLimit writes the durable per-charger limit (nil clears it) and
// immediately injects the matching SetChargingProfile or ClearChargingProfile.
// The durable write happens first: if it fails, nothing is injected and the
// error propagates to the caller.
func (s *Session) SetPersistentLimit(ctx context.Context, amperes *float64) error {
	if err := s.deps.Chargers.SetMaxPower(ctx, s.id, amperes); err != nil {
		return fmt.Errorf("persist charger limit: %w", err)
	}

	if amperes == nil {
		_, err := s.Inject("ClearChargingProfile", map[string]interface{}{
			"id": persistentProfileID,
		})
		if err != nil {
			return err
		}
		s.log.Info("Persistent limit cleared")
		return nil
	}

	if _, err := s.Inject("SetChargingProfile", maxProfilePayload(*amperes)); err != nil {
		return err
	}
	s.log.Info("Persistent limit set", zap.Float64("amperes", *amperes))
	return nil
}

// ApplySessionLimit injects a one-shot charging profile without touching
// durable state. Uses TxProfile when a transaction id is given, else
// TxDefaultProfile.
func (s *Session) ApplySessionLimit(amperes float64, transactionID *int) (string, error) {
	return s.Inject("SetChargingProfile", sessionProfilePayload(amperes, transactionID))
}
