package proxy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

// Dynamic configuration keys persisted in the proxy_settings table.
const (
	SettingTargetCsmsURL         = "targetCsmsUrl"
	SettingCsmsForwardingEnabled = "csmsForwardingEnabled"
	SettingAutoChargeEnabled     = "autoChargeEnabled"
	SettingDefaultIdTag          = "defaultIdTag"
)

// Settings is an immutable snapshot of the dynamic proxy configuration.
// Sessions read whole snapshots, never individual fields from storage.
type Settings struct {
	TargetCsmsURL         string `json:"targetCsmsUrl"`
	CsmsForwardingEnabled bool   `json:"csmsForwardingEnabled"`
	AutoChargeEnabled     bool   `json:"autoChargeEnabled"`
	DefaultIdTag          string `json:"defaultIdTag"`
}

// UpstreamURL appends the charge point id to the target CSMS base URL,
// inserting a slash when the base lacks one.
func (s Settings) UpstreamURL(chargePointID string) string {
	base := s.TargetCsmsURL
	if strings.HasSuffix(base, "/") {
		return base + chargePointID
	}
	return base + "/" + chargePointID
}

// SettingsStore loads the dynamic configuration from the settings repository
// and serves it as an atomically swapped snapshot. Updates persist first,
// then swap, so concurrent readers always see a consistent view.
type SettingsStore struct {
	repo ports.SettingsRepository
	log  *zap.Logger
	cur  atomic.Pointer[Settings]
}

func NewSettingsStore(repo ports.SettingsRepository, log *zap.Logger) *SettingsStore {
	st := &SettingsStore{repo: repo, log: log}
	st.cur.Store(&Settings{})
	return st
}

// Load reads all persisted keys and installs the snapshot. Unknown keys are
// ignored; missing keys keep their zero value.
func (st *SettingsStore) Load(ctx context.Context) error {
	rows, err := st.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load proxy settings: %w", err)
	}

	s := &Settings{
		TargetCsmsURL: rows[SettingTargetCsmsURL],
		DefaultIdTag:  rows[SettingDefaultIdTag],
	}
	if v, ok := rows[SettingCsmsForwardingEnabled]; ok {
		s.CsmsForwardingEnabled, _ = strconv.ParseBool(v)
	}
	if v, ok := rows[SettingAutoChargeEnabled]; ok {
		s.AutoChargeEnabled, _ = strconv.ParseBool(v)
	}

	st.cur.Store(s)
	st.log.Info("Proxy settings loaded",
		zap.String("target_csms_url", s.TargetCsmsURL),
		zap.Bool("forwarding_enabled", s.CsmsForwardingEnabled),
		zap.Bool("auto_charge_enabled", s.AutoChargeEnabled),
	)
	return nil
}

// Current returns the active snapshot.
func (st *SettingsStore) Current() Settings {
	return *st.cur.Load()
}

// Update persists every key and swaps the snapshot. On a persistence failure
// the old snapshot stays in place and the error propagates to the caller.
func (st *SettingsStore) Update(ctx context.Context, s Settings) error {
	pairs := map[string]string{
		SettingTargetCsmsURL:         s.TargetCsmsURL,
		SettingCsmsForwardingEnabled: strconv.FormatBool(s.CsmsForwardingEnabled),
		SettingAutoChargeEnabled:     strconv.FormatBool(s.AutoChargeEnabled),
		SettingDefaultIdTag:          s.DefaultIdTag,
	}
	for key, value := range pairs {
		if err := st.repo.Set(ctx, key, value); err != nil {
			return fmt.Errorf("persist setting %s: %w", key, err)
		}
	}

	st.cur.Store(&s)
	st.log.Info("Proxy settings updated",
		zap.String("target_csms_url", s.TargetCsmsURL),
		zap.Bool("forwarding_enabled", s.CsmsForwardingEnabled),
		zap.Bool("auto_charge_enabled", s.AutoChargeEnabled),
	)
	return nil
}
