package proxy

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/mocks"
)

func TestSettingsStoreLoad(t *testing.T) {
	repo := mocks.NewMockSettingsRepository()
	repo.Values[SettingTargetCsmsURL] = "wss://csms.example.com/ocpp"
	repo.Values[SettingCsmsForwardingEnabled] = "true"
	repo.Values[SettingAutoChargeEnabled] = "false"
	repo.Values[SettingDefaultIdTag] = "FLEET01"

	st := NewSettingsStore(repo, zap.NewNop())
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got := st.Current()
	if got.TargetCsmsURL != "wss://csms.example.com/ocpp" {
		t.Errorf("TargetCsmsURL = %q", got.TargetCsmsURL)
	}
	if !got.CsmsForwardingEnabled {
		t.Error("CsmsForwardingEnabled = false, want true")
	}
	if got.AutoChargeEnabled {
		t.Error("AutoChargeEnabled = true, want false")
	}
	if got.DefaultIdTag != "FLEET01" {
		t.Errorf("DefaultIdTag = %q", got.DefaultIdTag)
	}
}

func TestSettingsStoreLoadEmptyRepo(t *testing.T) {
	st := NewSettingsStore(mocks.NewMockSettingsRepository(), zap.NewNop())
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := st.Current()
	if got.TargetCsmsURL != "" || got.CsmsForwardingEnabled || got.AutoChargeEnabled {
		t.Errorf("expected zero settings, got %+v", got)
	}
}

func TestSettingsStoreUpdatePersistsThenSwaps(t *testing.T) {
	repo := mocks.NewMockSettingsRepository()
	st := NewSettingsStore(repo, zap.NewNop())

	next := Settings{
		TargetCsmsURL:         "ws://localhost:8887",
		CsmsForwardingEnabled: true,
		AutoChargeEnabled:     true,
		DefaultIdTag:          "TAG42",
	}
	if err := st.Update(context.Background(), next); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if st.Current() != next {
		t.Errorf("Current = %+v, want %+v", st.Current(), next)
	}
	if repo.Values[SettingTargetCsmsURL] != "ws://localhost:8887" {
		t.Errorf("persisted url = %q", repo.Values[SettingTargetCsmsURL])
	}
	if repo.Values[SettingAutoChargeEnabled] != "true" {
		t.Errorf("persisted autoCharge = %q", repo.Values[SettingAutoChargeEnabled])
	}
}

func TestSettingsStoreUpdateFailureKeepsSnapshot(t *testing.T) {
	repo := mocks.NewMockSettingsRepository()
	repo.SetFunc = func(ctx context.Context, key, value string) error {
		return errors.New("db down")
	}
	st := NewSettingsStore(repo, zap.NewNop())

	err := st.Update(context.Background(), Settings{TargetCsmsURL: "ws://new"})
	if err == nil {
		t.Fatal("Update succeeded, want error")
	}
	if got := st.Current(); got.TargetCsmsURL != "" {
		t.Errorf("snapshot swapped despite persistence failure: %+v", got)
	}
}

func TestUpstreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"ws://csms:9000/ocpp", "ws://csms:9000/ocpp/CP001"},
		{"ws://csms:9000/ocpp/", "ws://csms:9000/ocpp/CP001"},
		{"wss://csms", "wss://csms/CP001"},
	}
	for _, tt := range tests {
		s := Settings{TargetCsmsURL: tt.base}
		if got := s.UpstreamURL("CP001"); got != tt.want {
			t.Errorf("UpstreamURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
