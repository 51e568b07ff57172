package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/mocks"
)

// harness wires an Acceptor with mock storage behind an httptest server so
// tests can drive real charger and CSMS sockets.
type harness struct {
	t        *testing.T
	registry *Registry
	chargers *mocks.MockChargerRepository
	logs     *mocks.MockMessageLogRepository
	store    *SettingsStore
	recorder *Recorder
	server   *httptest.Server
}

func newHarness(t *testing.T, settings Settings, opts Options) *harness {
	t.Helper()

	log := zap.NewNop()
	chargers := mocks.NewMockChargerRepository()
	logs := mocks.NewMockMessageLogRepository()

	settingsRepo := mocks.NewMockSettingsRepository()
	store := NewSettingsStore(settingsRepo, log)
	if err := store.Update(context.Background(), settings); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	recorder := NewRecorder(logs, 256, log)
	go recorder.Run()

	registry := NewRegistry()
	deps := Deps{
		Settings:  store,
		Chargers:  chargers,
		Recorder:  recorder,
		Events:    NewEvents(nil, nil, log),
		TxCounter: NewTxCounter(),
		Log:       log,
	}
	acceptor := NewAcceptor(registry, chargers, deps, opts, log)
	server := httptest.NewServer(acceptor.Handler())

	t.Cleanup(recorder.Close)
	t.Cleanup(server.Close)

	return &harness{
		t:        t,
		registry: registry,
		chargers: chargers,
		logs:     logs,
		store:    store,
		recorder: recorder,
		server:   server,
	}
}

func (h *harness) dialCharger(id string) *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ocpp/" + id
	dialer := websocket.Dialer{Subprotocols: []string{"ocpp1.6"}}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		h.t.Fatalf("charger dial failed: %v", err)
	}
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) waitSession(id string) *Session {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := h.registry.Lookup(id); s != nil {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.t.Fatalf("session for %s never registered", id)
	return nil
}

func waitState(t *testing.T, s *Session, want UpstreamState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session state = %s, want %s", s.State(), want)
}

// fakeCSMS is an upstream endpoint at /csms/{id} that collects received
// frames and can be toggled to refuse upgrades.
type fakeCSMS struct {
	server *httptest.Server
	frames chan []byte

	accept atomic.Bool

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newFakeCSMS(t *testing.T) *fakeCSMS {
	t.Helper()
	f := &fakeCSMS{
		frames: make(chan []byte, 64),
		conns:  make(map[string]*websocket.Conn),
	}
	f.accept.Store(true)

	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return true },
		Subprotocols: []string{"ocpp1.6", "ocpp2.0.1"},
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.accept.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/csms/")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns[id] = conn
		f.mu.Unlock()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.frames <- raw
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeCSMS) baseURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/csms"
}

func (f *fakeCSMS) conn(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		conn := f.conns[id]
		f.mu.Unlock()
		if conn != nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("CSMS never saw a connection for %s", id)
	return nil
}

func (f *fakeCSMS) nextFrame(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case raw := <-f.frames:
		return raw
	case <-time.After(timeout):
		t.Fatal("timed out waiting for upstream frame")
		return nil
	}
}

func (f *fakeCSMS) expectNoFrame(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case raw := <-f.frames:
		t.Fatalf("upstream unexpectedly received %s", raw)
	case <-time.After(wait):
	}
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) []json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read from socket failed: %v", err)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		t.Fatalf("received non-array frame %s: %v", raw, err)
	}
	return parts
}

func frameType(t *testing.T, parts []json.RawMessage) int {
	t.Helper()
	var typ int
	if err := json.Unmarshal(parts[0], &typ); err != nil {
		t.Fatalf("bad message type: %v", err)
	}
	return typ
}

func frameID(t *testing.T, parts []json.RawMessage) string {
	t.Helper()
	var id string
	if err := json.Unmarshal(parts[1], &id); err != nil {
		t.Fatalf("bad message id: %v", err)
	}
	return id
}

func callPayload(t *testing.T, parts []json.RawMessage) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(parts[3], &payload); err != nil {
		t.Fatalf("bad call payload: %v", err)
	}
	return payload
}

func resultPayload(t *testing.T, parts []json.RawMessage) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(parts[2], &payload); err != nil {
		t.Fatalf("bad result payload: %v", err)
	}
	return payload
}

func sendCall(t *testing.T, conn *websocket.Conn, id, action, payload string) {
	t.Helper()
	frame := fmt.Sprintf(`[2,%q,%q,%s]`, id, action, payload)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write to socket failed: %v", err)
	}
}

func TestForwardingBothDirections(t *testing.T) {
	csms := newFakeCSMS(t)
	h := newHarness(t, Settings{
		TargetCsmsURL:         csms.baseURL(),
		CsmsForwardingEnabled: true,
	}, Options{})

	charger := h.dialCharger("CP001")
	session := h.waitSession("CP001")
	waitState(t, session, UpstreamOpen)

	// Charger to CSMS.
	sendCall(t, charger, "m1", "Heartbeat", `{}`)
	raw := csms.nextFrame(t, 2*time.Second)
	if !strings.Contains(string(raw), `"Heartbeat"`) {
		t.Fatalf("upstream received %s, want Heartbeat call", raw)
	}

	// CSMS response back to the charger.
	upstream := csms.conn(t, "CP001")
	resp := `[3,"m1",{"currentTime":"2026-01-01T00:00:00Z"}]`
	if err := upstream.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
		t.Fatalf("CSMS write failed: %v", err)
	}
	parts := readFrame(t, charger, 2*time.Second)
	if frameType(t, parts) != 3 || frameID(t, parts) != "m1" {
		t.Fatalf("charger received %v, want CallResult m1", parts)
	}

	// CSMS-initiated call to the charger.
	call := `[2,"srv1","GetConfiguration",{}]`
	if err := upstream.WriteMessage(websocket.TextMessage, []byte(call)); err != nil {
		t.Fatalf("CSMS write failed: %v", err)
	}
	parts = readFrame(t, charger, 2*time.Second)
	if frameType(t, parts) != 2 || frameID(t, parts) != "srv1" {
		t.Fatalf("charger received %v, want Call srv1", parts)
	}
}

func TestInjectionResponseSwallowed(t *testing.T) {
	csms := newFakeCSMS(t)
	h := newHarness(t, Settings{
		TargetCsmsURL:         csms.baseURL(),
		CsmsForwardingEnabled: true,
	}, Options{})

	charger := h.dialCharger("CP002")
	session := h.waitSession("CP002")
	waitState(t, session, UpstreamOpen)

	messageID, err := session.Inject("GetConfiguration", nil)
	if err != nil {
		t.Fatalf("Inject failed: %v", err)
	}

	parts := readFrame(t, charger, 2*time.Second)
	if frameType(t, parts) != 2 || frameID(t, parts) != messageID {
		t.Fatalf("charger received %v, want injected call %s", parts, messageID)
	}

	// The charger's response to the injected call must never reach the CSMS.
	reply := fmt.Sprintf(`[3,%q,{"configurationKey":[]}]`, messageID)
	if err := charger.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		t.Fatalf("charger write failed: %v", err)
	}
	csms.expectNoFrame(t, 300*time.Millisecond)

	// Ordinary traffic still flows after the swallow.
	sendCall(t, charger, "m2", "Heartbeat", `{}`)
	raw := csms.nextFrame(t, 2*time.Second)
	if !strings.Contains(string(raw), `"Heartbeat"`) {
		t.Fatalf("upstream received %s, want Heartbeat", raw)
	}

	// The swallow leaves an INJECTION_RESPONSE trace in the message log, and
	// the same message id must never appear with direction UPSTREAM.
	swallowed := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !swallowed {
		for _, rec := range h.logs.All() {
			if rec.Direction == domain.DirectionInjectionResponse {
				swallowed = true
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !swallowed {
		t.Fatal("no INJECTION_RESPONSE record appeared in the message log")
	}
	for _, rec := range h.logs.All() {
		if rec.Direction == domain.DirectionUpstream && strings.Contains(rec.Payload, messageID) {
			t.Fatalf("swallowed response leaked into an UPSTREAM record: %s", rec.Payload)
		}
	}
}

func TestBufferedFramesFlushInOrder(t *testing.T) {
	csms := newFakeCSMS(t)
	csms.accept.Store(false)

	h := newHarness(t, Settings{
		TargetCsmsURL:         csms.baseURL(),
		CsmsForwardingEnabled: true,
	}, Options{
		ReconnectBase:        50 * time.Millisecond,
		MaxReconnectAttempts: 10,
	})

	charger := h.dialCharger("CP003")
	h.waitSession("CP003")

	sendCall(t, charger, "b1", "BootNotification", `{"chargePointVendor":"v","chargePointModel":"m"}`)
	sendCall(t, charger, "b2", "StatusNotification", `{"connectorId":1,"status":"Available","errorCode":"NoError"}`)
	sendCall(t, charger, "b3", "Heartbeat", `{}`)

	time.Sleep(30 * time.Millisecond)
	csms.accept.Store(true)

	// All three frames arrive upstream, oldest first.
	for _, wantID := range []string{"b1", "b2", "b3"} {
		raw := csms.nextFrame(t, 3*time.Second)
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			t.Fatalf("bad upstream frame %s: %v", raw, err)
		}
		if got := frameID(t, parts); got != wantID {
			t.Fatalf("upstream frame id = %s, want %s", got, wantID)
		}
	}
}

func TestGiveUpDrainsBufferToStandalone(t *testing.T) {
	csms := newFakeCSMS(t)
	csms.accept.Store(false)

	h := newHarness(t, Settings{
		TargetCsmsURL:         csms.baseURL(),
		CsmsForwardingEnabled: true,
	}, Options{
		ReconnectBase:        20 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})

	charger := h.dialCharger("CP004")
	session := h.waitSession("CP004")

	sendCall(t, charger, "boot1", "BootNotification", `{"chargePointVendor":"v","chargePointModel":"m"}`)

	waitState(t, session, UpstreamGaveUp)

	// The buffered request is answered by the standalone responder.
	parts := readFrame(t, charger, 2*time.Second)
	if frameType(t, parts) != 3 || frameID(t, parts) != "boot1" {
		t.Fatalf("charger received %v, want synthesized CallResult boot1", parts)
	}
	payload := resultPayload(t, parts)
	if payload["status"] != "Accepted" {
		t.Fatalf("BootNotification status = %v, want Accepted", payload["status"])
	}

	// Requests after the give-up are answered immediately.
	sendCall(t, charger, "hb1", "Heartbeat", `{}`)
	parts = readFrame(t, charger, 2*time.Second)
	if frameID(t, parts) != "hb1" {
		t.Fatalf("charger received %v, want Heartbeat result", parts)
	}
	if _, ok := resultPayload(t, parts)["currentTime"]; !ok {
		t.Fatal("Heartbeat result missing currentTime")
	}
}

func TestMalformedChargerFrameDroppedSessionSurvives(t *testing.T) {
	h := newHarness(t, Settings{}, Options{})

	charger := h.dialCharger("CP005")
	h.waitSession("CP005")

	if err := charger.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatalf("charger write failed: %v", err)
	}

	// The session keeps serving after the bad frame.
	sendCall(t, charger, "hb1", "Heartbeat", `{}`)
	parts := readFrame(t, charger, 2*time.Second)
	if frameID(t, parts) != "hb1" {
		t.Fatalf("charger received %v, want Heartbeat result", parts)
	}

	// The raw text was still recorded.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, rec := range h.logs.All() {
			if rec.Payload == "not json at all" {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("malformed frame was not recorded")
}

func TestPendingInjectionExpiresAfterTTL(t *testing.T) {
	csms := newFakeCSMS(t)
	h := newHarness(t, Settings{
		TargetCsmsURL:         csms.baseURL(),
		CsmsForwardingEnabled: true,
	}, Options{PendingTTL: 50 * time.Millisecond})

	charger := h.dialCharger("CP010")
	session := h.waitSession("CP010")
	waitState(t, session, UpstreamOpen)

	messageID, err := session.Inject("GetConfiguration", nil)
	if err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	parts := readFrame(t, charger, 2*time.Second)
	if frameType(t, parts) != 2 || frameID(t, parts) != messageID {
		t.Fatalf("charger received %v, want injected call %s", parts, messageID)
	}

	time.Sleep(80 * time.Millisecond)
	session.sweepExpired(time.Now())

	// Once the pending id expired the swallow window is over: a late
	// response is ordinary charger traffic and flows upstream.
	reply := fmt.Sprintf(`[3,%q,{"configurationKey":[]}]`, messageID)
	if err := charger.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		t.Fatalf("charger write failed: %v", err)
	}
	raw := csms.nextFrame(t, 2*time.Second)
	if !strings.Contains(string(raw), messageID) {
		t.Fatalf("upstream received %s, want late response %s", raw, messageID)
	}
}

func TestPendingAuthTagExpiresAfterTTL(t *testing.T) {
	h := newHarness(t, Settings{}, Options{PendingTTL: 50 * time.Millisecond})
	charger := h.dialCharger("CP011")
	session := h.waitSession("CP011")

	if _, err := session.Inject("RemoteStartTransaction", map[string]interface{}{
		"connectorId": 1,
		"idTag":       "TAG7",
	}); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	parts := readFrame(t, charger, 2*time.Second)
	if frameType(t, parts) != 2 {
		t.Fatalf("expected injected call, got %v", parts)
	}

	time.Sleep(80 * time.Millisecond)
	session.sweepExpired(time.Now())

	// The armed tag expired before the charger asked.
	sendCall(t, charger, "a1", "Authorize", `{"idTag":"TAG7"}`)
	parts = readFrame(t, charger, 2*time.Second)
	info := resultPayload(t, parts)["idTagInfo"].(map[string]interface{})
	if info["status"] != "Invalid" {
		t.Fatalf("Authorize status = %v, want Invalid after expiry", info["status"])
	}
}

func TestDuplicateUpgradeDisplacesOldSession(t *testing.T) {
	h := newHarness(t, Settings{}, Options{})

	first := h.dialCharger("CP006")
	old := h.waitSession("CP006")

	second := h.dialCharger("CP006")

	// The old session is torn down and the registry keeps exactly one entry,
	// pointing at the new session.
	select {
	case <-old.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("old session was not closed on displacement")
	}

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("old charger socket still readable after displacement")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := h.registry.Lookup("CP006"); s != nil && s != old {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	replacement := h.registry.Lookup("CP006")
	if replacement == nil || replacement == old {
		t.Fatal("registry does not hold the replacement session")
	}
	if h.registry.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", h.registry.Count())
	}

	// The new socket works.
	sendCall(t, second, "hb1", "Heartbeat", `{}`)
	parts := readFrame(t, second, 2*time.Second)
	if frameID(t, parts) != "hb1" {
		t.Fatalf("replacement socket received %v, want Heartbeat result", parts)
	}

	// The displaced handler winding down must not mark the charger offline
	// over the live replacement session.
	time.Sleep(50 * time.Millisecond)
	row, err := h.chargers.FindByID(context.Background(), "CP006")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if row.Status != domain.ChargerStatusOnline {
		t.Fatalf("charger status = %s after displacement, want %s",
			row.Status, domain.ChargerStatusOnline)
	}
}

func TestPersistentLimitReplayOnConnect(t *testing.T) {
	h := newHarness(t, Settings{}, Options{
		ProfileReplayDelay: 30 * time.Millisecond,
	})

	limit := 16.0
	h.chargers.Chargers["CP007"] = &domain.Charger{
		ID:       "CP007",
		Status:   domain.ChargerStatusOffline,
		MaxPower: &limit,
	}

	charger := h.dialCharger("CP007")

	parts := readFrame(t, charger, 2*time.Second)
	if frameType(t, parts) != 2 {
		t.Fatalf("charger received %v, want injected Call", parts)
	}
	var action string
	json.Unmarshal(parts[2], &action)
	if action != "SetChargingProfile" {
		t.Fatalf("injected action = %s, want SetChargingProfile", action)
	}
	payload := callPayload(t, parts)
	if payload["chargingProfileId"] != float64(persistentProfileID) {
		t.Errorf("chargingProfileId = %v, want %d", payload["chargingProfileId"], persistentProfileID)
	}
	if payload["chargingProfilePurpose"] != "ChargePointMaxProfile" {
		t.Errorf("purpose = %v", payload["chargingProfilePurpose"])
	}
	schedule := payload["chargingSchedule"].(map[string]interface{})
	periods := schedule["chargingSchedulePeriod"].([]interface{})
	period := periods[0].(map[string]interface{})
	if period["limit"] != 16.0 {
		t.Errorf("limit = %v, want 16", period["limit"])
	}
}

func TestInjectUnknownChargerAfterClose(t *testing.T) {
	h := newHarness(t, Settings{}, Options{})

	charger := h.dialCharger("CP008")
	session := h.waitSession("CP008")

	charger.Close()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close after charger disconnect")
	}

	if _, err := session.Inject("GetConfiguration", nil); err == nil {
		t.Fatal("Inject on closed session succeeded, want error")
	}
}
