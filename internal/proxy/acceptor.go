package proxy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Acceptor terminates charger WebSocket upgrades at /ocpp/{chargePointId},
// creates one Session per charger and is the only place sessions are removed
// from the registry.
type Acceptor struct {
	registry *Registry
	chargers ports.ChargerRepository
	deps     Deps
	opts     Options
	log      *zap.Logger
}

func NewAcceptor(registry *Registry, chargers ports.ChargerRepository, deps Deps, opts Options, log *zap.Logger) *Acceptor {
	return &Acceptor{
		registry: registry,
		chargers: chargers,
		deps:     deps,
		opts:     opts,
		log:      log,
	}
}

// Start blocks serving the charger-facing WebSocket endpoint.
func (a *Acceptor) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", a.handleUpgrade)

	addr := fmt.Sprintf(":%d", port)
	a.log.Info("Starting OCPP proxy endpoint", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

// Handler exposes the acceptor as an http.Handler for tests and embedding.
func (a *Acceptor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ocpp/", a.handleUpgrade)
	return mux
}

func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	chargePointID := strings.TrimPrefix(r.URL.Path, "/ocpp/")
	if chargePointID == "" || strings.Contains(chargePointID, "/") {
		http.NotFound(w, r)
		return
	}

	// The charger's requested subprotocol and Authorization header travel
	// with the session and are replayed verbatim on every upstream connect.
	meta := HandshakeMeta{
		Authorization: r.Header.Get("Authorization"),
		Subprotocol:   firstSubprotocol(r.Header.Get("Sec-WebSocket-Protocol")),
	}

	var responseHeader http.Header
	if meta.Subprotocol != "" {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {meta.Subprotocol}}
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		a.log.Error("WebSocket upgrade failed",
			zap.String("charge_point_id", chargePointID),
			zap.Error(err),
		)
		return
	}

	// Duplicate upgrade displaces the old session: the newest socket is the
	// one the charger is actually using.
	if existing := a.registry.Lookup(chargePointID); existing != nil {
		a.log.Warn("Displacing existing session for reconnecting charger",
			zap.String("charge_point_id", chargePointID),
		)
		existing.Displace()
		a.registry.RemoveSession(existing)
	}

	session := NewSession(chargePointID, conn, meta, a.deps, a.opts)
	if err := a.registry.Add(session); err != nil {
		a.log.Error("Could not register session",
			zap.String("charge_point_id", chargePointID),
			zap.Error(err),
		)
		conn.Close()
		return
	}

	a.markOnline(chargePointID)
	a.deps.Events.ChargerConnected(chargePointID)
	telemetry.ActiveSessions.Inc()
	a.log.Info("Charger connected",
		zap.String("charge_point_id", chargePointID),
		zap.String("subprotocol", meta.Subprotocol),
	)

	session.Run()

	a.registry.RemoveSession(session)
	// A displaced handler must not mark the charger offline over the
	// replacement session that took its place.
	if !session.wasDisplaced() {
		a.markOffline(chargePointID)
		a.deps.Events.ChargerDisconnected(chargePointID)
	}
	telemetry.ActiveSessions.Dec()
	a.log.Info("Charger disconnected", zap.String("charge_point_id", chargePointID))
}

func (a *Acceptor) markOnline(chargePointID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.chargers.Upsert(ctx, &domain.Charger{
		ID:       chargePointID,
		Status:   domain.ChargerStatusOnline,
		LastSeen: time.Now(),
	})
	if err != nil {
		a.log.Warn("Failed to mark charger online",
			zap.String("charge_point_id", chargePointID),
			zap.Error(err),
		)
	}
}

func (a *Acceptor) markOffline(chargePointID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.chargers.UpdateStatus(ctx, chargePointID, domain.ChargerStatusOffline, time.Now())
	if err != nil {
		a.log.Warn("Failed to mark charger offline",
			zap.String("charge_point_id", chargePointID),
			zap.Error(err),
		)
	}
}

func firstSubprotocol(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ",")
	return strings.TrimSpace(parts[0])
}
