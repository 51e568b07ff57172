package proxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-bridge/internal/ocpp"
	"github.com/seu-repo/ocpp-bridge/internal/ports"
)

// UpstreamState is the sub-state of the CSMS-side socket.
type UpstreamState int

const (
	// UpstreamAbsent means no upstream connection exists and none is being
	// attempted (forwarding disabled).
	UpstreamAbsent UpstreamState = iota
	UpstreamConnecting
	UpstreamOpen
	UpstreamWaitRetry
	// UpstreamGaveUp means all reconnect attempts failed; the standalone
	// responder services all upstream-bound requests until the session ends.
	UpstreamGaveUp
	UpstreamClosing
)

func (s UpstreamState) String() string {
	switch s {
	case UpstreamAbsent:
		return "absent"
	case UpstreamConnecting:
		return "connecting"
	case UpstreamOpen:
		return "open"
	case UpstreamWaitRetry:
		return "wait_retry"
	case UpstreamGaveUp:
		return "gave_up"
	case UpstreamClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// HandshakeMeta is the immutable snapshot of the charger's upgrade request
// that is replayed verbatim on every upstream (re)connect.
type HandshakeMeta struct {
	Authorization string
	Subprotocol   string
}

// Options tunes per-session timing and bounds.
type Options struct {
	ReconnectBase        time.Duration // delay before retry k is base << (k-1)
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration
	ProfileReplayDelay   time.Duration // wait before re-asserting a persisted limit
	AutoStartDelay       time.Duration // wait before auto RemoteStartTransaction
	EgressBufferSize     int
	PendingTTL           time.Duration // pendingInjections / pendingAuthTags lifetime
}

func (o Options) withDefaults() Options {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 3
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ProfileReplayDelay <= 0 {
		o.ProfileReplayDelay = 500 * time.Millisecond
	}
	if o.AutoStartDelay <= 0 {
		o.AutoStartDelay = 100 * time.Millisecond
	}
	if o.EgressBufferSize <= 0 {
		o.EgressBufferSize = 1024
	}
	if o.PendingTTL <= 0 {
		o.PendingTTL = 60 * time.Second
	}
	return o
}

// Deps are the collaborators a session needs; all are passed in explicitly
// by the acceptor.
type Deps struct {
	Settings  *SettingsStore
	Chargers  ports.ChargerRepository
	Recorder  *Recorder
	Events    *Events
	TxCounter *TxCounter
	Log       *zap.Logger
}

// Session mediates between one connected charger and the CSMS. It owns the
// charger socket, the optional upstream socket, the pending-injection tables,
// the egress buffer and the reconnect scheduler.
//
// The per-session mutex covers short critical sections over mutable state;
// no blocking I/O happens while it is held. Socket writes are serialized by
// per-socket write mutexes.
type Session struct {
	id   string
	meta HandshakeMeta
	deps Deps
	opts Options
	log  *zap.Logger

	charger        *websocket.Conn
	chargerWriteMu sync.Mutex

	upstreamWriteMu sync.Mutex

	mu                sync.Mutex
	upstream          *websocket.Conn
	upstreamState     UpstreamState
	attempt           int
	retryTimer        *time.Timer
	profileTimer      *time.Timer
	pendingInjections map[string]time.Time
	pendingAuthTags   map[string]time.Time
	egress            [][]byte
	firstFrameSeen    bool
	closed            bool
	displaced         bool

	done chan struct{}
}

func NewSession(chargePointID string, charger *websocket.Conn, meta HandshakeMeta, deps Deps, opts Options) *Session {
	return &Session{
		id:                chargePointID,
		meta:              meta,
		deps:              deps,
		opts:              opts.withDefaults(),
		log:               deps.Log.With(zap.String("charge_point_id", chargePointID)),
		charger:           charger,
		upstreamState:     UpstreamAbsent,
		pendingInjections: make(map[string]time.Time),
		pendingAuthTags:   make(map[string]time.Time),
		done:              make(chan struct{}),
	}
}

func (s *Session) ChargePointID() string {
	return s.id
}

// State returns the current upstream sub-state.
func (s *Session) State() UpstreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstreamState
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session until the charger socket closes. It starts the TTL
// sweeper, the initial upstream connect and the persistent-limit replay, then
// reads charger frames on the calling goroutine.
func (s *Session) Run() {
	defer s.Close()

	go s.sweepLoop()
	s.schedulePersistentLimitReplay()

	if s.deps.Settings.Current().CsmsForwardingEnabled {
		// Mark Connecting before the dial goroutine runs so frames arriving
		// in the gap are buffered, not answered standalone.
		s.mu.Lock()
		s.upstreamState = UpstreamConnecting
		s.mu.Unlock()
		go s.connectUpstream()
	}

	for {
		_, raw, err := s.charger.ReadMessage()
		if err != nil {
			if !s.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("Charger socket read error", zap.Error(err))
			}
			return
		}
		s.handleChargerFrame(raw)
	}
}

// Close tears the session down: cancels timers, closes both sockets.
// Idempotent and safe from any goroutine.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.upstreamState = UpstreamClosing
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	if s.profileTimer != nil {
		s.profileTimer.Stop()
	}
	upstream := s.upstream
	s.upstream = nil
	close(s.done)
	s.mu.Unlock()

	s.charger.Close()
	if upstream != nil {
		upstream.Close()
	}
	s.log.Info("Session closed")
}

// Displace closes the session on behalf of a newer connection for the same
// charge point. The flag is set before Close unblocks Run, so the handler
// winding down can tell displacement from a real disconnect.
func (s *Session) Displace() {
	s.mu.Lock()
	s.displaced = true
	s.mu.Unlock()
	s.Close()
}

func (s *Session) wasDisplaced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displaced
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Inject sends an operator-initiated Call to the charger as if it came from
// the CSMS. The generated message id is tracked so the charger's response is
// swallowed instead of forwarded upstream. For RemoteStartTransaction the
// idTag is remembered so a follow-up Authorize is accepted in standalone mode.
func (s *Session) Inject(action string, payload interface{}) (string, error) {
	messageID := uuid.NewString()

	frame, err := ocpp.NewCall(messageID, action, payload)
	if err != nil {
		return "", err
	}
	raw, err := frame.Encode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrChargerNotConnected
	}
	now := time.Now()
	s.pendingInjections[messageID] = now
	if action == "RemoteStartTransaction" {
		var req struct {
			IdTag string `json:"idTag"`
		}
		if err := json.Unmarshal(frame.Payload, &req); err == nil && req.IdTag != "" {
			s.pendingAuthTags[req.IdTag] = now
		}
	}
	s.mu.Unlock()

	if err := s.writeCharger(raw); err != nil {
		s.mu.Lock()
		delete(s.pendingInjections, messageID)
		s.mu.Unlock()
		return "", ErrChargerNotConnected
	}

	s.deps.Recorder.Record(s.id, domain.DirectionInjectionRequest, string(raw))
	telemetry.InjectionsTotal.WithLabelValues(action).Inc()
	s.deps.Events.Injection(s.id, action, messageID)
	s.log.Info("Injected call toward charger",
		zap.String("action", action),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}

// handleChargerFrame applies the forwarding rule for frames arriving from
// the charger.
func (s *Session) handleChargerFrame(raw []byte) {
	frame, err := ocpp.Decode(raw)
	if err != nil {
		s.log.Error("Dropping malformed frame from charger", zap.Error(err))
		s.deps.Recorder.Record(s.id, domain.DirectionUpstream, string(raw))
		return
	}

	s.markFirstFrame(frame)

	record := raw
	if encoded, err := frame.Encode(); err == nil {
		record = encoded
	}

	// Responses to injected calls are swallowed: the CSMS must never see a
	// response whose request it did not send. Swallowed frames are recorded
	// only as INJECTION_RESPONSE, never as UPSTREAM.
	if frame.IsResponse() {
		s.mu.Lock()
		_, injected := s.pendingInjections[frame.ID]
		if injected {
			delete(s.pendingInjections, frame.ID)
		}
		s.mu.Unlock()
		if injected {
			s.deps.Recorder.Record(s.id, domain.DirectionInjectionResponse, string(record))
			s.log.Debug("Swallowed injection response", zap.String("message_id", frame.ID))
			return
		}
	}

	s.deps.Recorder.Record(s.id, domain.DirectionUpstream, string(record))

	s.mu.Lock()
	state := s.upstreamState
	s.mu.Unlock()

	if state == UpstreamOpen {
		if err := s.writeUpstream(raw); err != nil {
			// A write failure counts as an upstream close: buffer the frame
			// and let the retry policy take over.
			s.log.Warn("Upstream write failed, buffering frame", zap.Error(err))
			s.bufferFrame(raw)
			s.mu.Lock()
			conn := s.upstream
			s.mu.Unlock()
			if conn != nil {
				s.upstreamClosed(conn)
			}
		}
		return
	}

	if !frame.IsRequest() {
		s.log.Debug("Dropping response while upstream unavailable",
			zap.String("message_id", frame.ID),
		)
		return
	}

	s.mu.Lock()
	buffering := s.upstreamState == UpstreamConnecting || s.upstreamState == UpstreamWaitRetry
	if buffering {
		s.bufferFrameLocked(raw)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.respondStandalone(frame)
}

func (s *Session) markFirstFrame(frame *ocpp.Frame) {
	s.mu.Lock()
	first := !s.firstFrameSeen
	s.firstFrameSeen = true
	s.mu.Unlock()
	if first {
		s.log.Info("First frame from charger", zap.String("action", frame.Action))
	}
}

func (s *Session) bufferFrame(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferFrameLocked(raw)
}

// bufferFrameLocked appends to the bounded egress buffer, dropping the oldest
// entry on overflow. Liveness beats unbounded memory here.
func (s *Session) bufferFrameLocked(raw []byte) {
	if len(s.egress) >= s.opts.EgressBufferSize {
		s.egress = s.egress[1:]
		telemetry.EgressFramesDroppedTotal.Inc()
		s.log.Warn("Egress buffer full, dropping oldest frame")
	}
	s.egress = append(s.egress, raw)
}

// writeCharger serializes writes to the charger socket. A write failure
// destroys the session.
func (s *Session) writeCharger(raw []byte) error {
	s.chargerWriteMu.Lock()
	err := s.charger.WriteMessage(websocket.TextMessage, raw)
	s.chargerWriteMu.Unlock()
	if err != nil {
		if !s.isClosed() {
			s.log.Error("Charger write failed, tearing session down", zap.Error(err))
		}
		s.Close()
	}
	return err
}

var errUpstreamUnavailable = errors.New("proxy: upstream socket unavailable")

func (s *Session) writeUpstream(raw []byte) error {
	s.mu.Lock()
	conn := s.upstream
	s.mu.Unlock()
	if conn == nil {
		return errUpstreamUnavailable
	}
	s.upstreamWriteMu.Lock()
	defer s.upstreamWriteMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// connectUpstream dials the CSMS, replaying the charger's Authorization
// header and subprotocol. TLS hostname verification is disabled: self-signed
// CSMS endpoints are permitted, verification belongs to a fronting proxy.
func (s *Session) connectUpstream() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	settings := s.deps.Settings.Current()
	if !settings.CsmsForwardingEnabled {
		s.upstreamState = UpstreamAbsent
		s.mu.Unlock()
		return
	}
	s.upstreamState = UpstreamConnecting
	s.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: s.opts.ConnectTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: true},
	}
	if s.meta.Subprotocol != "" {
		dialer.Subprotocols = []string{s.meta.Subprotocol}
	}
	header := http.Header{}
	if s.meta.Authorization != "" {
		header.Set("Authorization", s.meta.Authorization)
	}

	url := settings.UpstreamURL(s.id)
	conn, resp, err := dialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.log.Warn("Upstream connect failed",
			zap.String("url", url),
			zap.Int("attempt", s.currentAttempt()+1),
			zap.Error(err),
		)
		s.mu.Lock()
		if !s.closed {
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
		return
	}

	// Hold the upstream write lock across the Open transition and the buffer
	// flush so newly arriving charger frames queue behind the flush.
	s.upstreamWriteMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.upstreamWriteMu.Unlock()
		conn.Close()
		return
	}
	s.upstream = conn
	s.upstreamState = UpstreamOpen
	s.attempt = 0
	buffered := s.egress
	s.egress = nil
	s.mu.Unlock()

	var flushErr error
	for _, raw := range buffered {
		if flushErr = conn.WriteMessage(websocket.TextMessage, raw); flushErr != nil {
			break
		}
	}
	s.upstreamWriteMu.Unlock()

	if flushErr != nil {
		s.log.Warn("Egress flush failed", zap.Error(flushErr))
		s.upstreamClosed(conn)
		return
	}

	s.log.Info("Upstream connected",
		zap.String("url", url),
		zap.Int("flushed_frames", len(buffered)),
	)
	go s.upstreamReadLoop(conn)
}

func (s *Session) currentAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// scheduleReconnectLocked advances the retry state machine. Caller holds s.mu.
func (s *Session) scheduleReconnectLocked() {
	s.attempt++
	if s.attempt > s.opts.MaxReconnectAttempts {
		s.upstreamState = UpstreamGaveUp
		buffered := s.egress
		s.egress = nil
		s.log.Warn("Upstream reconnect attempts exhausted, entering standalone mode",
			zap.Int("max_attempts", s.opts.MaxReconnectAttempts),
		)
		if len(buffered) > 0 {
			go s.drainToStandalone(buffered)
		}
		return
	}

	s.upstreamState = UpstreamWaitRetry
	delay := s.opts.ReconnectBase << (s.attempt - 1)
	telemetry.UpstreamReconnectsTotal.Inc()
	s.log.Info("Scheduling upstream reconnect",
		zap.Int("attempt", s.attempt),
		zap.Duration("delay", delay),
	)
	s.retryTimer = time.AfterFunc(delay, s.connectUpstream)
}

// drainToStandalone answers the requests that were buffered while reconnects
// were still being attempted.
func (s *Session) drainToStandalone(buffered [][]byte) {
	for _, raw := range buffered {
		frame, err := ocpp.Decode(raw)
		if err != nil || !frame.IsRequest() {
			continue
		}
		s.respondStandalone(frame)
	}
}

// upstreamClosed handles any upstream failure that is not the session's own
// teardown. Read-loop exits and write failures can both report the same
// connection; only the first one advances the retry state machine.
func (s *Session) upstreamClosed(conn *websocket.Conn) {
	conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.upstream != conn {
		return
	}
	s.upstream = nil
	if s.deps.Settings.Current().CsmsForwardingEnabled {
		s.scheduleReconnectLocked()
	} else {
		s.upstreamState = UpstreamAbsent
	}
}

func (s *Session) upstreamReadLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !s.isClosed() {
				s.log.Info("Upstream socket closed", zap.Error(err))
			}
			s.upstreamClosed(conn)
			return
		}
		s.handleUpstreamFrame(raw)
	}
}

// handleUpstreamFrame relays CSMS frames to the charger. Decoding is for
// logging only; the raw bytes are forwarded even when malformed because the
// CSMS owns protocol semantics on its side.
func (s *Session) handleUpstreamFrame(raw []byte) {
	record := raw
	if frame, err := ocpp.Decode(raw); err != nil {
		s.log.Warn("Malformed frame from upstream, forwarding anyway", zap.Error(err))
	} else if encoded, err := frame.Encode(); err == nil {
		record = encoded
	}
	s.deps.Recorder.Record(s.id, domain.DirectionDownstream, string(record))

	if s.isClosed() {
		s.log.Warn("Charger socket closed, dropping downstream frame")
		return
	}
	s.writeCharger(raw)
}

// schedulePersistentLimitReplay re-asserts a stored per-charger current limit
// shortly after connect, giving any BootNotification exchange time to settle.
func (s *Session) schedulePersistentLimitReplay() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	charger, err := s.deps.Chargers.FindByID(ctx, s.id)
	if err != nil {
		s.log.Warn("Could not read charger row for limit replay", zap.Error(err))
		return
	}
	if charger == nil || charger.MaxPower == nil {
		return
	}

	limit := *charger.MaxPower
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.profileTimer = time.AfterFunc(s.opts.ProfileReplayDelay, func() {
		if _, err := s.Inject("SetChargingProfile", maxProfilePayload(limit)); err != nil {
			s.log.Warn("Persistent limit replay failed", zap.Error(err))
		}
	})
	s.mu.Unlock()
	s.log.Info("Persistent limit replay scheduled", zap.Float64("amperes", limit))
}

// sweepLoop purges pending injection ids and auth tags past their TTL. The
// matching-frame path may remove entries concurrently; deletes are idempotent.
func (s *Session) sweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweepExpired(time.Now())
		}
	}
}

func (s *Session) sweepExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, created := range s.pendingInjections {
		if now.Sub(created) > s.opts.PendingTTL {
			delete(s.pendingInjections, id)
		}
	}
	for tag, created := range s.pendingAuthTags {
		if now.Sub(created) > s.opts.PendingTTL {
			delete(s.pendingAuthTags, tag)
		}
	}
}
