package proxy

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-bridge/internal/ocpp"
)

// TxCounter issues transaction ids for transactions the proxy starts itself
// in standalone mode. Process-wide, monotonically increasing, starting at
// 100000; it does not survive restarts.
type TxCounter struct {
	n atomic.Int64
}

func NewTxCounter() *TxCounter {
	c := &TxCounter{}
	c.n.Store(99999)
	return c
}

func (c *TxCounter) Next() int64 {
	return c.n.Add(1)
}

// respondStandalone synthesizes a response for an upstream-bound request that
// cannot be forwarded or buffered. Unknown actions are dropped: the CSMS is
// absent and the charger will retry on its own schedule.
func (s *Session) respondStandalone(frame *ocpp.Frame) {
	payload, ok := s.buildStandaloneResponse(frame)
	if !ok {
		s.log.Debug("No standalone response for action, dropping request",
			zap.String("action", frame.Action),
			zap.String("message_id", frame.ID),
		)
		return
	}

	result, err := ocpp.NewResult(frame.ID, payload)
	if err != nil {
		s.log.Error("Failed to build standalone response", zap.Error(err))
		return
	}
	raw, err := result.Encode()
	if err != nil {
		s.log.Error("Failed to encode standalone response", zap.Error(err))
		return
	}

	if err := s.writeCharger(raw); err != nil {
		return
	}
	s.deps.Recorder.Record(s.id, domain.DirectionProxyResponse, string(raw))
	telemetry.ProxyResponsesTotal.WithLabelValues(frame.Action).Inc()
	s.log.Debug("Synthesized standalone response",
		zap.String("action", frame.Action),
		zap.String("message_id", frame.ID),
	)
}

type idTagInfo struct {
	Status string `json:"status"`
}

// buildStandaloneResponse implements the minimal-CSMS policy table. The
// returned bool is false for actions the proxy does not answer.
func (s *Session) buildStandaloneResponse(frame *ocpp.Frame) (interface{}, bool) {
	settings := s.deps.Settings.Current()

	switch frame.Action {
	case "BootNotification":
		return map[string]interface{}{
			"status":      "Accepted",
			"currentTime": time.Now().UTC().Format(time.RFC3339),
			"interval":    300,
		}, true

	case "Heartbeat":
		return map[string]interface{}{
			"currentTime": time.Now().UTC().Format(time.RFC3339),
		}, true

	case "Authorize":
		var req struct {
			IdTag string `json:"idTag"`
		}
		_ = json.Unmarshal(frame.Payload, &req)

		s.mu.Lock()
		_, matched := s.pendingAuthTags[req.IdTag]
		if matched {
			// Removed even when autoCharge would accept anyway: the pending
			// set doubles as an observability trail of injected starts.
			delete(s.pendingAuthTags, req.IdTag)
		}
		s.mu.Unlock()

		status := "Invalid"
		if settings.AutoChargeEnabled || matched {
			status = "Accepted"
		}
		return map[string]interface{}{"idTagInfo": idTagInfo{Status: status}}, true

	case "StatusNotification":
		var req struct {
			ConnectorId *int   `json:"connectorId"`
			Status      string `json:"status"`
		}
		_ = json.Unmarshal(frame.Payload, &req)

		if settings.AutoChargeEnabled && req.Status == "Preparing" {
			connectorID := 1
			if req.ConnectorId != nil {
				connectorID = *req.ConnectorId
			}
			s.scheduleAutoStart(connectorID, settings.DefaultIdTag)
		}
		return map[string]interface{}{}, true

	case "MeterValues":
		return map[string]interface{}{}, true

	case "StartTransaction":
		return map[string]interface{}{
			"transactionId": s.deps.TxCounter.Next(),
			"idTagInfo":     idTagInfo{Status: "Accepted"},
		}, true

	case "StopTransaction":
		return map[string]interface{}{
			"idTagInfo": idTagInfo{Status: "Accepted"},
		}, true

	default:
		return nil, false
	}
}

// scheduleAutoStart injects a RemoteStartTransaction shortly after a
// connector reports Preparing. The delay lets the StatusNotification ack
// reach the charger first.
func (s *Session) scheduleAutoStart(connectorID int, idTag string) {
	s.log.Info("Auto-charge: scheduling RemoteStartTransaction",
		zap.Int("connector_id", connectorID),
		zap.String("id_tag", idTag),
	)
	time.AfterFunc(s.opts.AutoStartDelay, func() {
		if s.isClosed() {
			return
		}
		payload := map[string]interface{}{
			"connectorId": connectorID,
			"idTag":       idTag,
		}
		if _, err := s.Inject("RemoteStartTransaction", payload); err != nil {
			s.log.Warn("Auto-charge injection failed", zap.Error(err))
		}
	})
}
